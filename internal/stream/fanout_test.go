package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalworks/pulse/internal/model"
)

func testRecord(msg string) model.ClassifiedRecord {
	return model.ClassifiedRecord{
		CanonicalRecord: model.CanonicalRecord{
			ID:          model.NewRecordID(),
			TimestampMs: time.Now().UnixMilli(),
			Message:     msg,
		},
		Kind: model.KindLog,
	}
}

func TestHub_PublishDelivers(t *testing.T) {
	h := NewHub(nil)

	var got Envelope
	_, cancel := h.Subscribe(func(kind model.Kind, payload []byte) error {
		return json.Unmarshal(payload, &got)
	})
	defer cancel()

	h.Publish(testRecord("hello"))

	if got.Type != "record" {
		t.Fatalf("expected record envelope, got %+v", got)
	}
	if got.Record == nil || got.Record.Message != "hello" {
		t.Errorf("expected message hello, got %+v", got.Record)
	}
}

func TestHub_FailingSinkIsIsolated(t *testing.T) {
	h := NewHub(nil)

	var first, third atomic.Int32
	h.Subscribe(func(kind model.Kind, payload []byte) error {
		first.Add(1)
		return nil
	})
	h.Subscribe(func(kind model.Kind, payload []byte) error {
		return errors.New("broken pipe")
	})
	h.Subscribe(func(kind model.Kind, payload []byte) error {
		third.Add(1)
		return nil
	})

	h.Publish(testRecord("one"))

	// The failing subscriber must not affect the healthy ones.
	if first.Load() != 1 || third.Load() != 1 {
		t.Errorf("healthy subscribers missed delivery: first=%d third=%d", first.Load(), third.Load())
	}
	// And it must have been removed.
	if h.Count() != 2 {
		t.Errorf("expected failing subscriber removed, count=%d", h.Count())
	}

	h.Publish(testRecord("two"))
	if first.Load() != 2 || third.Load() != 2 {
		t.Errorf("second publish incomplete: first=%d third=%d", first.Load(), third.Load())
	}
}

func TestHub_CancelIdempotent(t *testing.T) {
	h := NewHub(nil)
	_, cancel := h.Subscribe(func(kind model.Kind, payload []byte) error { return nil })
	_, cancel2 := h.Subscribe(func(kind model.Kind, payload []byte) error { return nil })

	cancel()
	cancel()
	if h.Count() != 1 {
		t.Errorf("expected 1 subscriber after double cancel, got %d", h.Count())
	}
	cancel2()
	if h.Count() != 0 {
		t.Errorf("expected 0 subscribers, got %d", h.Count())
	}
}

func TestHub_KeepAlive(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envelopes := make(chan Envelope, 10)
	h.Subscribe(func(kind model.Kind, payload []byte) error {
		if kind != "" {
			t.Errorf("keep-alive must carry empty kind, got %q", kind)
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return err
		}
		envelopes <- env
		return nil
	})

	h.StartKeepAlive(ctx, 10*time.Millisecond)

	select {
	case env := <-envelopes:
		if env.Type != "keepalive" {
			t.Errorf("expected keepalive envelope, got %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive received")
	}
}
