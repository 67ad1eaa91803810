package ingest

import (
	"testing"

	"github.com/signalworks/pulse/internal/model"
)

func TestNormalizeTimestamp(t *testing.T) {
	now := int64(1_700_000_000_000)

	tests := []struct {
		name string
		ts   int64
		want int64
	}{
		{"past kept", now - 60_000, now - 60_000},
		{"slightly future kept", now + 4*60_000, now + 4*60_000},
		{"far future clamped", now + 10*60_000, now},
		{"negative clamped", -5, now},
		{"zero kept", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := model.CanonicalRecord{TimestampMs: tt.ts, SeverityNum: model.SeverityUnset}
			NormalizeTimestamp(&rec, model.RequestContext{}, now)
			if rec.TimestampMs != tt.want {
				t.Errorf("expected ts %d, got %d", tt.want, rec.TimestampMs)
			}
		})
	}
}

func TestEnrichSeverity(t *testing.T) {
	tests := []struct {
		name      string
		num       int
		str       string
		wantLabel string
	}{
		{"numeric 0 emerg", 0, "", "emerg"},
		{"numeric 3 error", 3, "", "error"},
		{"numeric 6 info", 6, "", "info"},
		{"numeric 7 debug", 7, "", "debug"},
		{"out of range high", 42, "", "unknown"},
		{"string passthrough", model.SeverityUnset, "WARNING", "WARNING"},
		{"unset no label", model.SeverityUnset, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := model.CanonicalRecord{SeverityNum: tt.num, Severity: tt.str}
			EnrichSeverity(&rec, model.RequestContext{}, 0)
			if got := rec.AttrString("severityLabel"); got != tt.wantLabel {
				t.Errorf("expected label %q, got %q", tt.wantLabel, got)
			}
		})
	}
}

func TestFlagErrors(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		message string
		want    bool
	}{
		{"error label", "error", "all fine", true},
		{"crit label", "crit", "", true},
		{"uppercase label", "ERROR", "", true},
		{"info label clean message", "info", "user logged in", false},
		{"failure in message", "info", "connection failed: timeout", true},
		{"exception in message", "", "Unhandled Exception in worker", true},
		{"clean", "", "all good", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := model.CanonicalRecord{Message: tt.message, SeverityNum: model.SeverityUnset}
			if tt.label != "" {
				rec.SetAttr("severityLabel", tt.label)
			}
			FlagErrors(&rec, model.RequestContext{}, 0)
			got, _ := rec.Attributes["error"].(bool)
			if got != tt.want {
				t.Errorf("expected error=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestSeverityRoundTrip(t *testing.T) {
	// A severity 3 record must come out labeled "error" and flagged.
	rec := model.CanonicalRecord{SeverityNum: 3, Message: "disk check"}
	Enrich(&rec, model.RequestContext{}, 1000)

	if got := rec.AttrString("severityLabel"); got != "error" {
		t.Errorf("expected label error, got %q", got)
	}
	if flagged, _ := rec.Attributes["error"].(bool); !flagged {
		t.Error("expected error flag to be set")
	}
}

func TestEnsureCorrelation(t *testing.T) {
	rec := model.CanonicalRecord{SeverityNum: model.SeverityUnset}
	EnsureCorrelation(&rec, model.RequestContext{}, 0)
	if rec.CorrelationID == "" {
		t.Fatal("expected a correlation ID to be assigned")
	}

	keep := model.CanonicalRecord{CorrelationID: "abc123", SeverityNum: model.SeverityUnset}
	EnsureCorrelation(&keep, model.RequestContext{}, 0)
	if keep.CorrelationID != "abc123" {
		t.Errorf("existing correlation ID overwritten: %q", keep.CorrelationID)
	}
}

func TestAttachContext(t *testing.T) {
	rctx := model.RequestContext{IP: "10.0.0.1", UserAgent: "pulse-sdk/1.0"}

	rec := model.CanonicalRecord{SeverityNum: model.SeverityUnset}
	AttachContext(&rec, rctx, 5000)

	if got := rec.AttrString("ingest.ip"); got != "10.0.0.1" {
		t.Errorf("expected ingest.ip 10.0.0.1, got %q", got)
	}
	if got := rec.AttrString("ingest.ua"); got != "pulse-sdk/1.0" {
		t.Errorf("expected ingest.ua pulse-sdk/1.0, got %q", got)
	}
	if got, ok := rec.AttrNumber("receivedAt"); !ok || got != 5000 {
		t.Errorf("expected receivedAt 5000, got %v (%v)", got, ok)
	}

	// Parser-set keys win over transport facts.
	preset := model.CanonicalRecord{SeverityNum: model.SeverityUnset}
	preset.SetAttr("ingest.ip", "192.168.1.1")
	AttachContext(&preset, rctx, 5000)
	if got := preset.AttrString("ingest.ip"); got != "192.168.1.1" {
		t.Errorf("expected parser-set ingest.ip preserved, got %q", got)
	}
}
