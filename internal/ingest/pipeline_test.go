package ingest

import (
	"testing"

	"github.com/signalworks/pulse/internal/model"
	"github.com/signalworks/pulse/internal/store"
	"github.com/signalworks/pulse/internal/stream"
)

func newTestPipeline(capacity int) (*Pipeline, *store.Store) {
	st := store.New(capacity)
	return New(st, stream.NewHub(nil), nil, nil), st
}

func TestIngest_EmptyBody(t *testing.T) {
	p, _ := newTestPipeline(10)
	res := p.Ingest(nil, "application/json", model.RequestContext{})
	if res.Success {
		t.Error("expected failure for empty body")
	}
}

func TestIngest_Protobuf(t *testing.T) {
	p, _ := newTestPipeline(10)
	res := p.Ingest([]byte("binary"), "application/x-protobuf", model.RequestContext{})
	if res.Success {
		t.Error("expected failure for protobuf payload")
	}
	if res.Written != 0 {
		t.Errorf("expected 0 written, got %d", res.Written)
	}
}

func TestIngest_SyslogLine(t *testing.T) {
	p, st := newTestPipeline(10)
	body := []byte("<134>2024-01-01T00:00:00Z host1 myapp: connection established")
	res := p.Ingest(body, "text/plain", model.RequestContext{IP: "10.0.0.5"})

	if !res.Success || res.Written != 1 {
		t.Fatalf("expected 1 written, got %+v", res)
	}
	logs := st.Recent(model.KindLog, 10)
	if len(logs) != 1 {
		t.Fatalf("expected record in log buffer, counts: %v", st.Counts())
	}
	rec := logs[0]
	if rec.Host != "host1" {
		t.Errorf("expected host1, got %q", rec.Host)
	}
	// 134 & 7 = 6 = info
	if got := rec.AttrString("severityLabel"); got != "info" {
		t.Errorf("expected severityLabel info, got %q", got)
	}
	if got := rec.AttrString("ingest.ip"); got != "10.0.0.5" {
		t.Errorf("expected ingest.ip recorded, got %q", got)
	}
	if rec.CorrelationID == "" {
		t.Error("expected correlation ID assigned")
	}
}

func TestIngest_OtlpSpanBecomesRequest(t *testing.T) {
	p, st := newTestPipeline(10)
	body := []byte(`{
		"resourceSpans": [{
			"resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "gateway"}}]},
			"scopeSpans": [{
				"spans": [{
					"traceId": "abc",
					"spanId": "def",
					"name": "GET /health",
					"startTimeUnixNano": "1704067200000000000",
					"endTimeUnixNano": "1704067200015000000",
					"attributes": [
						{"key": "http.method", "value": {"stringValue": "GET"}},
						{"key": "http.url", "value": {"stringValue": "/health"}},
						{"key": "http.status_code", "value": {"intValue": "200"}}
					]
				}]
			}]
		}]
	}`)

	res := p.Ingest(body, "application/json", model.RequestContext{})
	if !res.Success || res.Written != 1 {
		t.Fatalf("expected 1 written, got %+v", res)
	}
	if res.ByKind[model.KindRequest] != 1 {
		t.Fatalf("expected request classification, got %v", res.ByKind)
	}

	reqs := st.Recent(model.KindRequest, 10)
	rec := reqs[0]
	if rec.ServiceName != "gateway" {
		t.Errorf("expected service gateway, got %q", rec.ServiceName)
	}
	if rec.TimestampMs != 1704067200000 {
		t.Errorf("expected ts from startTimeUnixNano, got %d", rec.TimestampMs)
	}
	if dur, ok := rec.AttrNumber("duration_ms"); !ok || dur != 15 {
		t.Errorf("expected duration_ms 15, got %v (%v)", dur, ok)
	}
	if rec.PartitionKey != "gateway/2024-01-01" {
		t.Errorf("unexpected partition key %q", rec.PartitionKey)
	}
}

func TestIngest_PartialOtlpMalformation(t *testing.T) {
	p, _ := newTestPipeline(10)
	// One well-formed resource block, one garbage entry alongside it.
	body := []byte(`{
		"resourceLogs": [
			{"scopeLogs": [{"logRecords": [{"body": {"stringValue": "ok entry"}, "severityNumber": 9}]}]},
			"this is not a resource block",
			{"scopeLogs": "also wrong"}
		]
	}`)

	res := p.Ingest(body, "application/json", model.RequestContext{})
	if !res.Success {
		t.Fatalf("partial malformation must not fail the batch: %+v", res)
	}
	if res.Written != 1 {
		t.Errorf("expected the 1 valid record written, got %d", res.Written)
	}
}

func TestIngest_MixedBatchAlwaysYieldsRaw(t *testing.T) {
	p, st := newTestPipeline(10)
	// Five payload elements: two named events, three garbage strings.
	body := []byte(`[
		{"name": "user.signup", "plan": "pro"},
		{"name": "user.login"},
		"f8d9s0a junk line one",
		"more garbage here",
		"@@@@"
	]`)

	res := p.Ingest(body, "application/json", model.RequestContext{})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Written != 5 {
		t.Errorf("every element must be retained, expected 5 written, got %d", res.Written)
	}
	if res.ByKind[model.KindEvent] != 2 {
		t.Errorf("expected 2 events, got %v", res.ByKind)
	}
	if res.ByKind[model.KindRaw] != 3 {
		t.Errorf("expected 3 raw records, got %v", res.ByKind)
	}
	if got := st.Counts()[model.KindRaw]; got != 3 {
		t.Errorf("expected 3 records in raw buffer, got %d", got)
	}
}

func TestIngest_OtlpMetricDatapoints(t *testing.T) {
	p, st := newTestPipeline(10)
	body := []byte(`{
		"resourceMetrics": [{
			"scopeMetrics": [{
				"metrics": [{
					"name": "http.requests",
					"unit": "1",
					"sum": {"dataPoints": [
						{"asInt": "42", "timeUnixNano": "1704067200000000000"},
						{"asDouble": 43.5, "timeUnixNano": "1704067260000000000"}
					]}
				}]
			}]
		}]
	}`)

	res := p.Ingest(body, "application/json", model.RequestContext{})
	if res.Written != 2 {
		t.Fatalf("expected one record per datapoint, got %+v", res)
	}
	if res.ByKind[model.KindMetric] != 2 {
		t.Errorf("expected metric classification, got %v", res.ByKind)
	}

	recs := st.Recent(model.KindMetric, 10)
	if v, ok := recs[0].AttrNumber("metric.value"); !ok || v != 43.5 {
		t.Errorf("expected newest datapoint value 43.5, got %v", v)
	}
	if recs[0].AttrString("metric.name") != "http.requests" {
		t.Errorf("expected metric.name set, got %q", recs[0].AttrString("metric.name"))
	}
}

func TestIngest_HistogramWithoutSumIsMetric(t *testing.T) {
	p, st := newTestPipeline(10)
	// Histograms may legally omit sum; the datapoint must still land in
	// the metric buffer, not fall through to logs.
	body := []byte(`{
		"resourceMetrics": [{
			"scopeMetrics": [{
				"metrics": [{
					"name": "http.duration",
					"unit": "ms",
					"histogram": {"dataPoints": [
						{"count": "5", "bucketCounts": ["1", "4"], "timeUnixNano": "1704067200000000000"}
					]}
				}]
			}]
		}]
	}`)

	res := p.Ingest(body, "application/json", model.RequestContext{})
	if !res.Success || res.Written != 1 {
		t.Fatalf("expected 1 written, got %+v", res)
	}
	if res.ByKind[model.KindMetric] != 1 {
		t.Fatalf("expected metric classification, got %v", res.ByKind)
	}
	if got := st.Counts()[model.KindLog]; got != 0 {
		t.Errorf("expected log buffer untouched, got %d", got)
	}

	rec := st.Recent(model.KindMetric, 1)[0]
	if rec.AttrString("metric.name") != "http.duration" {
		t.Errorf("expected metric.name set, got %q", rec.AttrString("metric.name"))
	}
	if _, ok := rec.AttrNumber("metric.value"); ok {
		t.Error("no sum means no metric.value")
	}
	if count, ok := rec.AttrNumber("metric.count"); !ok || count != 5 {
		t.Errorf("expected metric.count 5, got %v (%v)", count, ok)
	}
}

func TestIngest_FlatJSONLog(t *testing.T) {
	p, _ := newTestPipeline(10)
	body := []byte(`{"message": "cache miss", "service": "catalog", "level": "warn", "trace_id": "t-1", "timestamp": 1704067200000}`)

	res := p.Ingest(body, "application/json", model.RequestContext{})
	if res.Written != 1 {
		t.Fatalf("expected 1 written, got %+v", res)
	}
	// trace_id present makes this a log despite the json source.
	if res.ByKind[model.KindLog] != 1 {
		t.Errorf("expected log classification, got %v", res.ByKind)
	}
}

func TestIngest_PublishesToHub(t *testing.T) {
	st := store.New(10)
	hub := stream.NewHub(nil)
	p := New(st, hub, nil, nil)

	var got []model.Kind
	_, cancel := hub.Subscribe(func(kind model.Kind, payload []byte) error {
		got = append(got, kind)
		return nil
	})
	defer cancel()

	p.Ingest([]byte(`{"name": "deploy.finished"}`), "application/json", model.RequestContext{})

	if len(got) != 1 || got[0] != model.KindEvent {
		t.Errorf("expected one event published, got %v", got)
	}
}
