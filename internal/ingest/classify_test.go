package ingest

import (
	"testing"

	"github.com/signalworks/pulse/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		rec  model.CanonicalRecord
		want model.Kind
	}{
		{
			name: "method plus url is a request",
			rec: withAttrs(model.CanonicalRecord{}, map[string]interface{}{
				"http.method": "GET", "http.url": "/health",
			}),
			want: model.KindRequest,
		},
		{
			name: "method plus status is a request",
			rec: withAttrs(model.CanonicalRecord{}, map[string]interface{}{
				"method": "POST", "status": float64(201),
			}),
			want: model.KindRequest,
		},
		{
			name: "method alone is not a request",
			rec: withAttrs(model.CanonicalRecord{}, map[string]interface{}{
				"method": "GET",
			}),
			want: model.KindRaw,
		},
		{
			name: "metric name with numeric value",
			rec: withAttrs(model.CanonicalRecord{}, map[string]interface{}{
				"metric.name": "cpu.usage", "metric.value": 0.92,
			}),
			want: model.KindMetric,
		},
		{
			name: "metric name without value is still a metric",
			rec: withAttrs(model.CanonicalRecord{}, map[string]interface{}{
				"metric.name": "cpu.usage",
			}),
			want: model.KindMetric,
		},
		{
			name: "syslog message is a log",
			rec:  model.CanonicalRecord{Source: model.SourceSyslog, Message: "connection established"},
			want: model.KindLog,
		},
		{
			name: "trace id makes a log",
			rec:  model.CanonicalRecord{TraceID: "abc"},
			want: model.KindLog,
		},
		{
			name: "named payload is an event",
			rec: withAttrs(model.CanonicalRecord{Source: model.SourceJSON}, map[string]interface{}{
				"name": "user.signup",
			}),
			want: model.KindEvent,
		},
		{
			name: "request beats metric",
			rec: withAttrs(model.CanonicalRecord{}, map[string]interface{}{
				"http.method": "GET", "http.url": "/x",
				"metric.name": "m", "metric.value": 1.0,
			}),
			want: model.KindRequest,
		},
		{
			name: "log beats event",
			rec: withAttrs(model.CanonicalRecord{Source: model.SourceOtlp, Message: "boot"}, map[string]interface{}{
				"name": "startup",
			}),
			want: model.KindLog,
		},
		{
			name: "nothing matches falls to raw",
			rec:  model.CanonicalRecord{Source: model.SourceJSON, Message: "plain text blob"},
			want: model.KindRaw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&tt.rec)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			// Classification is a pure function: same input, same answer.
			if again := Classify(&tt.rec); again != got {
				t.Errorf("classification not stable: %s then %s", got, again)
			}
		})
	}
}

func TestClassifyRecord_PartitionKey(t *testing.T) {
	rec := model.CanonicalRecord{
		ServiceName: "billing",
		TimestampMs: 1704067200000, // 2024-01-01T00:00:00Z
		Source:      model.SourceOtlp,
		Message:     "charge complete",
	}
	cr := ClassifyRecord(rec)
	if cr.PartitionKey != "billing/2024-01-01" {
		t.Errorf("expected partition key billing/2024-01-01, got %q", cr.PartitionKey)
	}

	anon := ClassifyRecord(model.CanonicalRecord{TimestampMs: 1704067200000})
	if anon.PartitionKey != "unknown/2024-01-01" {
		t.Errorf("expected unknown service fallback, got %q", anon.PartitionKey)
	}
}

func withAttrs(rec model.CanonicalRecord, attrs map[string]interface{}) model.CanonicalRecord {
	rec.Attributes = attrs
	return rec
}
