package ingest

import (
	"time"

	"github.com/valyala/fastjson"

	"github.com/signalworks/pulse/internal/model"
)

// Field extraction orders for flat JSON payloads. Tried in sequence,
// first hit wins.
var (
	messageKeys = []string{"message", "msg", "body"}
	serviceKeys = []string{"service", "service_name", "serviceName"}
	hostKeys    = []string{"host", "hostname"}
	severityKey = []string{"severity", "level"}
	timeKeys    = []string{"timestamp", "time", "ts"}
)

// ParseFlatJSON converts an arbitrary JSON object into a canonical record.
// Scalar fields land in the attribute map so the classifier can probe for
// request/event shapes; well-known keys are lifted into record fields.
func ParseFlatJSON(v *fastjson.Value, nowMs int64) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		ID:          model.NewRecordID(),
		Source:      model.SourceJSON,
		SeverityNum: model.SeverityUnset,
		TimestampMs: nowMs,
		Raw:         v.String(),
	}

	obj, err := v.Object()
	if err != nil {
		return rec
	}

	attrs := make(map[string]interface{})
	obj.Visit(func(key []byte, val *fastjson.Value) {
		k := string(key)
		switch val.Type() {
		case fastjson.TypeString:
			attrs[k] = string(val.GetStringBytes())
		case fastjson.TypeNumber:
			if f, err := val.Float64(); err == nil {
				attrs[k] = f
			}
		case fastjson.TypeTrue:
			attrs[k] = true
		case fastjson.TypeFalse:
			attrs[k] = false
		default:
			// Nested objects/arrays are retained as JSON text.
			attrs[k] = val.String()
		}
	})
	if len(attrs) > 0 {
		rec.Attributes = attrs
	}

	rec.Message = firstString(attrs, messageKeys)
	rec.ServiceName = firstString(attrs, serviceKeys)
	rec.Host = firstString(attrs, hostKeys)
	rec.Severity = firstString(attrs, severityKey)
	rec.TraceID = firstString(attrs, []string{"trace_id", "traceId"})
	rec.SpanID = firstString(attrs, []string{"span_id", "spanId"})
	rec.CorrelationID = firstString(attrs, []string{"correlation_id", "correlationId"})

	if ts, ok := timestampFrom(attrs); ok {
		rec.TimestampMs = ts
	}

	return rec
}

// PlainTextRecord wraps a free-form text line as a canonical record.
// The classifier's fallback sends these to the raw buffer.
func PlainTextRecord(text string, nowMs int64) model.CanonicalRecord {
	return model.CanonicalRecord{
		ID:          model.NewRecordID(),
		Source:      model.SourceJSON,
		SeverityNum: model.SeverityUnset,
		TimestampMs: nowMs,
		Message:     text,
		Raw:         text,
	}
}

func firstString(attrs map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := attrs[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// timestampFrom reads the first recognizable timestamp field: epoch
// milliseconds (numbers), epoch nanoseconds (scaled down), or RFC3339.
func timestampFrom(attrs map[string]interface{}) (int64, bool) {
	for _, k := range timeKeys {
		switch v := attrs[k].(type) {
		case float64:
			n := int64(v)
			if n > 1e15 { // nanosecond epoch
				return n / 1_000_000, true
			}
			if n > 0 {
				return n, true
			}
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts.UnixMilli(), true
			}
		}
	}
	return 0, false
}
