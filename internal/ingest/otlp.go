package ingest

import (
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/signalworks/pulse/internal/model"
)

// The OTLP adapter flattens OTLP-over-HTTP-JSON payloads into canonical
// records. Traversal is defensive throughout: a malformed resource, scope
// or item contributes zero records, never a batch failure.

// TransformOtlpLogs walks resourceLogs[].scopeLogs[].logRecords[].
func TransformOtlpLogs(v *fastjson.Value, nowMs int64) []model.CanonicalRecord {
	var out []model.CanonicalRecord
	for _, res := range v.GetArray("resourceLogs") {
		resAttrs := kvPairsToMap(res.GetArray("resource", "attributes"))
		for _, scope := range res.GetArray("scopeLogs") {
			for _, lr := range scope.GetArray("logRecords") {
				if lr == nil || lr.Type() != fastjson.TypeObject {
					continue
				}
				rec := model.CanonicalRecord{
					ID:          model.NewRecordID(),
					Source:      model.SourceOtlp,
					SeverityNum: model.SeverityUnset,
					TimestampMs: unixNanoToMs(lr.Get("timeUnixNano"), nowMs),
					Message:     string(lr.GetStringBytes("body", "stringValue")),
					TraceID:     string(lr.GetStringBytes("traceId")),
					SpanID:      string(lr.GetStringBytes("spanId")),
					Attributes:  mergeAttrs(resAttrs, kvPairsToMap(lr.GetArray("attributes"))),
					Raw:         lr.String(),
				}
				if sn := lr.Get("severityNumber"); sn != nil {
					if n, ok := numericValue(sn); ok {
						rec.SeverityNum = int(n)
					}
				}
				if st := lr.GetStringBytes("severityText"); len(st) > 0 {
					rec.Severity = string(st)
				}
				rec.ServiceName = serviceNameFrom(rec.Attributes)
				out = append(out, rec)
			}
		}
	}
	return out
}

// TransformOtlpTraces walks resourceSpans[].scopeSpans[].spans[]. Each span
// becomes a record whose message is the span name; http.* attributes are
// kept verbatim so the classifier can recognize request shapes.
func TransformOtlpTraces(v *fastjson.Value, nowMs int64) []model.CanonicalRecord {
	var out []model.CanonicalRecord
	for _, res := range v.GetArray("resourceSpans") {
		resAttrs := kvPairsToMap(res.GetArray("resource", "attributes"))
		for _, scope := range res.GetArray("scopeSpans") {
			for _, span := range scope.GetArray("spans") {
				if span == nil || span.Type() != fastjson.TypeObject {
					continue
				}
				attrs := mergeAttrs(resAttrs, kvPairsToMap(span.GetArray("attributes")))

				startNs := nanoValue(span.Get("startTimeUnixNano"))
				endNs := nanoValue(span.Get("endTimeUnixNano"))
				if startNs > 0 && endNs >= startNs {
					if _, exists := attrs["duration_ms"]; !exists {
						attrs["duration_ms"] = float64(endNs-startNs) / 1e6
					}
				}

				rec := model.CanonicalRecord{
					ID:          model.NewRecordID(),
					Source:      model.SourceOtlp,
					SeverityNum: model.SeverityUnset,
					TimestampMs: unixNanoToMs(span.Get("startTimeUnixNano"), nowMs),
					Message:     string(span.GetStringBytes("name")),
					TraceID:     string(span.GetStringBytes("traceId")),
					SpanID:      string(span.GetStringBytes("spanId")),
					Attributes:  attrs,
					Raw:         span.String(),
				}
				rec.ServiceName = serviceNameFrom(rec.Attributes)
				out = append(out, rec)
			}
		}
	}
	return out
}

// TransformOtlpMetrics walks resourceMetrics[].scopeMetrics[].metrics[].
// One record is emitted per datapoint across sum/gauge/histogram shapes.
func TransformOtlpMetrics(v *fastjson.Value, nowMs int64) []model.CanonicalRecord {
	var out []model.CanonicalRecord
	for _, res := range v.GetArray("resourceMetrics") {
		resAttrs := kvPairsToMap(res.GetArray("resource", "attributes"))
		for _, scope := range res.GetArray("scopeMetrics") {
			for _, metric := range scope.GetArray("metrics") {
				if metric == nil || metric.Type() != fastjson.TypeObject {
					continue
				}
				name := string(metric.GetStringBytes("name"))
				unit := string(metric.GetStringBytes("unit"))

				for _, shape := range []string{"sum", "gauge", "histogram"} {
					for _, dp := range metric.GetArray(shape, "dataPoints") {
						if dp == nil || dp.Type() != fastjson.TypeObject {
							continue
						}
						out = append(out, datapointRecord(name, unit, shape, dp, resAttrs, nowMs))
					}
				}
			}
		}
	}
	return out
}

func datapointRecord(name, unit, shape string, dp *fastjson.Value, resAttrs map[string]interface{}, nowMs int64) model.CanonicalRecord {
	attrs := mergeAttrs(resAttrs, kvPairsToMap(dp.GetArray("attributes")))
	attrs["metric.name"] = name
	if unit != "" {
		attrs["metric.unit"] = unit
	}

	switch shape {
	case "histogram":
		if sum, ok := numericValue(dp.Get("sum")); ok {
			attrs["metric.value"] = sum
			attrs["metric.sum"] = sum
		}
		if count, ok := numericValue(dp.Get("count")); ok {
			attrs["metric.count"] = count
		}
	default:
		if n, ok := numericValue(dp.Get("asInt")); ok {
			attrs["metric.value"] = n
		} else if n, ok := numericValue(dp.Get("asDouble")); ok {
			attrs["metric.value"] = n
		}
	}

	rec := model.CanonicalRecord{
		ID:          model.NewRecordID(),
		Source:      model.SourceOtlp,
		SeverityNum: model.SeverityUnset,
		TimestampMs: unixNanoToMs(dp.Get("timeUnixNano"), nowMs),
		Message:     name,
		Attributes:  attrs,
		Raw:         dp.String(),
	}
	rec.ServiceName = serviceNameFrom(rec.Attributes)
	return rec
}

// kvPairsToMap converts an OTLP attribute array of {key, value:{...}} pairs
// into a plain map. Malformed entries are skipped.
func kvPairsToMap(pairs []*fastjson.Value) map[string]interface{} {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		if pair == nil || pair.Type() != fastjson.TypeObject {
			continue
		}
		key := string(pair.GetStringBytes("key"))
		if key == "" {
			continue
		}
		val := pair.Get("value")
		if val == nil || val.Type() != fastjson.TypeObject {
			continue
		}
		if sv := val.Get("stringValue"); sv != nil {
			m[key] = string(sv.GetStringBytes())
		} else if iv := val.Get("intValue"); iv != nil {
			if n, ok := numericValue(iv); ok {
				m[key] = n
			}
		} else if dv := val.Get("doubleValue"); dv != nil {
			if n, ok := numericValue(dv); ok {
				m[key] = n
			}
		} else if bv := val.Get("boolValue"); bv != nil {
			if b, err := bv.Bool(); err == nil {
				m[key] = b
			}
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// mergeAttrs layers item-level attributes over resource-level ones;
// item keys win on collision.
func mergeAttrs(resource, item map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(resource)+len(item))
	for k, v := range resource {
		merged[k] = v
	}
	for k, v := range item {
		merged[k] = v
	}
	return merged
}

// serviceNameFrom applies the extraction order service.name, serviceName.
func serviceNameFrom(attrs map[string]interface{}) string {
	if attrs == nil {
		return ""
	}
	if s, ok := attrs["service.name"].(string); ok && s != "" {
		return s
	}
	if s, ok := attrs["serviceName"].(string); ok && s != "" {
		return s
	}
	return ""
}

// numericValue reads a JSON number, or a number encoded as a string the
// way OTLP-JSON encodes 64-bit integers.
func numericValue(v *fastjson.Value) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		f, err := v.Float64()
		return f, err == nil
	case fastjson.TypeString:
		f, err := strconv.ParseFloat(string(v.GetStringBytes()), 64)
		return f, err == nil
	}
	return 0, false
}

// nanoValue reads a timeUnixNano field (string or number) as int64.
func nanoValue(v *fastjson.Value) int64 {
	n, ok := numericValue(v)
	if !ok || n < 0 {
		return 0
	}
	return int64(n)
}

// unixNanoToMs converts a timeUnixNano field to epoch milliseconds,
// falling back to ingest time when absent or unparsable.
func unixNanoToMs(v *fastjson.Value, nowMs int64) int64 {
	ns := nanoValue(v)
	if ns <= 0 {
		return nowMs
	}
	return ns / 1_000_000
}
