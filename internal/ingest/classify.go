package ingest

import (
	"github.com/signalworks/pulse/internal/model"
)

// Classification is a pure function of the record's fields, evaluated in
// priority order. The raw kind is the universal fallback: every parsed
// record is stored somewhere.

var (
	methodKeys = []string{"http.method", "http.request.method", "method"}
	urlKeys    = []string{"http.url", "http.target", "http.route", "url", "path"}
	statusKeys = []string{"http.status_code", "status_code", "status"}
	eventKeys  = []string{"name", "event", "eventName", "event_name"}
)

// Classify assigns exactly one kind to an enriched record.
func Classify(rec *model.CanonicalRecord) model.Kind {
	// An HTTP span is a request, not a generic log: request wins ties.
	if hasAny(rec, methodKeys) && (hasAny(rec, urlKeys) || hasAny(rec, statusKeys)) {
		return model.KindRequest
	}

	// metric.name is set only by the metrics adapter, so its presence is
	// enough: datapoints without a numeric value (histograms lacking a
	// sum) are still metrics.
	if rec.AttrString("metric.name") != "" {
		return model.KindMetric
	}

	if rec.Message != "" && (rec.Source == model.SourceSyslog || rec.Source == model.SourceOtlp) {
		return model.KindLog
	}
	if rec.TraceID != "" || rec.SpanID != "" {
		return model.KindLog
	}

	if hasAny(rec, eventKeys) {
		return model.KindEvent
	}

	return model.KindRaw
}

// ClassifyRecord wraps classification with partition-key derivation.
func ClassifyRecord(rec model.CanonicalRecord) model.ClassifiedRecord {
	return model.ClassifiedRecord{
		CanonicalRecord: rec,
		Kind:            Classify(&rec),
		PartitionKey:    model.PartitionKeyFor(rec.ServiceName, rec.TimestampMs),
	}
}

func hasAny(rec *model.CanonicalRecord, keys []string) bool {
	if rec.Attributes == nil {
		return false
	}
	for _, k := range keys {
		if _, ok := rec.Attributes[k]; ok {
			return true
		}
	}
	return false
}
