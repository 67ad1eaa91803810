package model

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// Kind is the canonical category assigned to every ingested record.
// It decides which ring buffer the record lands in.
type Kind string

const (
	KindRequest Kind = "request"
	KindLog     Kind = "log"
	KindEvent   Kind = "event"
	KindMetric  Kind = "metric"
	KindRaw     Kind = "raw"
)

// AllKinds returns the five record kinds in a stable order.
func AllKinds() []Kind {
	return []Kind{KindRequest, KindLog, KindEvent, KindMetric, KindRaw}
}

// Valid reports whether k is one of the five known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindLog, KindEvent, KindMetric, KindRaw:
		return true
	}
	return false
}

// Record sources.
const (
	SourceSyslog = "syslog"
	SourceOtlp   = "otlp"
	SourceJSON   = "json"
)

// SeverityUnset marks the absence of a numeric severity.
const SeverityUnset = -1

// CanonicalRecord is the normalized view of a single telemetry item,
// produced by the parsers and consumed by enrichment and classification.
type CanonicalRecord struct {
	ID          string `json:"id"`
	TimestampMs int64  `json:"timestamp_ms"`
	Source      string `json:"source"`
	Message     string `json:"message,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Host        string `json:"host,omitempty"`
	App         string `json:"app,omitempty"`

	// Severity is the string form as provided by the source (if any).
	// SeverityNum carries numeric syslog/OTLP severities; SeverityUnset
	// means the source provided none.
	Severity    string `json:"severity,omitempty"`
	SeverityNum int    `json:"severity_num,omitempty"`

	TraceID       string `json:"trace_id,omitempty"`
	SpanID        string `json:"span_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Attributes merges resource-level and item-level key/value pairs.
	// Item-level keys win on collision.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// Raw retains the original payload fragment for detail views.
	Raw string `json:"raw,omitempty"`
}

// ClassifiedRecord is a CanonicalRecord with its kind assigned. The kind
// is set exactly once by the classifier and never changes afterwards.
type ClassifiedRecord struct {
	CanonicalRecord
	Kind         Kind   `json:"kind"`
	PartitionKey string `json:"partition_key"`
}

// RequestContext carries transport-level facts about the producer that
// submitted a payload. Attached to records during enrichment.
type RequestContext struct {
	IP        string
	UserAgent string
}

// NewRecordID returns an 8-byte random hex identifier, unique within a
// process lifetime.
func NewRecordID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewCorrelationID returns a 16-byte random hex token (~128 bits of
// entropy), used when a record arrives without a correlation identifier.
func NewCorrelationID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// PartitionKeyFor derives the stats grouping key for a record:
// serviceName/YYYY-MM-DD in UTC, with "unknown" for nameless services.
func PartitionKeyFor(service string, timestampMs int64) string {
	if service == "" {
		service = "unknown"
	}
	day := time.UnixMilli(timestampMs).UTC().Format("2006-01-02")
	return service + "/" + day
}

// AttrString returns a string attribute, or "" when absent or non-string.
func (r *CanonicalRecord) AttrString(key string) string {
	if r.Attributes == nil {
		return ""
	}
	if s, ok := r.Attributes[key].(string); ok {
		return s
	}
	return ""
}

// AttrNumber returns a numeric attribute as float64. Integer and float
// values both qualify; everything else reports false.
func (r *CanonicalRecord) AttrNumber(key string) (float64, bool) {
	if r.Attributes == nil {
		return 0, false
	}
	switch v := r.Attributes[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Getter views used by filter evaluation (recordql.Record).

func (r ClassifiedRecord) GetKind() string          { return string(r.Kind) }
func (r ClassifiedRecord) GetService() string       { return r.ServiceName }
func (r ClassifiedRecord) GetHost() string          { return r.Host }
func (r ClassifiedRecord) GetApp() string           { return r.App }
func (r ClassifiedRecord) GetMessage() string       { return r.Message }
func (r ClassifiedRecord) GetSeverityLabel() string { return r.AttrString("severityLabel") }
func (r ClassifiedRecord) GetTraceID() string       { return r.TraceID }
func (r ClassifiedRecord) GetCorrelationID() string { return r.CorrelationID }

// GetAttr stringifies an attribute value for filter matching.
func (r ClassifiedRecord) GetAttr(key string) string {
	if s := r.AttrString(key); s != "" {
		return s
	}
	if n, ok := r.AttrNumber(key); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	if r.Attributes != nil {
		if b, ok := r.Attributes[key].(bool); ok {
			return strconv.FormatBool(b)
		}
	}
	return ""
}

// SetAttr initializes the attribute map if needed and stores the value.
func (r *CanonicalRecord) SetAttr(key string, value interface{}) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]interface{})
	}
	r.Attributes[key] = value
}
