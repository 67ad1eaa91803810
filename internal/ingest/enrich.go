package ingest

import (
	"regexp"
	"strings"

	"github.com/signalworks/pulse/internal/model"
)

// The enrichment chain runs every canonical record through a fixed
// sequence of pure transforms. Stage order is free except that the
// severity label must be assigned before the error flag is derived.

// futureSlackMs is how far ahead of ingest time a source timestamp may
// sit before the clamp rewrites it.
const futureSlackMs = 5 * 60 * 1000

var severityLabels = [8]string{"emerg", "alert", "crit", "error", "warn", "notice", "info", "debug"}

var errorPattern = regexp.MustCompile(`(?i)(error|exception|fail(ed|ure)?)`)

// Enricher is one stage of the chain: record in, record mutated in place.
type Enricher func(rec *model.CanonicalRecord, rctx model.RequestContext, nowMs int64)

// Chain is the default enrichment sequence.
var Chain = []Enricher{
	NormalizeTimestamp,
	AttachContext,
	EnsureCorrelation,
	EnrichSeverity,
	FlagErrors,
}

// Enrich applies the default chain to a record.
func Enrich(rec *model.CanonicalRecord, rctx model.RequestContext, nowMs int64) {
	for _, stage := range Chain {
		stage(rec, rctx, nowMs)
	}
}

// NormalizeTimestamp replaces negative or far-future timestamps with
// ingest time. "Far future" is more than five minutes ahead.
func NormalizeTimestamp(rec *model.CanonicalRecord, _ model.RequestContext, nowMs int64) {
	if rec.TimestampMs < 0 || rec.TimestampMs > nowMs+futureSlackMs {
		rec.TimestampMs = nowMs
	}
}

// AttachContext merges producer transport facts into the attribute map
// without overwriting keys a parser already set.
func AttachContext(rec *model.CanonicalRecord, rctx model.RequestContext, nowMs int64) {
	setIfAbsent(rec, "receivedAt", float64(nowMs))
	if rctx.IP != "" {
		setIfAbsent(rec, "ingest.ip", rctx.IP)
	}
	if rctx.UserAgent != "" {
		setIfAbsent(rec, "ingest.ua", rctx.UserAgent)
	}
}

// EnsureCorrelation assigns a fresh correlation ID when the source
// provided none.
func EnsureCorrelation(rec *model.CanonicalRecord, _ model.RequestContext, _ int64) {
	if rec.CorrelationID == "" {
		rec.CorrelationID = model.NewCorrelationID()
	}
}

// EnrichSeverity maps numeric syslog-convention severities (0=emerg ..
// 7=debug) to a label in attributes.severityLabel. String severities
// pass through unchanged; numbers outside 0..7 label as "unknown".
func EnrichSeverity(rec *model.CanonicalRecord, _ model.RequestContext, _ int64) {
	if rec.SeverityNum != model.SeverityUnset {
		if rec.SeverityNum >= 0 && rec.SeverityNum < len(severityLabels) {
			rec.SetAttr("severityLabel", severityLabels[rec.SeverityNum])
		} else {
			rec.SetAttr("severityLabel", "unknown")
		}
		return
	}
	if rec.Severity != "" {
		rec.SetAttr("severityLabel", rec.Severity)
	}
}

// FlagErrors sets attributes.error when the severity label is an error
// class or the message looks like a failure. Must run after
// EnrichSeverity, whose output it reads.
func FlagErrors(rec *model.CanonicalRecord, _ model.RequestContext, _ int64) {
	label := strings.ToLower(rec.AttrString("severityLabel"))
	switch label {
	case "error", "crit", "alert", "emerg":
		rec.SetAttr("error", true)
		return
	}
	if rec.Message != "" && errorPattern.MatchString(rec.Message) {
		rec.SetAttr("error", true)
	}
}

func setIfAbsent(rec *model.CanonicalRecord, key string, value interface{}) {
	if rec.Attributes != nil {
		if _, exists := rec.Attributes[key]; exists {
			return
		}
	}
	rec.SetAttr(key, value)
}
