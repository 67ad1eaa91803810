package ingest

import (
	"time"

	"github.com/valyala/fastjson"

	"github.com/signalworks/pulse/internal/metrics"
	"github.com/signalworks/pulse/internal/model"
	"github.com/signalworks/pulse/internal/registry"
	"github.com/signalworks/pulse/internal/store"
	"github.com/signalworks/pulse/internal/stream"
)

// Pipeline is the unified ingest orchestrator: detect, parse, enrich,
// classify, store, notify. One instance serves all entry points.
type Pipeline struct {
	parsers   fastjson.ParserPool
	store     *store.Store
	hub       *stream.Hub
	metrics   *metrics.Set
	producers *registry.Store
}

// Result reports the outcome of one ingest call. Success is false only
// when the payload could not be interpreted at the transport layer; every
// parse degradation short of that yields Success=true with fewer records.
type Result struct {
	Success bool               `json:"success"`
	Written int                `json:"written"`
	ByKind  map[model.Kind]int `json:"by_kind,omitempty"`
	Message string             `json:"message,omitempty"`
}

// New creates a pipeline. metrics and producers may be nil.
func New(st *store.Store, hub *stream.Hub, m *metrics.Set, producers *registry.Store) *Pipeline {
	return &Pipeline{
		store:     st,
		hub:       hub,
		metrics:   m,
		producers: producers,
	}
}

// Ingest runs one payload through the full pipeline. The policy for input
// that fails all structured parsers is "always yields at least a raw
// record": garbage text is retained rather than dropped.
func (p *Pipeline) Ingest(body []byte, contentType string, rctx model.RequestContext) Result {
	if p.metrics != nil {
		p.metrics.IngestRequests.Inc()
	}
	if len(body) == 0 {
		return p.failure("empty payload")
	}

	parser := p.parsers.Get()
	defer p.parsers.Put(parser)

	nowMs := time.Now().UnixMilli()
	segments := Detect(parser, body, contentType)

	result := Result{Success: true, ByKind: make(map[model.Kind]int)}
	unsupported := false

	for _, seg := range segments {
		var records []model.CanonicalRecord
		switch seg.Kind {
		case SegOtlpLogs:
			records = TransformOtlpLogs(seg.Value, nowMs)
		case SegOtlpTraces:
			records = TransformOtlpTraces(seg.Value, nowMs)
		case SegOtlpMetrics:
			records = TransformOtlpMetrics(seg.Value, nowMs)
		case SegSyslogLine:
			records = []model.CanonicalRecord{ParseSyslogLine(seg.Text, nowMs)}
		case SegFlatJSON:
			records = []model.CanonicalRecord{ParseFlatJSON(seg.Value, nowMs)}
		case SegPlainText:
			records = []model.CanonicalRecord{PlainTextRecord(seg.Text, nowMs)}
		case SegUnsupported:
			unsupported = true
			continue
		}

		for _, rec := range records {
			Enrich(&rec, rctx, nowMs)
			classified := ClassifyRecord(rec)
			p.store.Append(classified)
			if p.hub != nil {
				p.hub.Publish(classified)
			}
			if p.metrics != nil {
				p.metrics.RecordsStored.WithLabelValues(string(classified.Kind)).Inc()
			}
			result.Written++
			result.ByKind[classified.Kind]++
			p.trackProducer(rctx, classified.ServiceName)
		}
	}

	if result.Written == 0 {
		if unsupported {
			return p.failure("unsupported payload encoding: send OTLP/HTTP JSON, syslog lines, or JSON events")
		}
		return p.failure("payload produced no records")
	}
	return result
}

func (p *Pipeline) failure(msg string) Result {
	if p.metrics != nil {
		p.metrics.IngestFailures.Inc()
	}
	return Result{Success: false, Message: msg}
}

// trackProducer opportunistically refreshes the producer registry from
// ingest traffic, so dashboards can list who is sending data.
func (p *Pipeline) trackProducer(rctx model.RequestContext, service string) {
	if p.producers == nil || rctx.IP == "" {
		return
	}
	p.producers.Touch(rctx.IP, service)
}
