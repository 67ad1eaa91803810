package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signalworks/pulse/internal/cluster"
	"github.com/signalworks/pulse/internal/model"
	"github.com/signalworks/pulse/internal/pkg/recordql"
	"github.com/signalworks/pulse/internal/store"
)

const maxBodyBytes = 16 << 20 // 16 MiB per payload

// handleIngest accepts one telemetry payload of any supported shape and
// runs it through the pipeline. The response reports what was written.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	res := s.pipeline.Ingest(body, r.Header.Get("Content-Type"), requestContext(r))

	w.Header().Set("Content-Type", "application/json")
	if !res.Success {
		if strings.Contains(res.Message, "unsupported") {
			w.WriteHeader(http.StatusUnsupportedMediaType)
		} else {
			w.WriteHeader(http.StatusBadRequest)
		}
	}
	json.NewEncoder(w).Encode(res)
}

// handleOtlp serves the standard OTLP/HTTP paths (/v1/logs, /v1/traces,
// /v1/metrics). Only the JSON encoding is accepted; protobuf clients get
// a 415 so they can fall back.
func (s *Server) handleOtlp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "protobuf") {
		http.Error(w, "Protobuf encoding not supported, use application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	res := s.pipeline.Ingest(body, ct, requestContext(r))
	if !res.Success {
		http.Error(w, res.Message, http.StatusBadRequest)
		return
	}
	// OTLP success responses are empty JSON objects.
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("{}"))
}

// handleRecords serves recency reads over one ring buffer, optionally
// filtered by time range, service, and a recordql expression.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.KindLog
	}
	if !kind.Valid() {
		http.Error(w, fmt.Sprintf("Unknown kind %q", kind), http.StatusBadRequest)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var records []model.ClassifiedRecord
	startStr, endStr := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if startStr != "" || endStr != "" {
		from, err := parseTimeMs(startStr, 0)
		if err != nil {
			http.Error(w, "Invalid start time", http.StatusBadRequest)
			return
		}
		to, err := parseTimeMs(endStr, time.Now().UnixMilli())
		if err != nil {
			http.Error(w, "Invalid end time", http.StatusBadRequest)
			return
		}
		records = s.store.Range(kind, from, to)
		// Range returns ascending; reads are newest first.
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	} else {
		records = s.store.Recent(kind, s.store.Capacity())
	}

	if svc := r.URL.Query().Get("service"); svc != "" {
		filtered := records[:0:0]
		for _, rec := range records {
			if rec.ServiceName == svc {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if q := r.URL.Query().Get("q"); q != "" {
		node, err := recordql.Parse(q)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid query: %v", err), http.StatusBadRequest)
			return
		}
		filtered := records[:0:0]
		for _, rec := range records {
			if recordql.Match(node, rec) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []model.ClassifiedRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// handleStats serves aggregate analytics over one buffer.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.KindRequest
	}
	if !kind.Valid() {
		http.Error(w, fmt.Sprintf("Unknown kind %q", kind), http.StatusBadRequest)
		return
	}

	q, err := statsQueryFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary := s.store.Summarize(kind, q)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// handleHistogram serves time-bucketed record counts.
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.KindLog
	}
	if !kind.Valid() {
		http.Error(w, fmt.Sprintf("Unknown kind %q", kind), http.StatusBadRequest)
		return
	}

	q, err := statsQueryFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var intervalMs int64
	if iv := r.URL.Query().Get("interval"); iv != "" {
		d, err := time.ParseDuration(iv)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid interval", http.StatusBadRequest)
			return
		}
		intervalMs = d.Milliseconds()
	}

	points := s.store.Histogram(kind, q.From, q.To, intervalMs, q)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

// handleCounts reports per-buffer occupancy plus live operational gauges.
func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"counts":      s.store.Counts(),
		"capacity":    s.store.Capacity(),
		"ingest_rate": s.store.IngestionRate(),
		"subscribers": s.hub.Count(),
	})
}

// handleExport streams a compressed columnar snapshot of one buffer.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.KindLog
	}
	if !kind.Valid() {
		http.Error(w, fmt.Sprintf("Unknown kind %q", kind), http.StatusBadRequest)
		return
	}

	records := s.store.Snapshot(kind)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="pulse-%s-%d.snap"`, kind, time.Now().Unix()))
	if err := s.encoder.WriteSnapshot(w, records); err != nil {
		log.Printf("EXPORT: write failed: %v", err)
	}
}

// handleStream serves live records over Server-Sent Events. A slow
// consumer never blocks ingestion: deliveries go through a buffered
// channel and are dropped when it fills.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	wanted := map[model.Kind]bool{}
	if ks := r.URL.Query().Get("kinds"); ks != "" {
		for _, k := range strings.Split(ks, ",") {
			kind := model.Kind(strings.TrimSpace(k))
			if !kind.Valid() {
				http.Error(w, fmt.Sprintf("Unknown kind %q", kind), http.StatusBadRequest)
				return
			}
			wanted[kind] = true
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan []byte, 64)
	_, cancel := s.hub.Subscribe(func(kind model.Kind, payload []byte) error {
		if kind != "" && len(wanted) > 0 && !wanted[kind] {
			return nil
		}
		select {
		case events <- payload:
		default:
			// Consumer is behind; drop rather than stall the publisher.
			if s.metrics != nil {
				s.metrics.DroppedEvents.Inc()
			}
		}
		return nil
	})
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-events:
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleFederated scatter-gathers a records query across configured peers.
func (s *Server) handleFederated(w http.ResponseWriter, r *http.Request) {
	if s.aggregator == nil {
		http.Error(w, "No peers configured", http.StatusNotImplemented)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.aggregator.Records(cluster.QueryParams{
		RawQuery: r.URL.RawQuery,
		Limit:    limit,
		Auth:     r.Header.Get("Authorization"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if records == nil {
		records = []model.ClassifiedRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// requestContext extracts the caller's network identity for enrichment.
func requestContext(r *http.Request) model.RequestContext {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		if i := strings.Index(ip, ","); i >= 0 {
			ip = ip[:i]
		}
		ip = strings.TrimSpace(ip)
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return model.RequestContext{IP: ip, UserAgent: r.Header.Get("User-Agent")}
}

// statsQueryFrom parses the shared from/to/q/service filter parameters.
// "contains" is accepted as an alias for "q".
func statsQueryFrom(r *http.Request) (store.StatsQuery, error) {
	from, err := parseTimeMs(r.URL.Query().Get("start"), 0)
	if err != nil {
		return store.StatsQuery{}, fmt.Errorf("invalid start time")
	}
	to, err := parseTimeMs(r.URL.Query().Get("end"), 0)
	if err != nil {
		return store.StatsQuery{}, fmt.Errorf("invalid end time")
	}
	substring := r.URL.Query().Get("q")
	if substring == "" {
		substring = r.URL.Query().Get("contains")
	}
	return store.StatsQuery{
		From:      from,
		To:        to,
		Substring: substring,
		Service:   r.URL.Query().Get("service"),
	}, nil
}

// parseTimeMs accepts epoch milliseconds or RFC 3339.
func parseTimeMs(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
