package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/signalworks/pulse/internal/model"
)

// Analytics are pure functions over a snapshot of buffer contents at call
// time. Buffer sizes are capped, so O(n log n) percentile sorts and O(n)
// histograms are acceptable without incremental indexes.

// StatsQuery bounds and filters an aggregate computation. A zero To means
// "now is unbounded"; Substring matches message or request path; Service
// scopes to one service name.
type StatsQuery struct {
	From      int64
	To        int64
	Substring string
	Service   string
}

// LatencyStats summarizes request durations in milliseconds.
type LatencyStats struct {
	Samples int     `json:"samples"`
	Avg     float64 `json:"avg"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

// GroupStat aggregates records sharing a method+path pair.
type GroupStat struct {
	Key       string  `json:"key"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Count     int     `json:"count"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
	AvgMs     float64 `json:"avg_ms"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
}

// Summary is the aggregate view over one kind's buffer within a window.
type Summary struct {
	Total        int            `json:"total"`
	Errors       int            `json:"errors"`
	ErrorRate    float64        `json:"error_rate"`
	StatusCounts map[string]int `json:"status_counts"`
	Latency      LatencyStats   `json:"latency"`
	Groups       []GroupStat    `json:"groups"`
	TopIPs       map[string]int `json:"top_ips"`
	TopServices  map[string]int `json:"top_services"`
	Partitions   map[string]int `json:"partitions"`
}

// HistogramPoint is one time bucket of record counts.
type HistogramPoint struct {
	Time  int64 `json:"time"`
	Count int   `json:"count"`
}

// Attribute extraction orders for request-shaped records.
var (
	statusAttrKeys   = []string{"http.status_code", "status_code", "status"}
	methodAttrKeys   = []string{"http.method", "http.request.method", "method"}
	pathAttrKeys     = []string{"http.url", "http.target", "http.route", "url", "path"}
	durationAttrKeys = []string{"duration_ms", "http.duration_ms", "duration"}
)

// Summarize computes aggregate stats for one kind over a time window.
func (s *Store) Summarize(kind model.Kind, q StatsQuery) Summary {
	from, to := q.From, q.To
	if to == 0 {
		to = int64(1<<63 - 1)
	}

	sum := Summary{
		StatusCounts: make(map[string]int),
		TopIPs:       make(map[string]int),
		TopServices:  make(map[string]int),
		Partitions:   make(map[string]int),
	}

	var latencies []float64
	groups := make(map[string]*GroupStat)
	groupLatencies := make(map[string][]float64)

	for _, rec := range s.Range(kind, from, to) {
		if !matchesQuery(&rec, q) {
			continue
		}
		sum.Total++
		sum.Partitions[rec.PartitionKey]++

		isErr := recordIsError(&rec)
		if isErr {
			sum.Errors++
		}
		if status := statusOf(&rec); status != "" {
			sum.StatusCounts[status]++
		}
		if ip := rec.AttrString("ingest.ip"); ip != "" {
			sum.TopIPs[ip]++
		}
		if rec.ServiceName != "" {
			sum.TopServices[rec.ServiceName]++
		}

		lat, hasLat := latencyOf(&rec)
		if hasLat {
			latencies = append(latencies, lat)
		}

		method, path := methodOf(&rec), pathOf(&rec)
		if method == "" && path == "" {
			continue
		}
		key := method + " " + path
		g, ok := groups[key]
		if !ok {
			g = &GroupStat{Key: key, Method: method, Path: path}
			groups[key] = g
		}
		g.Count++
		if isErr {
			g.Errors++
		}
		if hasLat {
			groupLatencies[key] = append(groupLatencies[key], lat)
		}
	}

	if sum.Total > 0 {
		sum.ErrorRate = float64(sum.Errors) / float64(sum.Total)
	}
	sum.Latency = latencyStats(latencies)

	for key, g := range groups {
		if g.Count > 0 {
			g.ErrorRate = float64(g.Errors) / float64(g.Count)
		}
		stats := latencyStats(groupLatencies[key])
		g.AvgMs, g.P50, g.P95 = stats.Avg, stats.P50, stats.P95
		sum.Groups = append(sum.Groups, *g)
	}
	sort.Slice(sum.Groups, func(i, j int) bool {
		return sum.Groups[i].Count > sum.Groups[j].Count
	})

	return sum
}

// Histogram buckets record counts over [from, to] at the given interval.
func (s *Store) Histogram(kind model.Kind, from, to, intervalMs int64, q StatsQuery) []HistogramPoint {
	if intervalMs <= 0 {
		intervalMs = 60_000
	}
	if to == 0 {
		to = int64(1<<63 - 1)
	}
	buckets := make(map[int64]int)
	for _, rec := range s.Range(kind, from, to) {
		if !matchesQuery(&rec, q) {
			continue
		}
		bucket := (rec.TimestampMs / intervalMs) * intervalMs
		buckets[bucket]++
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for t, c := range buckets {
		points = append(points, HistogramPoint{Time: t, Count: c})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})
	return points
}

func matchesQuery(rec *model.ClassifiedRecord, q StatsQuery) bool {
	if q.Service != "" && rec.ServiceName != q.Service {
		return false
	}
	if q.Substring != "" {
		needle := strings.ToLower(q.Substring)
		if !strings.Contains(strings.ToLower(rec.Message), needle) &&
			!strings.Contains(strings.ToLower(pathOf(rec)), needle) {
			return false
		}
	}
	return true
}

func recordIsError(rec *model.ClassifiedRecord) bool {
	if rec.Attributes != nil {
		if flag, _ := rec.Attributes["error"].(bool); flag {
			return true
		}
	}
	// 5xx statuses count as errors even without a severity-derived flag.
	return strings.HasPrefix(statusOf(rec), "5")
}

// statusOf normalizes the first status attribute to a string ("200").
func statusOf(rec *model.ClassifiedRecord) string {
	for _, key := range statusAttrKeys {
		if s := rec.AttrString(key); s != "" {
			return s
		}
		if n, ok := rec.AttrNumber(key); ok {
			return strconv.Itoa(int(n))
		}
	}
	return ""
}

func methodOf(rec *model.ClassifiedRecord) string {
	for _, key := range methodAttrKeys {
		if s := rec.AttrString(key); s != "" {
			return s
		}
	}
	return ""
}

func pathOf(rec *model.ClassifiedRecord) string {
	for _, key := range pathAttrKeys {
		if s := rec.AttrString(key); s != "" {
			return s
		}
	}
	return ""
}

func latencyOf(rec *model.ClassifiedRecord) (float64, bool) {
	for _, key := range durationAttrKeys {
		if n, ok := rec.AttrNumber(key); ok {
			return n, true
		}
	}
	return 0, false
}

func latencyStats(samples []float64) LatencyStats {
	stats := LatencyStats{Samples: len(samples)}
	if len(samples) == 0 {
		return stats
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	stats.Avg = total / float64(len(sorted))
	stats.P50 = percentile(sorted, 50)
	stats.P95 = percentile(sorted, 95)
	stats.P99 = percentile(sorted, 99)
	return stats
}

// percentile uses the nearest-rank definition: the value at index
// floor(k*n/100) of the ascending-sorted slice, clamped to valid range.
func percentile(sorted []float64, k int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := k * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
