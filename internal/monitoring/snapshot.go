package monitoring

import (
	"sort"
	"time"
)

// EndpointSnapshot is the per-endpoint breakdown in a dashboard snapshot.
type EndpointSnapshot struct {
	Endpoint     string  `json:"endpoint"`
	RequestCount int64   `json:"request_count"`
	ErrorCount   int64   `json:"error_count"`
	TimeoutCount int64   `json:"timeout_count"`
	CacheHits    int64   `json:"cache_hits"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
}

// ClassificationSnapshot carries the detection label tallies.
type ClassificationSnapshot struct {
	Total int64 `json:"total_detections"`
	AI    int64 `json:"ai_detected"`
	Human int64 `json:"human_detected"`
}

// Snapshot is the read-only dashboard payload. Building it never mutates
// aggregator state.
type Snapshot struct {
	TotalRequests   int64                  `json:"total_requests"`
	ErrorRate       float64                `json:"error_rate"`
	AvgLatencyMS    float64                `json:"avg_latency_ms"`
	P95LatencyMS    float64                `json:"p95_latency_ms"`
	UptimeSeconds   float64                `json:"uptime_seconds"`
	Endpoints       []EndpointSnapshot     `json:"endpoint_breakdown"`
	Classifications ClassificationSnapshot `json:"detection_metrics"`
	RecentErrors    []ErrorEvent           `json:"recent_errors"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// Snapshot assembles the current dashboard view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	names := make([]string, 0, len(a.endpoints))
	stats := make(map[string]*endpointStats, len(a.endpoints))
	for name, st := range a.endpoints {
		names = append(names, name)
		stats[name] = st
	}
	a.mu.RUnlock()
	sort.Strings(names)

	snap := Snapshot{GeneratedAt: a.now()}
	snap.UptimeSeconds = snap.GeneratedAt.Sub(a.startedAt).Seconds()

	var totalErrors int64
	var weightedMean float64
	var globalP95 float64

	for _, name := range names {
		st := stats[name]

		st.mu.Lock()
		ep := EndpointSnapshot{
			Endpoint:     name,
			RequestCount: st.requests,
			ErrorCount:   st.errors,
			TimeoutCount: st.timeouts,
			CacheHits:    st.cacheHits,
			AvgLatencyMS: st.latency.mean(),
			P95LatencyMS: st.latency.percentile(95),
		}
		st.mu.Unlock()

		if ep.RequestCount > 0 {
			ep.ErrorRate = float64(ep.ErrorCount) / float64(ep.RequestCount) * 100
		}

		snap.TotalRequests += ep.RequestCount
		totalErrors += ep.ErrorCount
		weightedMean += ep.AvgLatencyMS * float64(ep.RequestCount)
		if ep.P95LatencyMS > globalP95 {
			globalP95 = ep.P95LatencyMS
		}

		snap.Endpoints = append(snap.Endpoints, ep)
	}

	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalRequests) * 100
		snap.AvgLatencyMS = weightedMean / float64(snap.TotalRequests)
	}
	snap.P95LatencyMS = globalP95

	a.classMu.Lock()
	snap.Classifications = ClassificationSnapshot{
		Total: a.aiCount + a.humans,
		AI:    a.aiCount,
		Human: a.humans,
	}
	a.classMu.Unlock()

	snap.RecentErrors = a.recentErrors()
	return snap
}

// recentErrors returns ring contents newest-first.
func (a *Aggregator) recentErrors() []ErrorEvent {
	a.errMu.Lock()
	defer a.errMu.Unlock()

	size := a.errNext
	if a.errFilled {
		size = len(a.errRing)
	}
	if size == 0 {
		return nil
	}

	out := make([]ErrorEvent, 0, size)
	// Walk backwards from the most recent write position.
	idx := a.errNext
	for i := 0; i < size; i++ {
		idx--
		if idx < 0 {
			idx = len(a.errRing) - 1
		}
		out = append(out, a.errRing[idx])
	}
	return out
}
