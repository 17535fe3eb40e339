// Package stats tracks call outcomes per kdb+ endpoint over a sliding hour.
package stats

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Window is how long calls are kept.
const Window = time.Hour

const maxRecentErrors = 5

// Status values reported in EndpointStats.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Call represents a single round trip to an endpoint.
type Call struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// EndpointStats summarises the calls to one endpoint within the window.
type EndpointStats struct {
	Endpoint     string
	Status       string
	LastCall     time.Time
	TotalCalls   int
	SuccessRate  float64
	LatencyP50   int64 // milliseconds
	LatencyP95   int64
	LatencyP99   int64
	RecentErrors []string // newest first
}

// Tracker records calls for multiple endpoints. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	endpoints map[string][]Call
	now       func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		endpoints: make(map[string][]Call),
		now:       time.Now,
	}
}

// TrackSuccess records a successful call.
func (t *Tracker) TrackSuccess(endpoint string, latency time.Duration) {
	t.track(endpoint, Call{Success: true, Latency: latency})
}

// TrackFailure records a failed call.
func (t *Tracker) TrackFailure(endpoint string, latency time.Duration, errorMsg string) {
	t.track(endpoint, Call{Latency: latency, Error: errorMsg})
}

func (t *Tracker) track(endpoint string, call Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	call.Timestamp = now
	t.endpoints[endpoint] = prune(append(t.endpoints[endpoint], call), now)
}

// prune drops calls older than Window; calls are appended in time order.
func prune(calls []Call, now time.Time) []Call {
	cutoff := now.Add(-Window)
	for i, call := range calls {
		if call.Timestamp.After(cutoff) {
			return calls[i:]
		}
	}
	return calls[:0]
}

// Snapshot returns the statistics of every endpoint with calls in the window,
// ordered by endpoint.
func (t *Tracker) Snapshot() []EndpointStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	out := make([]EndpointStats, 0, len(t.endpoints))
	for endpoint, calls := range t.endpoints {
		calls = prune(calls, now)
		t.endpoints[endpoint] = calls
		if len(calls) == 0 {
			continue
		}
		out = append(out, summarise(endpoint, calls))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func summarise(endpoint string, calls []Call) EndpointStats {
	var successCount int
	var lastCall time.Time
	latencies := make([]int64, 0, len(calls))
	recentErrors := make([]string, 0, maxRecentErrors)

	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Success {
			successCount++
		} else if len(recentErrors) < maxRecentErrors {
			recentErrors = append(recentErrors, call.Error)
		}
		latencies = append(latencies, call.Latency.Milliseconds())
		if call.Timestamp.After(lastCall) {
			lastCall = call.Timestamp
		}
	}

	successRate := float64(successCount) / float64(len(calls))
	slices.Sort(latencies)

	status := StatusHealthy
	if successRate < 0.9 {
		status = StatusUnhealthy
	} else if successRate < 0.95 {
		status = StatusDegraded
	}

	return EndpointStats{
		Endpoint:     endpoint,
		Status:       status,
		LastCall:     lastCall,
		TotalCalls:   len(calls),
		SuccessRate:  successRate,
		LatencyP50:   percentile(latencies, 0.50),
		LatencyP95:   percentile(latencies, 0.95),
		LatencyP99:   percentile(latencies, 0.99),
		RecentErrors: recentErrors,
	}
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
