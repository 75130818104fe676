// Package observability provides per-run outcome tracking for measurement runs.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Outcome classifies how a single engine invocation ended.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeError        Outcome = "error"
	OutcomeParseFailure Outcome = "parse_failure"
)

// RunStats counts invocation outcomes per query for one run.
type RunStats struct {
	mu      sync.RWMutex
	queries map[string]*QueryOutcomes
	started time.Time
}

// QueryOutcomes holds the outcome counters of one query.
type QueryOutcomes struct {
	Query        string
	Success      int64
	Timeout      int64
	Error        int64
	ParseFailure int64
	LastSeen     time.Time
	Elapsed      time.Duration // summed over all invocations
}

// Failures returns the number of unsuccessful invocations.
func (q QueryOutcomes) Failures() int64 {
	return q.Timeout + q.Error + q.ParseFailure
}

// Total returns the number of recorded invocations.
func (q QueryOutcomes) Total() int64 {
	return q.Success + q.Failures()
}

// NewRunStats creates an empty tracker.
func NewRunStats() *RunStats {
	return &RunStats{
		queries: make(map[string]*QueryOutcomes),
		started: time.Now(),
	}
}

// Record adds one invocation outcome for query.
// This method is O(1) and thread-safe.
func (r *RunStats) Record(query string, outcome Outcome, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, exists := r.queries[query]
	if !exists {
		q = &QueryOutcomes{Query: query}
		r.queries[query] = q
	}

	switch outcome {
	case OutcomeSuccess:
		q.Success++
	case OutcomeTimeout:
		q.Timeout++
	case OutcomeParseFailure:
		q.ParseFailure++
	default:
		q.Error++
	}
	q.Elapsed += elapsed
	q.LastSeen = time.Now()
}

// Summary returns a copy of all counters, most failures first, ties by query id.
func (r *RunStats) Summary() []QueryOutcomes {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]QueryOutcomes, 0, len(r.queries))
	for _, q := range r.queries {
		out = append(out, *q)
	}

	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i].Failures(), out[j].Failures()
		if fi != fj {
			return fi > fj
		}
		return out[i].Query < out[j].Query
	})
	return out
}

// Totals sums the counters across all queries.
func (r *RunStats) Totals() QueryOutcomes {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var t QueryOutcomes
	for _, q := range r.queries {
		t.Success += q.Success
		t.Timeout += q.Timeout
		t.Error += q.Error
		t.ParseFailure += q.ParseFailure
		t.Elapsed += q.Elapsed
		if q.LastSeen.After(t.LastSeen) {
			t.LastSeen = q.LastSeen
		}
	}
	return t
}

// Uptime returns the time since the tracker was created.
func (r *RunStats) Uptime() time.Duration {
	return time.Since(r.started)
}
