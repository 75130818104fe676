// Package analyze compares two measurement runs query by query and in
// aggregate.
//
// The aggregate is weighted by duration: totals are sums of per-query means,
// so long-running queries dominate the overall speedup.
package analyze

import (
	"math"
	"sort"
)

// Stat summarizes the samples of one query in one run.
type Stat struct {
	Query string
	Mean  float64
	Stdev float64 // sample standard deviation; 0 when N < 2
	N     int
}

// Summarize computes mean and sample standard deviation.
func Summarize(query string, values []float64) Stat {
	s := Stat{Query: query, N: len(values)}
	if s.N == 0 {
		return s
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	s.Mean = sum / float64(s.N)

	if s.N < 2 {
		return s
	}
	var sq float64
	for _, v := range values {
		d := v - s.Mean
		sq += d * d
	}
	s.Stdev = math.Sqrt(sq / float64(s.N-1))
	return s
}

// Side names which run a query is absent from.
type Side int

const (
	NoSide Side = iota
	BaselineSide
	TreatmentSide
	BothSides
)

// Row is the comparison of one query.
type Row struct {
	Query          string
	Baseline       Stat
	Treatment      Stat
	Speedup        float64 // baseline mean / treatment mean; 0 when treatment is 0
	ImprovementPct float64 // relative reduction; 0 when baseline is 0
	Missing        bool
	MissingFrom    Side
}

// Report is the full comparison of two runs.
type Report struct {
	Rows []Row

	// Aggregates over comparable (non-missing) queries only
	TotalBaseline  float64
	TotalTreatment float64
	Speedup        float64
	ImprovementPct float64

	Wins    int // treatment mean strictly lower
	Losses  int // treatment mean strictly higher
	Ties    int // equal means
	Missing int
}

// Queries returns the number of distinct queries seen in either run.
func (r Report) Queries() int {
	return len(r.Rows)
}

// Comparable returns the number of queries present in both runs.
func (r Report) Comparable() int {
	return len(r.Rows) - r.Missing
}

// Speedup returns baseline/treatment, or 0 when treatment is not positive.
func Speedup(baseline, treatment float64) float64 {
	if treatment <= 0 {
		return 0
	}
	return baseline / treatment
}

// Improvement returns (baseline-treatment)/baseline*100, or 0 when baseline
// is not positive.
func Improvement(baseline, treatment float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (baseline - treatment) / baseline * 100
}

// Compare joins two runs on query id. A query with no samples in one run is
// reported as missing and excluded from totals and tallies.
func Compare(baseline, treatment map[string][]float64) Report {
	seen := make(map[string]struct{}, len(baseline)+len(treatment))
	for q := range baseline {
		seen[q] = struct{}{}
	}
	for q := range treatment {
		seen[q] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for q := range seen {
		ids = append(ids, q)
	}
	sort.Strings(ids)

	var r Report
	r.Rows = make([]Row, 0, len(ids))

	for _, q := range ids {
		row := Row{
			Query:     q,
			Baseline:  Summarize(q, baseline[q]),
			Treatment: Summarize(q, treatment[q]),
		}

		switch {
		case row.Baseline.N == 0 && row.Treatment.N == 0:
			row.Missing, row.MissingFrom = true, BothSides
		case row.Baseline.N == 0:
			row.Missing, row.MissingFrom = true, BaselineSide
		case row.Treatment.N == 0:
			row.Missing, row.MissingFrom = true, TreatmentSide
		}

		if row.Missing {
			r.Missing++
			r.Rows = append(r.Rows, row)
			continue
		}

		b, t := row.Baseline.Mean, row.Treatment.Mean
		row.Speedup = Speedup(b, t)
		row.ImprovementPct = Improvement(b, t)

		r.TotalBaseline += b
		r.TotalTreatment += t

		switch {
		case b > t:
			r.Wins++
		case b < t:
			r.Losses++
		default:
			r.Ties++
		}

		r.Rows = append(r.Rows, row)
	}

	r.Speedup = Speedup(r.TotalBaseline, r.TotalTreatment)
	r.ImprovementPct = Improvement(r.TotalBaseline, r.TotalTreatment)
	return r
}
