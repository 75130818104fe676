package analyze

import (
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// runs builds baseline and treatment maps with one sample per query from
// paired slices; queries beyond the shorter slice exist in baseline only.
func runs(b, t []float64) (map[string][]float64, map[string][]float64) {
	base := make(map[string][]float64, len(b))
	treat := make(map[string][]float64, len(t))
	for i, v := range b {
		base[fmt.Sprintf("q%03d", i)] = []float64{v}
	}
	for i, v := range t {
		if i < len(b) {
			treat[fmt.Sprintf("q%03d", i)] = []float64{v}
		}
	}
	return base, treat
}

// TestProperty_SummarizeBounds checks that the mean lies within the sample
// range and the standard deviation is non-negative.
func TestProperty_SummarizeBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("mean within [min, max], stdev >= 0", prop.ForAll(
		func(values []float64) bool {
			s := Summarize("q", values)
			lo, hi := values[0], values[0]
			for _, v := range values {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			if s.Mean < lo-1e-9 || s.Mean > hi+1e-9 {
				return false
			}
			if s.Stdev < 0 {
				return false
			}
			return len(values) > 1 || s.Stdev == 0
		},
		gen.SliceOfN(8, gen.Float64Range(0.0001, 1000)),
	))

	properties.TestingRun(t)
}

// TestProperty_AggregateIsRatioOfSums checks that the overall speedup is the
// ratio of summed means over comparable queries, and that tallies partition
// exactly those queries.
func TestProperty_AggregateIsRatioOfSums(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("speedup = sum(baseline)/sum(treatment)", prop.ForAll(
		func(b, tr []float64) bool {
			base, treat := runs(b, tr)
			r := Compare(base, treat)

			var sb, st float64
			for q, vs := range treat {
				sb += base[q][0]
				st += vs[0]
			}
			if !approxEqual(r.TotalBaseline, sb) || !approxEqual(r.TotalTreatment, st) {
				return false
			}
			if st > 0 && !approxEqual(r.Speedup, sb/st) {
				return false
			}
			return r.Wins+r.Losses+r.Ties == len(treat) && r.Missing == len(base)-len(treat)
		},
		gen.SliceOfN(12, gen.Float64Range(0.001, 500)),
		gen.SliceOfN(9, gen.Float64Range(0.001, 500)),
	))

	properties.Property("swapping runs inverts per-query speedup", prop.ForAll(
		func(b, tr []float64) bool {
			base, treat := runs(b, tr)
			forward := Compare(base, treat)
			backward := Compare(treat, base)
			for i, row := range forward.Rows {
				if row.Missing {
					continue
				}
				if !approxEqual(row.Speedup*backward.Rows[i].Speedup, 1) {
					return false
				}
			}
			return forward.Wins == backward.Losses && forward.Losses == backward.Wins
		},
		gen.SliceOfN(10, gen.Float64Range(0.001, 500)),
		gen.SliceOfN(10, gen.Float64Range(0.001, 500)),
	))

	properties.TestingRun(t)
}
