package analyze

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Metric describes how values of one measurement kind are printed.
type Metric struct {
	Name      string
	Unit      string
	Precision int
	Better    string // verb for a lower treatment mean
	Worse     string
}

var (
	MetricTime     = Metric{Name: "Performance", Unit: "s", Precision: 6, Better: "faster", Worse: "slower"}
	MetricMemory   = Metric{Name: "Peak Memory", Unit: " MB", Precision: 2, Better: "smaller", Worse: "larger"}
	MetricJoinSize = Metric{Name: "Final Join Size", Unit: "", Precision: 0, Better: "smaller", Worse: "larger"}
)

// MetricByName maps a command-line metric name to its Metric.
func MetricByName(name string) (Metric, bool) {
	switch strings.ToLower(name) {
	case "time", "timing", "":
		return MetricTime, true
	case "memory", "mem":
		return MetricMemory, true
	case "joins", "join", "joinsize":
		return MetricJoinSize, true
	default:
		return Metric{}, false
	}
}

func (m Metric) format(v float64) string {
	return strconv.FormatFloat(v, 'f', m.Precision, 64) + m.Unit
}

// RenderOptions control the text report.
type RenderOptions struct {
	Metric         Metric
	BaselineLabel  string
	TreatmentLabel string

	// Color highlights speedups above 1 in green and below 1 in red.
	Color bool

	// ShowStdev adds a standard deviation column per run.
	ShowStdev bool

	// BaselineFailures and TreatmentFailures count failed samples per query;
	// they are listed under the table when non-empty.
	BaselineFailures  map[string]int
	TreatmentFailures map[string]int

	// Notes are printed verbatim after the summary.
	Notes []string
}

const (
	ruleWidth    = 80
	queryWidth   = 10
	valueWidth   = 15
	stdevWidth   = 12
	speedupWidth = 10
	improveWidth = 12
	missingCell  = "MISSING"
	noValueCell  = "-"
)

// Render writes the comparison table and summary to w. Identical reports and
// options produce byte-identical output.
func Render(w io.Writer, r Report, opts RenderOptions) error {
	if opts.Metric.Name == "" {
		opts.Metric = MetricTime
	}
	if opts.BaselineLabel == "" {
		opts.BaselineLabel = "Baseline"
	}
	if opts.TreatmentLabel == "" {
		opts.TreatmentLabel = "Treatment"
	}

	green := color.New(color.FgHiGreen)
	red := color.New(color.FgHiRed)
	if opts.Color {
		green.EnableColor()
		red.EnableColor()
	} else {
		green.DisableColor()
		red.DisableColor()
	}

	bw := bufio.NewWriter(w)
	m := opts.Metric
	rule := strings.Repeat("=", ruleWidth)
	thin := strings.Repeat("-", ruleWidth)

	fmt.Fprintln(bw, rule)
	fmt.Fprintf(bw, "%s vs %s %s Analysis\n", opts.TreatmentLabel, opts.BaselineLabel, m.Name)
	fmt.Fprintln(bw, rule)

	header := []string{pad("Query", queryWidth, false), pad(opts.BaselineLabel+" Avg", valueWidth, false)}
	if opts.ShowStdev {
		header = append(header, pad("± Stdev", stdevWidth, false))
	}
	header = append(header, pad(opts.TreatmentLabel+" Avg", valueWidth, false))
	if opts.ShowStdev {
		header = append(header, pad("± Stdev", stdevWidth, false))
	}
	header = append(header, pad("Speedup", speedupWidth, false), pad("Improvement", improveWidth, false))
	fmt.Fprintln(bw, strings.TrimRight(strings.Join(header, " "), " "))
	fmt.Fprintln(bw, thin)

	for _, row := range r.Rows {
		cells := []string{pad(row.Query, queryWidth, false)}
		cells = append(cells, statCells(row.Baseline, row.MissingFrom == BaselineSide || row.MissingFrom == BothSides, m, opts.ShowStdev)...)
		cells = append(cells, statCells(row.Treatment, row.MissingFrom == TreatmentSide || row.MissingFrom == BothSides, m, opts.ShowStdev)...)

		if row.Missing {
			cells = append(cells, pad(noValueCell, speedupWidth, true), pad(noValueCell, improveWidth, true))
		} else {
			speedup := fmt.Sprintf("%.3fx", row.Speedup)
			padding := strings.Repeat(" ", max(0, speedupWidth-len(speedup)))
			switch {
			case row.Speedup > 1:
				speedup = green.Sprint(speedup)
			case row.Speedup < 1:
				speedup = red.Sprint(speedup)
			}
			cells = append(cells, padding+speedup, pad(fmt.Sprintf("%+.1f%%", row.ImprovementPct), improveWidth, true))
		}
		fmt.Fprintln(bw, strings.Join(cells, " "))
	}

	fmt.Fprintln(bw, thin)
	total := []string{pad("TOTAL", queryWidth, false), pad(m.format(r.TotalBaseline), valueWidth, true)}
	if opts.ShowStdev {
		total = append(total, pad("", stdevWidth, false))
	}
	total = append(total, pad(m.format(r.TotalTreatment), valueWidth, true))
	if opts.ShowStdev {
		total = append(total, pad("", stdevWidth, false))
	}
	total = append(total,
		pad(fmt.Sprintf("%.3fx", r.Speedup), speedupWidth, true),
		pad(fmt.Sprintf("%+.1f%%", r.ImprovementPct), improveWidth, true))
	fmt.Fprintln(bw, strings.Join(total, " "))
	fmt.Fprintln(bw, rule)

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Summary Statistics:")
	fmt.Fprintf(bw, "  Total queries: %d\n", r.Queries())
	fmt.Fprintf(bw, "  Queries in both runs: %d\n", r.Comparable())
	fmt.Fprintf(bw, "  Overall speedup: %.3fx\n", r.Speedup)
	fmt.Fprintf(bw, "  Overall improvement: %+.1f%%\n", r.ImprovementPct)
	fmt.Fprintf(bw, "  Queries where %s is %s: %d\n", opts.TreatmentLabel, m.Better, r.Wins)
	fmt.Fprintf(bw, "  Queries where %s is %s: %d\n", opts.TreatmentLabel, m.Worse, r.Losses)
	fmt.Fprintf(bw, "  Queries with no significant difference: %d\n", r.Ties)
	if r.Missing > 0 {
		fmt.Fprintf(bw, "  Queries missing from one run: %d\n", r.Missing)
	}

	if failed := failureQueries(opts.BaselineFailures, opts.TreatmentFailures); len(failed) > 0 {
		fmt.Fprintln(bw)
		fmt.Fprintln(bw, "Failed samples (excluded from averages):")
		for _, q := range failed {
			fmt.Fprintf(bw, "  %-*s %s %d, %s %d\n", queryWidth, q,
				opts.BaselineLabel, opts.BaselineFailures[q],
				opts.TreatmentLabel, opts.TreatmentFailures[q])
		}
	}

	if len(opts.Notes) > 0 {
		fmt.Fprintln(bw)
		for _, n := range opts.Notes {
			fmt.Fprintf(bw, "Note: %s\n", n)
		}
	}

	return bw.Flush()
}

func statCells(s Stat, missing bool, m Metric, showStdev bool) []string {
	if missing {
		cells := []string{pad(missingCell, valueWidth, true)}
		if showStdev {
			cells = append(cells, pad(noValueCell, stdevWidth, true))
		}
		return cells
	}
	cells := []string{pad(m.format(s.Mean), valueWidth, true)}
	if showStdev {
		cells = append(cells, pad("±"+strconv.FormatFloat(s.Stdev, 'f', m.Precision, 64), stdevWidth, true))
	}
	return cells
}

// pad aligns s within width display columns.
func pad(s string, width int, right bool) string {
	n := width - len([]rune(s))
	if n <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", n) + s
	}
	return s + strings.Repeat(" ", n)
}

func failureQueries(a, b map[string]int) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for q, n := range a {
		if n > 0 {
			seen[q] = struct{}{}
		}
	}
	for q, n := range b {
		if n > 0 {
			seen[q] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for q := range seen {
		ids = append(ids, q)
	}
	sort.Strings(ids)
	return ids
}
