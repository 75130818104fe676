package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/arkilian/rptbench/internal/analyze"
	"github.com/arkilian/rptbench/internal/archive"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/results"
)

// Default comparison inputs.
const (
	DefaultBaselinePath  = "results/ssb_baseline.csv"
	DefaultTreatmentPath = "results/ssb_rpt.csv"
)

// CompareOptions control a comparison.
type CompareOptions struct {
	// Metric is time, memory or joins
	Metric    string
	Color     bool
	ShowStdev bool
}

// side is one run's analyzer input.
type side struct {
	label    string
	values   map[string][]float64
	failures map[string]int
	notes    []string
}

func (o CompareOptions) metric() (analyze.Metric, error) {
	m, ok := analyze.MetricByName(o.Metric)
	if !ok {
		return analyze.Metric{}, berrors.NewConfigError(fmt.Sprintf("unknown metric %q (must be time, memory or joins)", o.Metric))
	}
	return m, nil
}

// CompareFiles loads two result files and writes the report to w. The
// report labels come from the files' mode column.
func CompareFiles(w io.Writer, baselinePath, treatmentPath string, opts CompareOptions) (analyze.Report, error) {
	metric, err := opts.metric()
	if err != nil {
		return analyze.Report{}, err
	}
	if baselinePath == "" {
		baselinePath = DefaultBaselinePath
	}
	if treatmentPath == "" {
		treatmentPath = DefaultTreatmentPath
	}

	base, err := loadFile(metric, baselinePath, "Baseline")
	if err != nil {
		return analyze.Report{}, err
	}
	treat, err := loadFile(metric, treatmentPath, "Treatment")
	if err != nil {
		return analyze.Report{}, err
	}
	return render(w, metric, base, treat, nil, opts)
}

// CompareRuns compares two archived runs. Runs may be given by id prefix.
func CompareRuns(ctx context.Context, w io.Writer, arch *archive.Archive, baselineID, treatmentID string, opts CompareOptions) (analyze.Report, error) {
	metric, err := opts.metric()
	if err != nil {
		return analyze.Report{}, err
	}

	baseRun, err := arch.GetRun(ctx, baselineID)
	if err != nil {
		return analyze.Report{}, err
	}
	treatRun, err := arch.GetRun(ctx, treatmentID)
	if err != nil {
		return analyze.Report{}, err
	}

	base, err := loadRun(ctx, arch, metric, baseRun)
	if err != nil {
		return analyze.Report{}, err
	}
	treat, err := loadRun(ctx, arch, metric, treatRun)
	if err != nil {
		return analyze.Report{}, err
	}

	var notes []string
	if baseRun.CatalogFingerprint != treatRun.CatalogFingerprint {
		notes = append(notes, fmt.Sprintf("catalog fingerprints differ (%s vs %s); queries may not be identical",
			shortID(baseRun.CatalogFingerprint), shortID(treatRun.CatalogFingerprint)))
	}
	if baseRun.Kind != treatRun.Kind {
		notes = append(notes, fmt.Sprintf("runs measure different kinds (%s vs %s)", baseRun.Kind, treatRun.Kind))
	}
	for _, r := range []*archive.Run{baseRun, treatRun} {
		if r.Status != archive.StatusCompleted {
			notes = append(notes, fmt.Sprintf("run %s is %s", shortID(r.ID), r.Status))
		}
	}
	return render(w, metric, base, treat, notes, opts)
}

func render(w io.Writer, metric analyze.Metric, base, treat side, notes []string, opts CompareOptions) (analyze.Report, error) {
	report := analyze.Compare(base.values, treat.values)
	notes = append(notes, base.notes...)
	notes = append(notes, treat.notes...)

	err := analyze.Render(w, report, analyze.RenderOptions{
		Metric:            metric,
		BaselineLabel:     base.label,
		TreatmentLabel:    treat.label,
		Color:             opts.Color,
		ShowStdev:         opts.ShowStdev,
		BaselineFailures:  base.failures,
		TreatmentFailures: treat.failures,
		Notes:             notes,
	})
	if err != nil {
		return report, berrors.NewInternalError("failed to write report", err)
	}
	return report, nil
}

func loadFile(metric analyze.Metric, path, fallback string) (side, error) {
	switch metric {
	case analyze.MetricMemory:
		samples, err := results.ReadMemory(path)
		if err != nil {
			return side{}, err
		}
		return memorySide(samples, fallback), nil
	case analyze.MetricJoinSize:
		samples, err := results.ReadJoinSizes(path)
		if err != nil {
			return side{}, err
		}
		return joinSide(samples, fallback), nil
	default:
		samples, err := results.ReadTimings(path)
		if err != nil {
			return side{}, err
		}
		return timingSide(samples, fallback), nil
	}
}

func loadRun(ctx context.Context, arch *archive.Archive, metric analyze.Metric, run *archive.Run) (side, error) {
	switch metric {
	case analyze.MetricMemory:
		samples, err := arch.LoadMemory(ctx, run.ID)
		if err != nil {
			return side{}, err
		}
		return memorySide(samples, run.Mode), nil
	case analyze.MetricJoinSize:
		samples, err := arch.LoadJoinSizes(ctx, run.ID)
		if err != nil {
			return side{}, err
		}
		return joinSide(samples, run.Mode), nil
	default:
		samples, err := arch.LoadTimings(ctx, run.ID)
		if err != nil {
			return side{}, err
		}
		return timingSide(samples, run.Mode), nil
	}
}

func modesOf[T any](samples []T, mode func(T) string) []string {
	modes := make([]string, 0, len(samples))
	for _, s := range samples {
		modes = append(modes, mode(s))
	}
	return modes
}

func timingSide(samples []results.TimingSample, fallback string) side {
	modes := modesOf(samples, func(s results.TimingSample) string { return s.Mode })
	label, notes := labelFor(modes, fallback)
	return side{label: label, values: results.Timings(samples), notes: notes}
}

func memorySide(samples []results.MemorySample, fallback string) side {
	modes := modesOf(samples, func(s results.MemorySample) string { return s.Mode })
	label, notes := labelFor(modes, fallback)
	data := results.Memory(samples)
	return side{label: label, values: data.PeakMB, failures: data.Failures, notes: notes}
}

func joinSide(samples []results.JoinSizeSample, fallback string) side {
	modes := modesOf(samples, func(s results.JoinSizeSample) string { return s.Mode })
	label, notes := labelFor(modes, fallback)
	data := results.JoinSizes(samples)
	return side{label: label, values: data.FinalRows, failures: data.Failures, notes: notes}
}

// labelFor names a run after its mode column. A file mixing several modes
// is labelled with all of them and noted in the report.
func labelFor(modes []string, fallback string) (string, []string) {
	seen := make(map[string]bool)
	var distinct []string
	for _, m := range modes {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		distinct = append(distinct, m)
	}

	switch len(distinct) {
	case 0:
		return fallback, nil
	case 1:
		return distinct[0], nil
	default:
		sort.Strings(distinct)
		label := strings.Join(distinct, "+")
		return label, []string{fmt.Sprintf("input mixes modes %s; samples are pooled", strings.Join(distinct, ", "))}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
