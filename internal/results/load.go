package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	berrors "github.com/arkilian/rptbench/internal/errors"
)

// table is a CSV file addressed by column name.
type table struct {
	path    string
	columns map[string]int
	rows    [][]string
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, berrors.NewStoreError(berrors.CodeOpenFailed, fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, berrors.NewParseError(berrors.CodeMissingField, fmt.Sprintf("%s is empty", path))
	}
	if err != nil {
		return nil, berrors.NewStoreError(berrors.CodeReadFailed, fmt.Sprintf("failed to read %s", path), err)
	}

	t := &table{path: path, columns: make(map[string]int, len(header))}
	for i, name := range header {
		t.columns[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := t.columns[name]; !ok {
			return nil, berrors.NewParseError(berrors.CodeMissingField, fmt.Sprintf("%s has no %q column", path, name))
		}
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, berrors.NewStoreError(berrors.CodeReadFailed, fmt.Sprintf("failed to read %s", path), err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

// field returns the named column of row i, or "" when the column is absent.
func (t *table) field(i int, name string) string {
	idx, ok := t.columns[name]
	if !ok || idx >= len(t.rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][idx])
}

func (t *table) malformed(i int, name string, err error) error {
	// Line numbers count the header.
	return berrors.NewParseError(berrors.CodeMalformedRow,
		fmt.Sprintf("%s line %d: invalid %s: %v", t.path, i+2, name, err))
}

func (t *table) integer(i int, name string) (int64, error) {
	s := t.field(i, name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Failure rows may carry -1 as a float.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, t.malformed(i, name, err)
		}
		v = int64(f)
	}
	return v, nil
}

// ReadTimings reads every sample of a timing table.
func ReadTimings(path string) ([]TimingSample, error) {
	t, err := readTable(path, "query", "time_seconds")
	if err != nil {
		return nil, err
	}

	samples := make([]TimingSample, 0, len(t.rows))
	for i := range t.rows {
		secs, err := strconv.ParseFloat(t.field(i, "time_seconds"), 64)
		if err != nil {
			return nil, t.malformed(i, "time_seconds", err)
		}
		rep, err := t.integer(i, "rep")
		if err != nil {
			return nil, err
		}
		samples = append(samples, TimingSample{
			Mode:    t.field(i, "mode"),
			Query:   t.field(i, "query"),
			Rep:     int(rep),
			Seconds: secs,
		})
	}
	return samples, nil
}

// ReadMemory reads every sample of a memory table.
func ReadMemory(path string) ([]MemorySample, error) {
	t, err := readTable(path, "query", "peak_memory_bytes", "status")
	if err != nil {
		return nil, err
	}

	samples := make([]MemorySample, 0, len(t.rows))
	for i := range t.rows {
		peak, err := t.integer(i, "peak_memory_bytes")
		if err != nil {
			return nil, err
		}
		rep, err := t.integer(i, "rep")
		if err != nil {
			return nil, err
		}
		if peak < 0 {
			peak = Failed
		}
		samples = append(samples, MemorySample{
			Mode:      t.field(i, "mode"),
			Query:     t.field(i, "query"),
			Rep:       int(rep),
			PeakBytes: peak,
			Status:    t.field(i, "status"),
		})
	}
	return samples, nil
}

// ReadJoinSizes reads every sample of a join-size table.
func ReadJoinSizes(path string) ([]JoinSizeSample, error) {
	t, err := readTable(path, "query", "step", "row_count")
	if err != nil {
		return nil, err
	}

	samples := make([]JoinSizeSample, 0, len(t.rows))
	for i := range t.rows {
		step, err := t.integer(i, "step")
		if err != nil {
			return nil, err
		}
		rows, err := t.integer(i, "row_count")
		if err != nil {
			return nil, err
		}
		if rows < 0 {
			rows = Failed
		}
		samples = append(samples, JoinSizeSample{
			Mode:     t.field(i, "mode"),
			Query:    t.field(i, "query"),
			Step:     int(step),
			StepName: t.field(i, "step_name"),
			RowCount: rows,
		})
	}
	return samples, nil
}

// LoadTimings reads a timing table grouped by query.
func LoadTimings(path string) (map[string][]float64, error) {
	samples, err := ReadTimings(path)
	if err != nil {
		return nil, err
	}
	return Timings(samples), nil
}

// LoadMemory reads a memory table grouped by query.
func LoadMemory(path string) (MemoryData, error) {
	samples, err := ReadMemory(path)
	if err != nil {
		return MemoryData{}, err
	}
	return Memory(samples), nil
}

// LoadJoinSizes reads a join-size table reduced to final steps.
func LoadJoinSizes(path string) (JoinSizeData, error) {
	samples, err := ReadJoinSizes(path)
	if err != nil {
		return JoinSizeData{}, err
	}
	return JoinSizes(samples), nil
}
