// Package results persists measurement samples as append-only CSV tables and
// loads them back into the shapes consumed by the analyzer.
package results

// Failure sentinel written for memory and join-size samples that produced no
// value.
const Failed = -1

// StatusSuccess is the status of a successful memory sample.
const StatusSuccess = "success"

// TimingSample is one timed repetition of a query. Warm-up runs produce none.
type TimingSample struct {
	Mode    string
	Query   string
	Rep     int
	Seconds float64
}

// MemorySample is one peak-memory measurement. Failed measurements carry
// PeakBytes == Failed and the failure reason in Status.
type MemorySample struct {
	Mode      string
	Query     string
	Rep       int
	PeakBytes int64
	Status    string
}

// Succeeded reports whether the sample holds a real measurement.
func (s MemorySample) Succeeded() bool {
	return s.PeakBytes >= 0
}

// PeakMB returns the peak in mebibytes, or Failed.
func (s MemorySample) PeakMB() float64 {
	if !s.Succeeded() {
		return Failed
	}
	return float64(s.PeakBytes) / (1024 * 1024)
}

// JoinSizeSample is the row count of one probe step. RowCount is Failed when
// the probe failed or printed no integer.
type JoinSizeSample struct {
	Mode     string
	Query    string
	Step     int
	StepName string
	RowCount int64
}

// TimingSink receives timing samples as they are produced.
type TimingSink interface {
	RecordTiming(TimingSample) error
}

// MemorySink receives memory samples as they are produced.
type MemorySink interface {
	RecordMemory(MemorySample) error
}

// JoinSizeSink receives join-size samples as they are produced.
type JoinSizeSink interface {
	RecordJoinSize(JoinSizeSample) error
}

// TimingSinks fans a sample out to several sinks, stopping at the first error.
type TimingSinks []TimingSink

func (s TimingSinks) RecordTiming(sample TimingSample) error {
	for _, sink := range s {
		if err := sink.RecordTiming(sample); err != nil {
			return err
		}
	}
	return nil
}

// MemorySinks fans a sample out to several sinks, stopping at the first error.
type MemorySinks []MemorySink

func (s MemorySinks) RecordMemory(sample MemorySample) error {
	for _, sink := range s {
		if err := sink.RecordMemory(sample); err != nil {
			return err
		}
	}
	return nil
}

// JoinSizeSinks fans a sample out to several sinks, stopping at the first error.
type JoinSizeSinks []JoinSizeSink

func (s JoinSizeSinks) RecordJoinSize(sample JoinSizeSample) error {
	for _, sink := range s {
		if err := sink.RecordJoinSize(sample); err != nil {
			return err
		}
	}
	return nil
}

// MemoryData is the analyzer input derived from memory samples.
type MemoryData struct {
	// PeakMB holds successful peaks per query
	PeakMB map[string][]float64

	// Failures counts failed samples per query
	Failures map[string]int
}

// JoinSizeData is the analyzer input derived from join-size samples.
type JoinSizeData struct {
	// FinalRows holds the row counts of each query's last probe step
	FinalRows map[string][]float64

	// Failures counts failed probes per query, across all steps
	Failures map[string]int
}

// Timings groups timing samples by query.
func Timings(samples []TimingSample) map[string][]float64 {
	out := make(map[string][]float64)
	for _, s := range samples {
		out[s.Query] = append(out[s.Query], s.Seconds)
	}
	return out
}

// Memory groups memory samples by query, separating failures.
func Memory(samples []MemorySample) MemoryData {
	data := MemoryData{
		PeakMB:   make(map[string][]float64),
		Failures: make(map[string]int),
	}
	for _, s := range samples {
		if s.Succeeded() {
			data.PeakMB[s.Query] = append(data.PeakMB[s.Query], s.PeakMB())
		} else {
			data.Failures[s.Query]++
		}
	}
	return data
}

// JoinSizes reduces join-size samples to the final step of every query.
// Failed final steps are counted, not averaged; earlier steps are ignored.
func JoinSizes(samples []JoinSizeSample) JoinSizeData {
	last := make(map[string]int)
	for _, s := range samples {
		if s.Step > last[s.Query] {
			last[s.Query] = s.Step
		}
	}

	data := JoinSizeData{
		FinalRows: make(map[string][]float64),
		Failures:  make(map[string]int),
	}
	for _, s := range samples {
		if s.Step != last[s.Query] {
			continue
		}
		if s.RowCount < 0 {
			data.Failures[s.Query]++
			continue
		}
		data.FinalRows[s.Query] = append(data.FinalRows[s.Query], float64(s.RowCount))
	}
	return data
}
