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

// Column layouts of the three result tables.
var (
	TimingHeader   = []string{"mode", "query", "rep", "time_seconds"}
	MemoryHeader   = []string{"mode", "query", "rep", "peak_memory_bytes", "peak_memory_mb", "status"}
	JoinSizeHeader = []string{"mode", "query", "step", "step_name", "row_count"}
)

// appender appends rows to a CSV file, writing the header only when the file
// is new or empty. Every row is flushed before Append returns so an aborted
// run keeps everything recorded so far.
type appender struct {
	path string
	file *os.File
	w    *csv.Writer
}

func openAppender(path string, header []string) (*appender, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, berrors.NewStoreError(berrors.CodeOpenFailed, fmt.Sprintf("failed to open %s", path), err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, berrors.NewStoreError(berrors.CodeOpenFailed, fmt.Sprintf("failed to stat %s", path), err)
	}

	a := &appender{path: path, file: f, w: csv.NewWriter(f)}

	if stat.Size() > 0 {
		// Existing tables must share the column layout.
		existing, err := csv.NewReader(f).Read()
		if err != nil {
			f.Close()
			return nil, berrors.NewStoreError(berrors.CodeReadFailed, fmt.Sprintf("failed to read header of %s", path), err)
		}
		if strings.Join(existing, ",") != strings.Join(header, ",") {
			f.Close()
			return nil, berrors.NewStoreError(berrors.CodeOpenFailed,
				fmt.Sprintf("%s has header %q, expected %q", path, strings.Join(existing, ","), strings.Join(header, ",")), nil)
		}
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, berrors.NewStoreError(berrors.CodeOpenFailed, fmt.Sprintf("failed to seek %s", path), err)
		}
		return a, nil
	}

	if err := a.append(header); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *appender) append(record []string) error {
	if err := a.w.Write(record); err != nil {
		return berrors.NewStoreError(berrors.CodeWriteFailed, fmt.Sprintf("failed to write %s", a.path), err)
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		return berrors.NewStoreError(berrors.CodeWriteFailed, fmt.Sprintf("failed to flush %s", a.path), err)
	}
	return nil
}

func (a *appender) close() error {
	a.w.Flush()
	werr := a.w.Error()
	cerr := a.file.Close()
	if werr != nil {
		return berrors.NewStoreError(berrors.CodeWriteFailed, fmt.Sprintf("failed to flush %s", a.path), werr)
	}
	if cerr != nil {
		return berrors.NewStoreError(berrors.CodeWriteFailed, fmt.Sprintf("failed to close %s", a.path), cerr)
	}
	return nil
}

// TimingWriter appends timing samples to a CSV table.
type TimingWriter struct{ a *appender }

// OpenTimingWriter opens path for appending timing samples.
func OpenTimingWriter(path string) (*TimingWriter, error) {
	a, err := openAppender(path, TimingHeader)
	if err != nil {
		return nil, err
	}
	return &TimingWriter{a: a}, nil
}

// RecordTiming appends one sample.
func (w *TimingWriter) RecordTiming(s TimingSample) error {
	return w.a.append([]string{
		s.Mode,
		s.Query,
		strconv.Itoa(s.Rep),
		strconv.FormatFloat(s.Seconds, 'f', 6, 64),
	})
}

// Path returns the file being written.
func (w *TimingWriter) Path() string { return w.a.path }

// Close flushes and closes the file.
func (w *TimingWriter) Close() error { return w.a.close() }

// MemoryWriter appends memory samples to a CSV table.
type MemoryWriter struct{ a *appender }

// OpenMemoryWriter opens path for appending memory samples.
func OpenMemoryWriter(path string) (*MemoryWriter, error) {
	a, err := openAppender(path, MemoryHeader)
	if err != nil {
		return nil, err
	}
	return &MemoryWriter{a: a}, nil
}

// RecordMemory appends one sample. Failures are written as -1,-1,<status>.
func (w *MemoryWriter) RecordMemory(s MemorySample) error {
	bytes, mb, status := "-1", "-1", s.Status
	if s.Succeeded() {
		bytes = strconv.FormatInt(s.PeakBytes, 10)
		mb = strconv.FormatFloat(s.PeakMB(), 'f', 2, 64)
		if status == "" {
			status = StatusSuccess
		}
	} else if status == "" {
		status = "failed"
	}
	return w.a.append([]string{s.Mode, s.Query, strconv.Itoa(s.Rep), bytes, mb, status})
}

// Path returns the file being written.
func (w *MemoryWriter) Path() string { return w.a.path }

// Close flushes and closes the file.
func (w *MemoryWriter) Close() error { return w.a.close() }

// JoinSizeWriter appends join-size samples to a CSV table.
type JoinSizeWriter struct{ a *appender }

// OpenJoinSizeWriter opens path for appending join-size samples.
func OpenJoinSizeWriter(path string) (*JoinSizeWriter, error) {
	a, err := openAppender(path, JoinSizeHeader)
	if err != nil {
		return nil, err
	}
	return &JoinSizeWriter{a: a}, nil
}

// RecordJoinSize appends one sample.
func (w *JoinSizeWriter) RecordJoinSize(s JoinSizeSample) error {
	return w.a.append([]string{
		s.Mode,
		s.Query,
		strconv.Itoa(s.Step),
		s.StepName,
		strconv.FormatInt(s.RowCount, 10),
	})
}

// Path returns the file being written.
func (w *JoinSizeWriter) Path() string { return w.a.path }

// Close flushes and closes the file.
func (w *JoinSizeWriter) Close() error { return w.a.close() }
