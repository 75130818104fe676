package memory

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/logging"
	"github.com/arkilian/rptbench/internal/runner"
)

// SamplingMeasurer polls the child's VmRSS while it runs and keeps the
// maximum observed value.
type SamplingMeasurer struct {
	engine   Engine
	procRoot string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	// readStatus reads a process status file; replaced in tests.
	readStatus func(path string) ([]byte, error)
}

// NewSamplingMeasurer creates a measurer polling <procRoot>/<pid>/status
// every interval.
func NewSamplingMeasurer(engine Engine, procRoot string, interval, timeout time.Duration, logger *zap.Logger) *SamplingMeasurer {
	return &SamplingMeasurer{
		engine:     engine,
		procRoot:   procRoot,
		interval:   interval,
		timeout:    timeout,
		logger:     logging.OrNop(logger),
		readStatus: os.ReadFile,
	}
}

// Name identifies the strategy.
func (m *SamplingMeasurer) Name() string { return "sample" }

type waitResult struct {
	res *runner.Result
	err error
}

// Measure starts sql and samples its resident memory until it exits.
func (m *SamplingMeasurer) Measure(ctx context.Context, sql string) (Measurement, error) {
	p, err := m.engine.Start(ctx, sql, m.timeout, runner.Options{DiscardStdout: true})
	if err != nil {
		return Measurement{}, err
	}

	// The only goroutine: it owns Wait and signals exit through done.
	done := make(chan waitResult, 1)
	go func() {
		res, err := p.Wait()
		done <- waitResult{res: res, err: err}
	}()

	statusPath := filepath.Join(m.procRoot, strconv.Itoa(p.Pid()), "status")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var (
		peak    int64
		samples int
		exit    waitResult
	)

poll:
	for {
		select {
		case exit = <-done:
			break poll
		default:
		}

		rss, ok, gone := m.sample(statusPath)
		if gone {
			exit = <-done
			break poll
		}
		if ok {
			samples++
			if rss > peak {
				peak = rss
			}
		}

		select {
		case exit = <-done:
			break poll
		case <-ticker.C:
		}
	}

	if exit.err != nil {
		return Measurement{}, exit.err
	}
	if f, failed := failure(exit.res); failed {
		return f, nil
	}
	if samples == 0 || peak == 0 {
		return Measurement{PeakBytes: -1, Err: StatusNoSamples}, nil
	}

	m.logger.Debug("sampled peak", zap.Int("samples", samples), zap.Int64("peak_bytes", peak))
	return Measurement{PeakBytes: peak}, nil
}

// sample reads one VmRSS value in bytes. gone reports that the process no
// longer exists, which ends polling normally.
func (m *SamplingMeasurer) sample(path string) (rss int64, ok, gone bool) {
	data, err := m.readStatus(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
			return 0, false, true
		}
		m.logger.Debug("status read failed", zap.String("path", path), zap.Error(err))
		return 0, false, false
	}
	kb, ok := ParseVmRSS(data)
	if !ok {
		return 0, false, false
	}
	return kb * 1024, true, false
}

// ParseVmRSS extracts the VmRSS value in kilobytes from a process status
// file. Zombies and kernel threads have no VmRSS line.
func ParseVmRSS(status []byte) (int64, bool) {
	sc := bufio.NewScanner(bytes.NewReader(status))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "VmRSS:"))
		if len(fields) == 0 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb, true
	}
	return 0, false
}
