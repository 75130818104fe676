// Package sysinfo captures a snapshot of the host a benchmark runs on.
// The snapshot is logged at run start and stored with archived runs so
// results from different machines are not compared blindly.
package sysinfo

import (
	"context"
	"encoding/json"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/logging"
)

// Snapshot describes the benchmark host. Fields that could not be read
// are left zero.
type Snapshot struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Arch          string  `json:"arch"`
	Platform      string  `json:"platform,omitempty"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	CPUModel      string  `json:"cpu_model,omitempty"`
	LogicalCPUs   int     `json:"logical_cpus"`
	PhysicalCPUs  int     `json:"physical_cpus,omitempty"`
	TotalMemory   uint64  `json:"total_memory_bytes"`
	AvailMemory   uint64  `json:"available_memory_bytes"`
	Load1         float64 `json:"load1"`
	GoVersion     string  `json:"go_version"`
}

// JSON encodes the snapshot for the archive.
func (s *Snapshot) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Fields returns zap fields for logging the snapshot.
func (s *Snapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.String("hostname", s.Hostname),
		zap.String("os", s.OS),
		zap.String("arch", s.Arch),
		zap.String("cpu_model", s.CPUModel),
		zap.Int("logical_cpus", s.LogicalCPUs),
		zap.Uint64("total_memory_bytes", s.TotalMemory),
		zap.Float64("load1", s.Load1),
	}
}

// collector holds the probes so tests can replace them.
type collector struct {
	hostInfo  func(context.Context) (*host.InfoStat, error)
	cpuCounts func(context.Context, bool) (int, error)
	cpuInfo   func(context.Context) ([]cpu.InfoStat, error)
	memStats  func(context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg   func(context.Context) (*load.AvgStat, error)
}

var defaultCollector = collector{
	hostInfo:  host.InfoWithContext,
	cpuCounts: cpu.CountsWithContext,
	cpuInfo:   cpu.InfoWithContext,
	memStats:  mem.VirtualMemoryWithContext,
	loadAvg:   load.AvgWithContext,
}

// Collect gathers a snapshot. Probe failures are logged at debug level
// and never fail the run.
func Collect(ctx context.Context, logger *zap.Logger) *Snapshot {
	return defaultCollector.collect(ctx, logger)
}

func (c collector) collect(ctx context.Context, logger *zap.Logger) *Snapshot {
	logger = logging.OrNop(logger)

	s := &Snapshot{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
		GoVersion:   runtime.Version(),
	}

	if info, err := c.hostInfo(ctx); err == nil {
		s.Hostname = info.Hostname
		s.Platform = info.Platform
		s.KernelVersion = info.KernelVersion
	} else {
		logger.Debug("host info unavailable", zap.Error(err))
	}
	if s.Hostname == "" {
		s.Hostname, _ = os.Hostname()
	}

	if n, err := c.cpuCounts(ctx, true); err == nil && n > 0 {
		s.LogicalCPUs = n
	}
	if n, err := c.cpuCounts(ctx, false); err == nil {
		s.PhysicalCPUs = n
	}
	if infos, err := c.cpuInfo(ctx); err == nil && len(infos) > 0 {
		s.CPUModel = infos[0].ModelName
	} else if err != nil {
		logger.Debug("cpu info unavailable", zap.Error(err))
	}

	if vm, err := c.memStats(ctx); err == nil {
		s.TotalMemory = vm.Total
		s.AvailMemory = vm.Available
	} else {
		logger.Debug("memory stats unavailable", zap.Error(err))
	}

	if avg, err := c.loadAvg(ctx); err == nil {
		s.Load1 = avg.Load1
	}

	return s
}
