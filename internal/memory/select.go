package memory

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/rptbench/internal/config"
	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/logging"
)

var lookPath = exec.LookPath

// Select chooses the measurement strategy once. In auto mode the sampling
// strategy is used only when the time tool cannot be found; a time tool that
// later prints something unexpected yields parse failures, never a fallback.
func Select(cfg config.MemoryConfig, timeout time.Duration, engine Engine, logger *zap.Logger) (Measurer, error) {
	logger = logging.OrNop(logger)

	switch cfg.Strategy {
	case config.MemoryTime:
		path, err := lookPath(cfg.TimeBin)
		if err != nil {
			return nil, berrors.Wrap(berrors.ErrCategoryConfig, berrors.CodeInvalidConfig,
				fmt.Sprintf("memory.time_bin %s not usable", cfg.TimeBin), err)
		}
		return NewTimeMeasurer(engine, path, timeout, logger), nil

	case config.MemorySample:
		if _, err := os.Stat(cfg.ProcRoot); err != nil {
			return nil, berrors.Wrap(berrors.ErrCategoryConfig, berrors.CodeInvalidConfig,
				fmt.Sprintf("memory.proc_root %s not usable", cfg.ProcRoot), err)
		}
		return NewSamplingMeasurer(engine, cfg.ProcRoot, cfg.SampleInterval, timeout, logger), nil

	case config.MemoryAuto, "":
		if path, err := lookPath(cfg.TimeBin); err == nil {
			logger.Info("memory strategy selected", zap.String("strategy", "time"), zap.String("time_bin", path))
			return NewTimeMeasurer(engine, path, timeout, logger), nil
		}
		logger.Warn("time tool not found, sampling process status instead",
			zap.String("time_bin", cfg.TimeBin),
			zap.String("proc_root", cfg.ProcRoot),
			zap.Duration("interval", cfg.SampleInterval))
		return NewSamplingMeasurer(engine, cfg.ProcRoot, cfg.SampleInterval, timeout, logger), nil

	default:
		return nil, berrors.NewConfigError(fmt.Sprintf("invalid memory.strategy: %s", cfg.Strategy))
	}
}
