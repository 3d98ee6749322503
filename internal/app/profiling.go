package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cointoss/internal/infra"

	"github.com/grafana/pyroscope-go"

	_ "net/http/pprof" // For pprof profiling
)

// StartProfiling starts the pprof endpoint and the Pyroscope agent when configured. The
// returned stop flushes the agent.
func StartProfiling(cfg *infra.Config, logger *slog.Logger) (stop func(), err error) {
	if addr := cfg.Profiling.PprofAddr; addr != "" {
		go func() {
			logger.Info("Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	if cfg.Profiling.PyroscopeURL == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.App.Name,
		ServerAddress:   cfg.Profiling.PyroscopeURL,
		Tags: map[string]string{
			"mode":    cfg.App.Mode,
			"version": cfg.App.Version,
		},
		Logger: pyroscopeLogger{logger.With("module", "pyroscope")},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pyroscope start failed: %w", err)
	}
	logger.Info("Pyroscope profiling enabled", slog.String("server", cfg.Profiling.PyroscopeURL))
	return func() { _ = profiler.Stop() }, nil
}

// pyroscopeLogger routes the agent's printf-style logs into slog.
type pyroscopeLogger struct {
	l *slog.Logger
}

func (p pyroscopeLogger) Infof(format string, args ...any)  { p.l.Info(fmt.Sprintf(format, args...)) }
func (p pyroscopeLogger) Debugf(format string, args ...any) { p.l.Debug(fmt.Sprintf(format, args...)) }
func (p pyroscopeLogger) Errorf(format string, args ...any) { p.l.Error(fmt.Sprintf(format, args...)) }
