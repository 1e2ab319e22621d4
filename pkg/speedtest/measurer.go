// Package speedtest obtains active downlink throughput samples by running an
// external speed test per network interface.
package speedtest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"GoFlowRatio/pkg/flowerr"
)

// Sample is one active measurement, in megabits per second.
type Sample struct {
	Interface    string
	DownloadMbps float64
	Elapsed      time.Duration
}

// Measurer is the capability the orchestrator needs from a speed test backend.
type Measurer interface {
	Measure(ctx context.Context, iface string) (Sample, error)
}

// Config selects the speed test binary and the fixed test server.
type Config struct {
	Command  string
	Args     []string // passed before the server and interface selectors
	ServerID string
	Timeout  time.Duration
}

// ProcessMeasurer runs one speed test process per call.
type ProcessMeasurer struct {
	cfg      Config
	executor Executor
	logger   *zap.Logger
}

// NewProcessMeasurer builds a measurer. A nil executor runs real processes.
func NewProcessMeasurer(cfg Config, executor Executor, logger *zap.Logger) *ProcessMeasurer {
	if executor == nil {
		executor = CommandExecutor{}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &ProcessMeasurer{
		cfg:      cfg,
		executor: executor,
		logger:   logger.Named("speedtest"),
	}
}

// CommandLine returns the argument vector used for iface.
func (m *ProcessMeasurer) CommandLine(iface string) []string {
	args := make([]string, 0, len(m.cfg.Args)+4)
	args = append(args, m.cfg.Args...)
	if m.cfg.ServerID != "" {
		args = append(args, "-s", m.cfg.ServerID)
	}
	return append(args, "-I", iface)
}

// Measure blocks until the speed test exits, which usually takes tens of seconds.
func (m *ProcessMeasurer) Measure(ctx context.Context, iface string) (Sample, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	args := m.CommandLine(iface)
	m.logger.Info("running speed test",
		zap.String("interface", iface),
		zap.String("command", m.cfg.Command),
		zap.Strings("args", args))

	start := time.Now()
	out, err := m.executor.Run(ctx, m.cfg.Command, args...)
	elapsed := time.Since(start)
	if err != nil {
		code := out.ExitCode
		if code == 0 {
			code = -1
		}
		return Sample{}, &flowerr.ProcessError{ExitCode: code, Stdout: out.Stdout, Stderr: out.Stderr, Err: err}
	}
	if out.ExitCode != 0 {
		m.logger.Warn("speed test exited non-zero",
			zap.String("interface", iface),
			zap.Int("exit_code", out.ExitCode),
			zap.String("stderr", out.Stderr))
		return Sample{}, &flowerr.ProcessError{ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr}
	}

	mbps, err := ParseDownload(out.Stdout)
	if err != nil {
		return Sample{}, fmt.Errorf("speed test output for %s: %w", iface, err)
	}

	m.logger.Info("speed test finished",
		zap.String("interface", iface),
		zap.Float64("download_mbps", mbps),
		zap.Duration("elapsed", elapsed))

	return Sample{Interface: iface, DownloadMbps: mbps, Elapsed: elapsed}, nil
}
