package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Daemon runs the Runner on a cron schedule. A run still in progress when
// the next tick fires causes that tick to be skipped.
type Daemon struct {
	runner   *Runner
	schedule cron.Schedule
	spec     string
	logger   *zap.Logger

	mu   sync.Mutex
	last Report
	runs int

	// OnReport, when set, is called after every scheduled run.
	OnReport func(Report)
}

// NewDaemon parses spec with optional seconds and @every/@daily descriptors.
func NewDaemon(spec string, runner *Runner, logger *zap.Logger) (*Daemon, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Daemon{
		runner:   runner,
		schedule: sched,
		spec:     spec,
		logger:   logger.Named("daemon"),
	}, nil
}

// Start blocks until ctx is done, then waits for a running job to return.
func (d *Daemon) Start(ctx context.Context) {
	l := cronLogger{d.logger.Sugar()}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	c.Schedule(d.schedule, cron.FuncJob(func() { d.tick(ctx) }))

	d.logger.Info("daemon started", zap.String("schedule", d.spec))
	c.Start()

	<-ctx.Done()
	d.logger.Info("daemon stopping")
	<-c.Stop().Done()
}

func (d *Daemon) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report := d.runner.Run(ctx)

	d.mu.Lock()
	d.last = report
	d.runs++
	d.mu.Unlock()

	if d.OnReport != nil {
		d.OnReport(report)
	}
}

// Last returns the most recent report and how many runs have completed.
func (d *Daemon) Last() (Report, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.runs
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
