// Package pipeline drives measurement, query, calculation and publishing
// across the configured interfaces.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"GoFlowRatio/pkg/config"
	"GoFlowRatio/pkg/flowerr"
	"GoFlowRatio/pkg/lock"
	"GoFlowRatio/pkg/publish"
	"GoFlowRatio/pkg/ratio"
	"GoFlowRatio/pkg/speedtest"
	"GoFlowRatio/pkg/traffic"
)

// Recorder receives every outcome once per run, then is flushed.
type Recorder interface {
	Record(nic string, measuredMbps, observedBps, ratio float64, ok bool)
	Flush(ctx context.Context) error
}

// Settings selects scheduling mode and failure policy.
//
// Mode "concurrent" launches every measurement and every query at once and
// waits for all of them before calculating and publishing in configured
// order. Mode "sequential" runs one interface to completion before the next.
//
// Policy "continue" attempts every interface regardless of failures. Policy
// "abort" stops at the first failed interface; later interfaces are Skipped
// and nothing more is published.
type Settings struct {
	Mode           string
	Policy         string
	LaunchInterval time.Duration
}

// Runner processes the configured interfaces once per Run call. It is safe
// to call Run again after the previous call returned.
type Runner struct {
	interfaces []config.Interface
	settings   Settings

	measurer  speedtest.Measurer
	source    traffic.Source
	publisher publish.Publisher
	locker    lock.Locker
	recorder  Recorder
	launch    *launchLimiter

	logger *zap.Logger
}

// NewRunner builds a runner with no locking and no recorder. Empty Settings
// fields fall back to concurrent mode and the continue policy.
func NewRunner(interfaces []config.Interface, settings Settings, measurer speedtest.Measurer, source traffic.Source, publisher publish.Publisher, logger *zap.Logger) *Runner {
	if settings.Mode == "" {
		settings.Mode = config.ModeConcurrent
	}
	if settings.Policy == "" {
		settings.Policy = config.PolicyContinue
	}
	if logger == nil {
		logger = zap.L()
	}

	return &Runner{
		interfaces: interfaces,
		settings:   settings,
		measurer:   measurer,
		source:     source,
		publisher:  publisher,
		locker:     lock.Noop{},
		launch:     newLaunchLimiter(settings.LaunchInterval),
		logger:     logger.Named("pipeline"),
	}
}

// WithLocker guards each measurement with l.
func (r *Runner) WithLocker(l lock.Locker) *Runner {
	r.locker = l
	return r
}

// WithRecorder mirrors outcomes to rec after every run.
func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.recorder = rec
	return r
}

// observation is what the measuring and querying stages produced.
type observation struct {
	measured   speedtest.Sample
	measureErr error
	observed   traffic.Sample
	queryErr   error
	measureDur time.Duration
}

// Run processes every configured interface once.
func (r *Runner) Run(ctx context.Context) Report {
	report := Report{
		Started:  time.Now(),
		Outcomes: make([]Outcome, len(r.interfaces)),
	}
	for i, iface := range r.interfaces {
		report.Outcomes[i] = Outcome{Interface: iface, Stage: StagePending}
	}

	r.logger.Info("run started",
		zap.Int("interfaces", len(r.interfaces)),
		zap.String("mode", r.settings.Mode),
		zap.String("policy", r.settings.Policy))

	if r.settings.Mode == config.ModeSequential {
		r.runSequential(ctx, report.Outcomes)
	} else {
		r.runConcurrent(ctx, report.Outcomes)
	}

	report.Duration = time.Since(report.Started)
	r.record(ctx, report)

	r.logger.Info("run finished",
		zap.Int("failed", len(report.Failed())),
		zap.Int("total", len(report.Outcomes)),
		zap.Duration("elapsed", report.Duration))

	return report
}

func (r *Runner) runSequential(ctx context.Context, outcomes []Outcome) {
	for i := range outcomes {
		o := &outcomes[i]
		start := time.Now()

		var obs observation
		obs.measured, obs.measureErr = r.measure(ctx, o.Interface.Name)
		if obs.measureErr == nil {
			obs.observed, obs.queryErr = r.query(ctx, o.Interface.Name)
		}

		ok := r.finish(ctx, o, obs)
		o.Duration = time.Since(start)
		if !ok && r.abort(outcomes[i+1:]) {
			return
		}
	}
}

// runConcurrent never lets one task's failure cancel a sibling: tasks record
// their own error and always return nil to the group.
func (r *Runner) runConcurrent(ctx context.Context, outcomes []Outcome) {
	start := time.Now()
	obs := make([]observation, len(outcomes))

	var g errgroup.Group
	for i := range outcomes {
		i := i
		name := outcomes[i].Interface.Name
		g.Go(func() error {
			obs[i].measured, obs[i].measureErr = r.measure(ctx, name)
			return nil
		})
		g.Go(func() error {
			obs[i].observed, obs[i].queryErr = r.query(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("all measurements and queries completed", zap.Duration("elapsed", time.Since(start)))

	for i := range outcomes {
		o := &outcomes[i]
		ok := r.finish(ctx, o, obs[i])
		o.Duration = time.Since(start)
		if !ok && r.abort(outcomes[i+1:]) {
			return
		}
	}
}

// abort marks rest as skipped when the policy says so.
func (r *Runner) abort(rest []Outcome) bool {
	if r.settings.Policy != config.PolicyAbort {
		return false
	}
	for i := range rest {
		rest[i].Stage = StageSkipped
		r.logger.Warn("interface skipped after earlier failure", zap.String("interface", rest[i].Interface.Name))
	}
	return true
}

func (r *Runner) measure(ctx context.Context, iface string) (speedtest.Sample, error) {
	if err := r.launch.Wait(ctx); err != nil {
		return speedtest.Sample{}, err
	}

	release, err := r.locker.Acquire(ctx, iface)
	if err != nil {
		return speedtest.Sample{}, err
	}
	defer release()

	return r.measurer.Measure(ctx, iface)
}

func (r *Runner) query(ctx context.Context, iface string) (traffic.Sample, error) {
	return r.source.Observe(ctx, iface)
}

// finish walks o through the state machine using the gathered observation,
// then calculates and publishes. It returns false if o ended Failed.
func (r *Runner) finish(ctx context.Context, o *Outcome, obs observation) bool {
	log := r.logger.With(zap.String("interface", o.Interface.Name), zap.String("nic", o.Interface.PublishName))

	r.advance(log, o, StageMeasuring)
	if obs.measureErr != nil {
		if obs.queryErr != nil {
			log.Error("metrics query failed as well",
				zap.Stringer("stage", StageQuerying),
				zap.String("kind", flowerr.Kind(obs.queryErr)),
				zap.Error(obs.queryErr))
		}
		return r.fail(log, o, obs.measureErr)
	}
	o.MeasuredMbps = obs.measured.DownloadMbps

	r.advance(log, o, StageQuerying)
	if obs.queryErr != nil {
		return r.fail(log, o, obs.queryErr)
	}
	o.ObservedBps = obs.observed.BandwidthBps

	r.advance(log, o, StageCalculating)
	value, err := ratio.Compute(o.MeasuredMbps, o.ObservedBps)
	if err != nil {
		return r.fail(log, o, err)
	}
	o.Ratio = value

	r.advance(log, o, StagePublishing)
	if err := r.publisher.Publish(ctx, o.Interface.PublishName, value); err != nil {
		return r.fail(log, o, err)
	}

	r.advance(log, o, StageDone)
	log.Info("interface done",
		zap.Float64("download_mbps", o.MeasuredMbps),
		zap.Float64("observed_bps", o.ObservedBps),
		zap.Float64("ratio", o.Ratio))
	return true
}

func (r *Runner) advance(log *zap.Logger, o *Outcome, to Stage) {
	o.Stage = to
	log.Debug("stage", zap.Stringer("stage", to))
}

func (r *Runner) fail(log *zap.Logger, o *Outcome, err error) bool {
	o.FailedAt = o.Stage
	o.Stage = StageFailed
	o.Err = &flowerr.StageError{Interface: o.Interface.Name, Stage: o.FailedAt.String(), Err: err}

	log.Error("interface failed",
		zap.Stringer("stage", o.FailedAt),
		zap.String("kind", flowerr.Kind(err)),
		zap.Error(err))
	return false
}

func (r *Runner) record(ctx context.Context, report Report) {
	if r.recorder == nil {
		return
	}
	for _, o := range report.Outcomes {
		r.recorder.Record(o.Interface.PublishName, o.MeasuredMbps, o.ObservedBps, o.Ratio, o.OK())
	}
	if err := r.recorder.Flush(ctx); err != nil {
		r.logger.Warn("recording run metrics failed", zap.Error(err))
	}
}
