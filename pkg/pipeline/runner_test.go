package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"GoFlowRatio/pkg/config"
	"GoFlowRatio/pkg/flowerr"
	"GoFlowRatio/pkg/speedtest"
	"GoFlowRatio/pkg/traffic"
)

type fakeMeasurer struct {
	mbps map[string]float64
	errs map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeMeasurer) Measure(ctx context.Context, iface string) (speedtest.Sample, error) {
	f.mu.Lock()
	f.calls = append(f.calls, iface)
	f.mu.Unlock()

	if err := f.errs[iface]; err != nil {
		return speedtest.Sample{}, err
	}
	return speedtest.Sample{Interface: iface, DownloadMbps: f.mbps[iface]}, nil
}

func (f *fakeMeasurer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSource struct {
	bps  map[string]float64
	errs map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeSource) Observe(ctx context.Context, iface string) (traffic.Sample, error) {
	f.mu.Lock()
	f.calls = append(f.calls, iface)
	f.mu.Unlock()

	if err := f.errs[iface]; err != nil {
		return traffic.Sample{}, err
	}
	return traffic.Sample{Interface: iface, BandwidthBps: f.bps[iface]}, nil
}

type published struct {
	nic   string
	ratio float64
}

type fakePublisher struct {
	errs map[string]error

	mu    sync.Mutex
	calls []published
}

func (f *fakePublisher) Publish(ctx context.Context, nic string, ratio float64) error {
	f.mu.Lock()
	f.calls = append(f.calls, published{nic, ratio})
	f.mu.Unlock()
	return f.errs[nic]
}

func (f *fakePublisher) Calls() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.calls...)
}

type fakeRecorder struct {
	records map[string]bool
	flushed int
}

func (f *fakeRecorder) Record(nic string, measuredMbps, observedBps, ratio float64, ok bool) {
	if f.records == nil {
		f.records = map[string]bool{}
	}
	f.records[nic] = ok
}

func (f *fakeRecorder) Flush(ctx context.Context) error {
	f.flushed++
	return errors.New("pushgateway down")
}

type busyLocker struct{ busy string }

func (b busyLocker) Acquire(ctx context.Context, iface string) (func(), error) {
	if iface == b.busy {
		return nil, flowerr.ErrBusy
	}
	return func() {}, nil
}

var twoInterfaces = []config.Interface{
	{Name: "eth0", PublishName: "wan0"},
	{Name: "eth1", PublishName: "wan1"},
}

func healthy() (*fakeMeasurer, *fakeSource, *fakePublisher) {
	return &fakeMeasurer{mbps: map[string]float64{"eth0": 100, "eth1": 50}},
		&fakeSource{bps: map[string]float64{"eth0": 5e7, "eth1": 1e8}},
		&fakePublisher{}
}

func TestRunner_AllDone(t *testing.T) {
	for _, mode := range []string{config.ModeConcurrent, config.ModeSequential} {
		t.Run(mode, func(t *testing.T) {
			m, s, p := healthy()
			r := NewRunner(twoInterfaces, Settings{Mode: mode}, m, s, p, zaptest.NewLogger(t))

			report := r.Run(context.Background())

			require.True(t, report.OK())
			assert.Empty(t, report.Failed())
			assert.Equal(t, []published{{"wan0", 2.0}, {"wan1", 0.5}}, p.Calls())

			eth0 := report.ByInterface()["eth0"]
			assert.Equal(t, StageDone, eth0.Stage)
			assert.Equal(t, 100.0, eth0.MeasuredMbps)
			assert.Equal(t, 5e7, eth0.ObservedBps)
			assert.InEpsilon(t, 2.0, eth0.Ratio, 1e-9)
		})
	}
}

func TestRunner_ContinueAfterFailure(t *testing.T) {
	for _, mode := range []string{config.ModeConcurrent, config.ModeSequential} {
		t.Run(mode, func(t *testing.T) {
			m, s, p := healthy()
			m.errs = map[string]error{"eth0": &flowerr.ProcessError{ExitCode: 1, Stderr: "no such interface"}}
			r := NewRunner(twoInterfaces, Settings{Mode: mode, Policy: config.PolicyContinue}, m, s, p, zaptest.NewLogger(t))

			report := r.Run(context.Background())

			require.False(t, report.OK())
			failed := report.Failed()
			require.Len(t, failed, 1)

			eth0 := failed[0]
			assert.Equal(t, StageFailed, eth0.Stage)
			assert.Equal(t, StageMeasuring, eth0.FailedAt)
			assert.ErrorIs(t, eth0.Err, flowerr.ErrProcess)

			var stageErr *flowerr.StageError
			require.ErrorAs(t, eth0.Err, &stageErr)
			assert.Equal(t, "eth0", stageErr.Interface)
			assert.Equal(t, "measuring", stageErr.Stage)

			assert.Equal(t, StageDone, report.ByInterface()["eth1"].Stage)
			assert.Equal(t, []published{{"wan1", 0.5}}, p.Calls())
		})
	}
}

func TestRunner_AbortSkipsRemaining(t *testing.T) {
	ifaces := append(twoInterfaces, config.Interface{Name: "eth2", PublishName: "wan2"})

	t.Run("sequential", func(t *testing.T) {
		m, s, p := healthy()
		s.errs = map[string]error{"eth0": flowerr.ErrNoData}
		r := NewRunner(ifaces, Settings{Mode: config.ModeSequential, Policy: config.PolicyAbort}, m, s, p, zaptest.NewLogger(t))

		report := r.Run(context.Background())

		assert.Equal(t, StageFailed, report.Outcomes[0].Stage)
		assert.Equal(t, StageQuerying, report.Outcomes[0].FailedAt)
		assert.Equal(t, StageSkipped, report.Outcomes[1].Stage)
		assert.Equal(t, StageSkipped, report.Outcomes[2].Stage)
		assert.Len(t, report.Failed(), 3)
		assert.Empty(t, p.Calls())
		assert.Equal(t, []string{"eth0"}, m.Calls())
	})

	t.Run("concurrent", func(t *testing.T) {
		m, s, p := healthy()
		m.mbps["eth2"] = 10
		s.bps["eth2"] = 1e7
		s.errs = map[string]error{"eth1": flowerr.ErrNoData}
		r := NewRunner(ifaces, Settings{Mode: config.ModeConcurrent, Policy: config.PolicyAbort}, m, s, p, zaptest.NewLogger(t))

		report := r.Run(context.Background())

		assert.Equal(t, StageDone, report.Outcomes[0].Stage)
		assert.Equal(t, StageFailed, report.Outcomes[1].Stage)
		assert.Equal(t, StageSkipped, report.Outcomes[2].Stage)
		assert.Equal(t, []published{{"wan0", 2.0}}, p.Calls())
		// every measurement was already launched before the failure was seen
		assert.ElementsMatch(t, []string{"eth0", "eth1", "eth2"}, m.Calls())
	})
}

func TestRunner_DivisionFailure(t *testing.T) {
	m, s, p := healthy()
	s.bps["eth0"] = 0
	r := NewRunner(twoInterfaces[:1], Settings{}, m, s, p, zaptest.NewLogger(t))

	report := r.Run(context.Background())

	o := report.Outcomes[0]
	assert.Equal(t, StageCalculating, o.FailedAt)
	assert.ErrorIs(t, o.Err, flowerr.ErrDivision)
	assert.Empty(t, p.Calls())
}

func TestRunner_PublishRejectedNotRetried(t *testing.T) {
	m, s, p := healthy()
	p.errs = map[string]error{"wan0": &flowerr.PublishError{StatusCode: 500}}
	r := NewRunner(twoInterfaces[:1], Settings{}, m, s, p, zaptest.NewLogger(t))

	report := r.Run(context.Background())

	o := report.Outcomes[0]
	assert.Equal(t, StageFailed, o.Stage)
	assert.Equal(t, StagePublishing, o.FailedAt)
	var pubErr *flowerr.PublishError
	require.ErrorAs(t, o.Err, &pubErr)
	assert.Equal(t, 500, pubErr.StatusCode)
	assert.Len(t, p.Calls(), 1)
}

func TestRunner_SequentialSkipsQueryAfterMeasureFailure(t *testing.T) {
	m, s, p := healthy()
	m.errs = map[string]error{"eth0": flowerr.ErrParse}
	r := NewRunner(twoInterfaces, Settings{Mode: config.ModeSequential}, m, s, p, zaptest.NewLogger(t))

	r.Run(context.Background())

	assert.Equal(t, []string{"eth1"}, s.calls)
}

func TestRunner_LockedInterface(t *testing.T) {
	m, s, p := healthy()
	r := NewRunner(twoInterfaces, Settings{}, m, s, p, zaptest.NewLogger(t)).
		WithLocker(busyLocker{busy: "eth1"})

	report := r.Run(context.Background())

	eth1 := report.ByInterface()["eth1"]
	assert.Equal(t, StageMeasuring, eth1.FailedAt)
	assert.ErrorIs(t, eth1.Err, flowerr.ErrBusy)
	assert.Equal(t, []string{"eth0"}, m.Calls())
}

func TestRunner_Recorder(t *testing.T) {
	m, s, p := healthy()
	m.errs = map[string]error{"eth1": flowerr.ErrParse}
	rec := &fakeRecorder{}
	r := NewRunner(twoInterfaces, Settings{}, m, s, p, zaptest.NewLogger(t)).WithRecorder(rec)

	report := r.Run(context.Background())

	// a failing flush never changes the outcome
	assert.NoError(t, report.ByInterface()["eth0"].Err)
	assert.Equal(t, map[string]bool{"wan0": true, "wan1": false}, rec.records)
	assert.Equal(t, 1, rec.flushed)
}

func TestRunner_LaunchInterval(t *testing.T) {
	m, s, p := healthy()
	r := NewRunner(twoInterfaces, Settings{LaunchInterval: 100 * time.Millisecond}, m, s, p, zaptest.NewLogger(t))

	start := time.Now()
	report := r.Run(context.Background())

	assert.True(t, report.OK())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRunner_CancelledContext(t *testing.T) {
	m, s, p := healthy()
	r := NewRunner(twoInterfaces, Settings{LaunchInterval: time.Hour}, m, s, p, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := r.Run(ctx)

	assert.False(t, report.OK())
	assert.Empty(t, p.Calls())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "measuring", StageMeasuring.String())
	assert.Equal(t, "skipped", StageSkipped.String())
	assert.Equal(t, "unknown", Stage(42).String())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StagePublishing.Terminal())
}

func TestRunner_ConcurrentLogsBothFailures(t *testing.T) {
	m, s, p := healthy()
	m.errs = map[string]error{"eth0": &flowerr.ProcessError{ExitCode: 1}}
	s.errs = map[string]error{"eth0": flowerr.ErrNoData}

	core, logs := observer.New(zap.InfoLevel)
	r := NewRunner(twoInterfaces[:1], Settings{Mode: config.ModeConcurrent}, m, s, p, zap.New(core))

	report := r.Run(context.Background())

	o := report.Outcomes[0]
	assert.Equal(t, StageMeasuring, o.FailedAt)
	assert.ErrorIs(t, o.Err, flowerr.ErrProcess)

	queryLogs := logs.FilterMessage("metrics query failed as well").All()
	require.Len(t, queryLogs, 1)
	fields := queryLogs[0].ContextMap()
	assert.Equal(t, "eth0", fields["interface"])
	assert.Equal(t, "querying", fields["stage"])
	assert.Equal(t, "NoDataError", fields["kind"])

	assert.Equal(t, 1, logs.FilterMessage("interface failed").Len())
}
