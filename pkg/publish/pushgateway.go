package publish

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"GoFlowRatio/pkg/ratio"
)

// PushRecorder mirrors each run's results to a Prometheus Pushgateway.
type PushRecorder struct {
	pusher   *push.Pusher
	ratio    *prometheus.GaugeVec
	measured *prometheus.GaugeVec
	observed *prometheus.GaugeVec
	up       *prometheus.GaugeVec
	lastRun  prometheus.Gauge
	logger   *zap.Logger
}

func NewPushRecorder(url, job, instance string, logger *zap.Logger) *PushRecorder {
	if logger == nil {
		logger = zap.L()
	}

	r := &PushRecorder{
		ratio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowratio_ratio",
			Help: "Measured to observed downlink throughput ratio.",
		}, []string{"nic"}),
		measured: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowratio_measured_bps",
			Help: "Speed test download rate in bits per second.",
		}, []string{"nic"}),
		observed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowratio_observed_bps",
			Help: "Traffic monitor bandwidth in bits per second.",
		}, []string{"nic"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowratio_interface_up",
			Help: "1 if the last run completed for the interface, 0 otherwise.",
		}, []string{"nic"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowratio_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run.",
		}),
		logger: logger.Named("pushgateway"),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(r.ratio, r.measured, r.observed, r.up, r.lastRun)

	r.pusher = push.New(url, job).Gatherer(registry)
	if instance != "" {
		r.pusher = r.pusher.Grouping("instance", instance)
	}

	return r
}

// Record stores one interface outcome. Failed interfaces drop their ratio,
// and any reading the run did not produce is dropped rather than repeated.
func (r *PushRecorder) Record(nic string, measuredMbps, observedBps, value float64, ok bool) {
	setOrDelete(r.measured, nic, measuredMbps*ratio.MbpsToBps)
	setOrDelete(r.observed, nic, observedBps)

	if !ok {
		r.ratio.DeleteLabelValues(nic)
		r.up.WithLabelValues(nic).Set(0)
		return
	}
	r.ratio.WithLabelValues(nic).Set(value)
	r.up.WithLabelValues(nic).Set(1)
}

// Flush replaces the job's metric group on the gateway.
func (r *PushRecorder) Flush(ctx context.Context) error {
	r.lastRun.SetToCurrentTime()
	if err := r.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushgateway: %w", err)
	}
	r.logger.Debug("run metrics pushed")
	return nil
}

// setOrDelete keeps a series only while this run produced a positive value for it.
func setOrDelete(g *prometheus.GaugeVec, nic string, v float64) {
	if v > 0 {
		g.WithLabelValues(nic).Set(v)
		return
	}
	g.DeleteLabelValues(nic)
}
