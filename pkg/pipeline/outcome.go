package pipeline

import (
	"time"

	"GoFlowRatio/pkg/config"
)

// Outcome records how far one interface got and why it stopped.
type Outcome struct {
	Interface    config.Interface
	Stage        Stage
	FailedAt     Stage // meaningful only when Stage is StageFailed
	MeasuredMbps float64
	ObservedBps  float64
	Ratio        float64
	Err          error
	Duration     time.Duration
}

// OK is true when the ratio was published.
func (o Outcome) OK() bool { return o.Stage == StageDone }

// Report holds one run's outcomes in configured interface order.
type Report struct {
	Started  time.Time
	Duration time.Duration
	Outcomes []Outcome
}

// OK is true only when every interface reached Done.
func (r Report) OK() bool {
	for _, o := range r.Outcomes {
		if !o.OK() {
			return false
		}
	}
	return true
}

// Failed returns failed and skipped outcomes.
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// ByInterface keys outcomes by measurement interface name.
func (r Report) ByInterface() map[string]Outcome {
	m := make(map[string]Outcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.Interface.Name] = o
	}
	return m
}
