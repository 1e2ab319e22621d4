package pipeline

// Stage is a state in the per-interface pipeline:
//
//	Pending -> Measuring -> Querying -> Calculating -> Publishing -> Done
//
// with Failed reachable from any non-terminal state. Skipped marks interfaces
// never finished because the abort policy stopped the run.
type Stage int

const (
	StagePending Stage = iota
	StageMeasuring
	StageQuerying
	StageCalculating
	StagePublishing
	StageDone
	StageFailed
	StageSkipped
)

var stageNames = [...]string{
	StagePending:     "pending",
	StageMeasuring:   "measuring",
	StageQuerying:    "querying",
	StageCalculating: "calculating",
	StagePublishing:  "publishing",
	StageDone:        "done",
	StageFailed:      "failed",
	StageSkipped:     "skipped",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed || s == StageSkipped
}
