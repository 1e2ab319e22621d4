// Package ratio combines an active and a passive bandwidth observation.
package ratio

import (
	"fmt"
	"math"

	"GoFlowRatio/pkg/flowerr"
)

// MbpsToBps is the fixed unit contract between the speed test (Mbps) and the
// traffic monitor (bps).
const MbpsToBps = 1_000_000.0

// Result is the value handed to the publisher, exactly once per interface.
type Result struct {
	PublishName string
	Ratio       float64
}

// Compute returns measured_bps / observed_bps.
func Compute(measuredMbps, observedBps float64) (float64, error) {
	if math.IsNaN(observedBps) || math.IsInf(observedBps, 0) || observedBps <= 0 {
		return 0, fmt.Errorf("%w: observed bandwidth %v bps", flowerr.ErrDivision, observedBps)
	}
	if math.IsNaN(measuredMbps) || math.IsInf(measuredMbps, 0) || measuredMbps <= 0 {
		return 0, fmt.Errorf("%w: measured bandwidth %v Mbps", flowerr.ErrInvalidSample, measuredMbps)
	}

	r := measuredMbps * MbpsToBps / observedBps
	if math.IsInf(r, 0) {
		return 0, fmt.Errorf("%w: ratio overflow (%v Mbps / %v bps)", flowerr.ErrDivision, measuredMbps, observedBps)
	}

	return r, nil
}
