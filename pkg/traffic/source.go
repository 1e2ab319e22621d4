// Package traffic reads the passive traffic monitor's bandwidth figure for an
// interface from the time-series store.
package traffic

import (
	"context"
	"time"
)

// Sample is the most recent observed bandwidth for one interface, in bits per second.
type Sample struct {
	Interface    string
	BandwidthBps float64
	Timestamp    time.Time
	Series       map[string]string // labels of the series the value came from
}

// Source is implemented by anything that can report observed bandwidth.
type Source interface {
	// Observe returns the latest sample for iface.
	Observe(ctx context.Context, iface string) (Sample, error)
}
