package traffic

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimulatedSource reports bandwidth with random variance around a base load.
type SimulatedSource struct {
	BaseBps float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedSource creates a new instance.
func NewSimulatedSource(baseBps float64) *SimulatedSource {
	if baseBps <= 0 {
		baseBps = 50_000_000
	}
	return &SimulatedSource{
		BaseBps: baseBps,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SimulatedSource) Observe(ctx context.Context, iface string) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	// +/- 5% noise
	bps := s.BaseBps * (0.95 + s.rnd.Float64()*0.1)
	s.mu.Unlock()

	return Sample{
		Interface:    iface,
		BandwidthBps: bps,
		Timestamp:    time.Now(),
		Series:       map[string]string{DefaultLabel: iface},
	}, nil
}
