package speedtest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SimulatedMeasurer fabricates speed test output so the whole pipeline can run
// on a machine without the speed test binary.
type SimulatedMeasurer struct {
	BaseMbps float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedMeasurer(baseMbps float64) *SimulatedMeasurer {
	if baseMbps <= 0 {
		baseMbps = 100
	}
	return &SimulatedMeasurer{
		BaseMbps: baseMbps,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Output renders text shaped like the real tool's report.
func (s *SimulatedMeasurer) Output(iface string) string {
	s.mu.Lock()
	// +/- 10% around the base rate
	download := s.BaseMbps * (0.9 + s.rnd.Float64()*0.2)
	s.mu.Unlock()
	upload := download / 10

	return fmt.Sprintf(`
   Speedtest by Ookla

      Server: Simulated - Local (id: 0)
         ISP: Simulated
Idle Latency:     2.10 ms   (jitter: 0.05ms, low: 2.05ms, high: 2.20ms)
    Download:   %.2f Mbps (data used: 100.0 MB)
      Upload:   %.2f Mbps (data used: 10.0 MB)
 Packet Loss:     0.0%%
  Interface: %s
`, download, upload, iface)
}

// Measure parses generated output the same way real output is parsed.
func (s *SimulatedMeasurer) Measure(ctx context.Context, iface string) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	mbps, err := ParseDownload(s.Output(iface))
	if err != nil {
		return Sample{}, err
	}

	return Sample{Interface: iface, DownloadMbps: mbps}, nil
}
