package speedtest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"GoFlowRatio/pkg/flowerr"
)

// downloadPattern matches the first "Download...: <float> Mbps" in the speed
// test's free text output. Ookla prints "Download:   93.45 Mbps (data used ...)".
var downloadPattern = regexp.MustCompile(`Download[^:\r\n]*:\s*([0-9]+(?:\.[0-9]+)?)\s*Mbps`)

// ParseDownload extracts the download rate in Mbps.
func ParseDownload(output string) (float64, error) {
	m := downloadPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("%w: no download rate found", flowerr.ErrParse)
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: download rate %q: %v", flowerr.ErrParse, m[1], err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: download rate %q out of range", flowerr.ErrParse, m[1])
	}

	return v, nil
}
