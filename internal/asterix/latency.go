package asterix

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type timeUnit struct {
	suffix string
	// Exactly one of div and mul is set, so the scaling is a single exact
	// floating point operation.
	div float64
	mul float64
}

// Checked in order: every multi-letter unit precedes "s", and "ms"
// precedes "m".
var timeUnits = []timeUnit{
	{suffix: "ns", div: 1e9},
	{suffix: "µs", div: 1e6}, // U+00B5 micro sign
	{suffix: "μs", div: 1e6}, // U+03BC greek mu
	{suffix: "us", div: 1e6},
	{suffix: "ms", div: 1e3},
	{suffix: "s", mul: 1},
	{suffix: "m", mul: 60},
	{suffix: "h", mul: 3600},
}

// ParseExecutionTime converts a service duration such as "2.871s",
// "115.961ms", "1.5m" or "500ns" to seconds. A bare number is seconds.
func ParseExecutionTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	for _, u := range timeUnits {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		v, err := parseMagnitude(s, strings.TrimSuffix(s, u.suffix))
		if err != nil {
			return 0, err
		}
		if u.div != 0 {
			return v / u.div, nil
		}
		return v * u.mul, nil
	}
	return parseMagnitude(s, s)
}

func parseMagnitude(orig, num string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid execution time %q", orig)
	}
	return v, nil
}
