package executor

import (
	"strconv"
	"strings"
)

// parseCost extracts a usage cost from agent output. Providers that report
// usage emit a JSON record containing a "total_cost_usd" field; anything
// else yields zero.
func parseCost(output string) float64 {
	const key = `"total_cost_usd"`

	idx := strings.LastIndex(output, key)
	if idx < 0 {
		return 0
	}

	rest := output[idx+len(key):]
	rest = strings.TrimLeft(rest, " \t:")

	end := 0
	for end < len(rest) {
		c := rest[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == 'e' || c == 'E' || c == '+' {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}

	cost, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil || cost < 0 {
		return 0
	}
	return cost
}
