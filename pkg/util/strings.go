package util

import (
	"math"
	"strconv"
	"strings"
)

// ParseIntDefault returns def for empty or malformed input.
func ParseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

// ParseFloat accepts a finite number with optional spaces and quotes, the
// way exchanges often encode prices.
func ParseFloat(s string) (float64, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func SplitCSV(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
