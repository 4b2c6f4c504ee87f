package util

import (
	"strconv"
	"strings"
	"time"
)

// msThreshold separates unix seconds from unix milliseconds; 1e11 seconds is
// past the year 5000.
const msThreshold = 1e11

// ParseTime reads an RFC3339 timestamp or a unix time in seconds or
// milliseconds, optionally quoted. The result is UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case n <= 0:
			return time.Time{}, false
		case n > msThreshold:
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
