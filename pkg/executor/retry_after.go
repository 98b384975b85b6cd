package executor

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseRetryAfter parses a Retry-After header value.
// It supports both delay-seconds and HTTP-date formats; a date in the past
// yields zero. ok is false when the header is absent or unparseable.
func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseFloat(header, 64); err == nil && !math.IsNaN(seconds) {
		switch {
		case seconds < 0:
			return 0, true
		case seconds >= float64(math.MaxInt64)/float64(time.Second):
			return time.Duration(math.MaxInt64), true
		}
		return time.Duration(seconds * float64(time.Second)), true
	}

	if t, err := http.ParseTime(header); err == nil {
		return max(0, t.Sub(now)), true
	}

	return 0, false
}
