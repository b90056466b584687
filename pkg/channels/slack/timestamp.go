package slack

import (
	"strconv"
	"strings"
	"time"
)

// slackTimestamp parses a Slack message ts ("1234567890.123456") into a time.Time, falling
// back to the zero time for malformed input rather than erroring — a message with a bad
// timestamp should still show up in history, just unordered.
func slackTimestamp(ts string) time.Time {
	secStr, fracStr, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if fracStr != "" {
		if frac, err := strconv.ParseInt(fracStr, 10, 64); err == nil {
			for i := len(fracStr); i < 9; i++ {
				frac *= 10
			}
			nsec = frac
		}
	}
	return time.Unix(sec, nsec).UTC()
}
