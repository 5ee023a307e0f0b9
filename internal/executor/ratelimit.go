package executor

import (
	"regexp"
	"strings"
	"time"
)

// Rate-limit handling constants. A provider 429 carries a reset timestamp;
// the scheduler waits until then plus a buffer. When no timestamp parses,
// it falls back to the default wait.
const (
	RateLimitBuffer      = 60 * time.Second
	DefaultRateLimitWait = 30 * time.Minute
)

// resetTimePattern matches the reset timestamp embedded in provider
// rate-limit messages, e.g. "... reset at 2026-01-02 15:04:05".
var resetTimePattern = regexp.MustCompile(`reset at (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)

// IsRateLimitMessage reports whether text looks like a provider rate-limit
// error.
func IsRateLimitMessage(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") {
		return true
	}
	return resetTimePattern.MatchString(text)
}

// ParseResetTime extracts the reset time from a rate-limit message.
// The zero time is returned when no timestamp parses.
func ParseResetTime(text string) time.Time {
	m := resetTimePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ResumeAt computes when admission may resume for a rate limit reported at
// now with the given reset time. A zero resetAt selects the default wait.
func ResumeAt(now, resetAt time.Time) time.Time {
	if resetAt.IsZero() {
		return now.Add(DefaultRateLimitWait)
	}
	resume := resetAt.Add(RateLimitBuffer)
	if resume.Before(now) {
		return now
	}
	return resume
}
