package domain

import (
	"regexp"
	"strings"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

// NormalizeTicker trims and upper-cases a symbol such as "aapl" or "brk.b".
// Anything other than letters, digits, dots and dashes is rejected, so a
// normalised ticker is always safe to use as a file name.
func NormalizeTicker(s string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return "", InvalidParam("ticker", "must not be empty")
	}
	if !tickerPattern.MatchString(t) {
		return "", InvalidParam("ticker", "invalid symbol %q", s)
	}
	return t, nil
}
