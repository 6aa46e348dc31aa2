package domain

import (
	"strconv"
	"strings"
)

// Horizons is an ordered set of distinct positive holding periods, in
// trading days.
type Horizons []int

// NewHorizons drops non-positive values and duplicates, keeping the order of
// first occurrence. It fails when nothing usable remains.
func NewHorizons(values []int) (Horizons, error) {
	seen := make(map[int]struct{}, len(values))
	out := make(Horizons, 0, len(values))
	for _, h := range values {
		if h <= 0 {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, &InvalidParameterError{Field: "horizons", Reason: "please provide at least one valid integer horizon"}
	}
	return out, nil
}

// ParseHorizons parses a comma-separated list such as "5, 10,20". Tokens that
// are not plain digit strings are ignored.
func ParseHorizons(text string) (Horizons, error) {
	var values []int
	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" || strings.TrimLeft(tok, "0123456789") != "" {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		values = append(values, n)
	}
	return NewHorizons(values)
}

// String renders the set in the same comma-separated form ParseHorizons
// accepts.
func (h Horizons) String() string {
	parts := make([]string, len(h))
	for i, v := range h {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
