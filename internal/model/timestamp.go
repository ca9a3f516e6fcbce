package model

import (
	"errors"
	"time"
)

// CanonicalLayout is the fixed-width UTC form used for every timestamp
// comparison: YYYYMMDDTHHMMSSZ. Lexicographic order equals time order only
// for values in exactly this form.
const CanonicalLayout = "20060102T150405Z"

// Canonical renders t in CanonicalLayout after converting it to UTC.
func Canonical(t time.Time) string {
	return t.UTC().Format(CanonicalLayout)
}

// ErrBadBound is returned by ParseBound for values it cannot read.
var ErrBadBound = errors.New("time bound must be YYYYMMDDTHHMMSSZ or RFC 3339")

// ParseBound reads a user-supplied upper time bound, canonical or RFC 3339,
// and returns it in CanonicalLayout. Empty means no bound and is returned
// unchanged.
func ParseBound(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if _, err := time.Parse(CanonicalLayout, v); err == nil {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", ErrBadBound
	}
	return Canonical(t), nil
}
