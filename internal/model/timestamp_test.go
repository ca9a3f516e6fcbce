package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	ts := time.Date(2025, 12, 3, 11, 0, 5, 0, berlin)
	assert.Equal(t, "20251203T100005Z", Canonical(ts))
	assert.Equal(t, "00010101T000000Z", Canonical(time.Time{}))
}

func TestParseBound(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"20251206T000000Z", "20251206T000000Z"},
		{"2025-12-06T01:00:00+01:00", "20251206T000000Z"},
		{"2025-12-06T00:00:00Z", "20251206T000000Z"},
	}
	for _, tt := range tests {
		got, err := ParseBound(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"2025-12-31", "20251231", "20251231T000000", "tomorrow"} {
		_, err := ParseBound(bad)
		assert.ErrorIs(t, err, ErrBadBound, bad)
	}
}
