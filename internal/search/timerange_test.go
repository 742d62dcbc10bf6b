package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeRange(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		from, to     string
		expectedFrom time.Time
		expectedTo   time.Time
	}{
		{
			name:         "valid bounds",
			from:         "2026-02-20T00:00:00Z",
			to:           "2026-02-25T00:00:00Z",
			expectedFrom: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
			expectedTo:   time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC),
		},
		{
			name:         "missing bounds fall back to 24h",
			from:         "",
			to:           "",
			expectedFrom: now.Add(-24 * time.Hour),
			expectedTo:   now,
		},
		{
			name:         "garbage falls back to 24h",
			from:         "yesterday",
			to:           "today",
			expectedFrom: now.Add(-24 * time.Hour),
			expectedTo:   now,
		},
		{
			name:         "inverted interval falls back",
			from:         "2026-02-25T00:00:00Z",
			to:           "2026-02-20T00:00:00Z",
			expectedFrom: now.Add(-24 * time.Hour),
			expectedTo:   now,
		},
		{
			name:         "offset normalized to UTC",
			from:         "2026-02-20T02:00:00+02:00",
			to:           "2026-02-21T00:00:00Z",
			expectedFrom: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
			expectedTo:   time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC),
		},
		{
			name:         "no timezone read as UTC",
			from:         "2026-02-20T00:00:00",
			to:           "2026-02-21T00:00:00",
			expectedFrom: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
			expectedTo:   time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseTimeRange(tc.from, tc.to, now)
			assert.True(t, got.From.Equal(tc.expectedFrom), "from: got %v expected %v", got.From, tc.expectedFrom)
			assert.True(t, got.To.Equal(tc.expectedTo), "to: got %v expected %v", got.To, tc.expectedTo)
		})
	}
}
