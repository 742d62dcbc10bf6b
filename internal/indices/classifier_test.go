package indices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		index    string
		expected string
	}{
		{"arkime sessions", "arkime-sessions3-260101", TierCold},
		{"bare sessions prefix", "sessions2-260101", TierCold},
		{"suricata alerts", "suricata-alert-2025-12-01", TierWarm},
		{"zeek conn", "zeek-conn-2026.02.25", TierHot},
		{"zeek dns", "zeek-dns-2026.02.25", TierHot},
		{"uppercase prefix", "SURICATA-alert-2025-12-01", TierWarm},
		{"unrelated", "filebeat-7.10.2-2026.01.01", TierUnknown},
		{"empty", "", TierUnknown},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, Tier(tc.index))
		})
	}
}

func TestIndexDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		index    string
		expected string
		ok       bool
	}{
		{"dotted", "zeek-conn-2026.02.25", "2026-02-25", true},
		{"dashed", "suricata-alert-2025-12-01", "2025-12-01", true},
		{"compact", "arkime-sessions3-260101", "2026-01-01", true},
		{"no date", "zeek-conn-current", "", false},
		{"invalid calendar date", "zeek-conn-2026.13.45", "", false},
		{"trailing text after date", "zeek-conn-2026.02.25-old", "", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := IndexDate(tc.index)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.expected, got.Format("2006-01-02"))
				assert.Equal(t, time.UTC, got.Location())
				assert.Equal(t, 0, got.Hour())
			}
		})
	}
}

func TestIsSystem(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSystem(".opensearch-observability"))
	assert.True(t, IsSystem(".kibana_1"))
	assert.False(t, IsSystem("zeek-conn-2026.02.25"))
}
