package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreDeviceCritical(t *testing.T) {
	t.Parallel()

	// Every factor maxed: 35+20+15+15+15 clamps at 100.
	stats := DeviceStats{
		AlertCount:               50,
		ConnectionCount:          5000,
		NetworkAvgConnections:    100,
		NetworkStddevConnections: 50,
		ExternalConnectionCount:  90,
		TotalConnectionCount:     100,
		PortsUsed:                []int{4444, 31337},
		OrigBytes:                80000,
		RespBytes:                20000,
	}

	score := ScoreDevice(stats)

	assert.Equal(t, 100, score.Score)
	assert.Equal(t, "critical", score.Level)
	require.Len(t, score.Factors, 5)

	maxSum := 0
	factorSum := 0
	for _, f := range score.Factors {
		maxSum += f.Max
		factorSum += f.Score
	}
	assert.Equal(t, 100, maxSum)
	assert.Equal(t, 100, factorSum)
}

func TestScoreDeviceQuiet(t *testing.T) {
	t.Parallel()

	score := ScoreDevice(DeviceStats{
		ConnectionCount:          10,
		NetworkAvgConnections:    100,
		NetworkStddevConnections: 50,
		ExternalConnectionCount:  1,
		TotalConnectionCount:     10,
		PortsUsed:                []int{443, 53},
	})

	assert.Equal(t, 0, score.Score)
	assert.Equal(t, "low", score.Level)
}

func TestScoreBoundsAlwaysValid(t *testing.T) {
	t.Parallel()

	cases := []DeviceStats{
		{},
		{AlertCount: 1000000, OrigBytes: 1 << 60, PortsUsed: []int{65535}},
		{TotalConnectionCount: -1, OrigBytes: -5, RespBytes: -5},
		{NetworkStddevConnections: -1, NetworkAvgConnections: -1, ConnectionCount: 99999},
	}

	for _, stats := range cases {
		score := ScoreDevice(stats)
		assert.GreaterOrEqual(t, score.Score, 0)
		assert.LessOrEqual(t, score.Score, 100)
		assert.Len(t, score.Factors, 5)
		assert.Contains(t, []string{"low", "medium", "high", "critical"}, score.Level)
	}
}

func TestAlertFactorBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count    int
		expected int
	}{
		{0, 0}, {1, 10}, {2, 10}, {3, 20}, {5, 20},
		{6, 30}, {10, 30}, {11, 35}, {100, 35},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, scoreAlerts(tc.count).Score, "count=%d", tc.count)
	}
}

func TestConnectionAnomalyBands(t *testing.T) {
	t.Parallel()

	base := DeviceStats{NetworkAvgConnections: 100, NetworkStddevConnections: 10}

	tests := []struct {
		name     string
		count    int
		expected int
	}{
		{"at mean", 100, 0},
		{"one sigma", 110, 0},
		{"just above one sigma", 111, 10},
		{"two to three sigma", 125, 15},
		{"beyond three sigma", 200, 20},
	}
	for _, tc := range tests {
		stats := base
		stats.ConnectionCount = tc.count
		assert.Equal(t, tc.expected, scoreConnectionAnomaly(stats).Score, tc.name)
	}

	// Degenerate baseline yields zero.
	assert.Equal(t, 0, scoreConnectionAnomaly(DeviceStats{ConnectionCount: 1000}).Score)
}

func TestPortFactor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 15, scorePorts([]int{443, 31337}).Score)
	assert.Equal(t, 8, scorePorts([]int{443, 7777}).Score)
	assert.Equal(t, 0, scorePorts([]int{80, 443, 22}).Score)
	assert.Equal(t, 0, scorePorts(nil).Score)
}

func TestExfiltrationBands(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, scoreExfiltration(DeviceStats{}).Score)
	assert.Equal(t, 0, scoreExfiltration(DeviceStats{OrigBytes: 5, RespBytes: 95}).Score)
	assert.Equal(t, 5, scoreExfiltration(DeviceStats{OrigBytes: 20, RespBytes: 80}).Score)
	assert.Equal(t, 10, scoreExfiltration(DeviceStats{OrigBytes: 40, RespBytes: 60}).Score)
	assert.Equal(t, 15, scoreExfiltration(DeviceStats{OrigBytes: 60, RespBytes: 40}).Score)
}

func TestLevelBanding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "low", Level(0))
	assert.Equal(t, "low", Level(24))
	assert.Equal(t, "medium", Level(25))
	assert.Equal(t, "medium", Level(49))
	assert.Equal(t, "high", Level(50))
	assert.Equal(t, "high", Level(74))
	assert.Equal(t, "critical", Level(75))
	assert.Equal(t, "critical", Level(100))
}
