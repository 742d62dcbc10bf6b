package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettap/nettapd/internal/command"
)

// stubRunner answers systemctl is-active.
type stubRunner struct {
	active bool
}

func (s stubRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (command.Result, error) {
	if s.active {
		return command.Result{Stdout: "active\n"}, nil
	}
	return command.Result{Stdout: "inactive\n", Code: 3}, nil
}

type sysfs struct {
	t    *testing.T
	root string
}

func newSysfs(t *testing.T) sysfs {
	t.Helper()
	return sysfs{t: t, root: t.TempDir()}
}

func (s sysfs) write(iface, file, content string) {
	s.t.Helper()
	path := filepath.Join(s.root, iface, file)
	require.NoError(s.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(s.t, os.WriteFile(path, []byte(content), 0o644))
}

func (s sysfs) setCounters(iface string, rxB, txB, rxP, txP uint64) {
	s.write(iface, "statistics/rx_bytes", strconv.FormatUint(rxB, 10)+"\n")
	s.write(iface, "statistics/tx_bytes", strconv.FormatUint(txB, 10)+"\n")
	s.write(iface, "statistics/rx_packets", strconv.FormatUint(rxP, 10)+"\n")
	s.write(iface, "statistics/tx_packets", strconv.FormatUint(txP, 10)+"\n")
}

func newTestMonitor(t *testing.T, fs sysfs, watchdog bool) *Monitor {
	t.Helper()
	return NewMonitor(Config{
		BridgeInterface: "br0",
		WANInterface:    "eth0",
		LANInterface:    "eth1",
		BypassFile:      filepath.Join(t.TempDir(), "bypass"),
		WatchdogUnit:    "nettap-watchdog",
		SysfsRoot:       fs.root,
		HistorySize:     16,
	}, stubRunner{active: watchdog}, clockwork.NewFakeClockAt(time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)))
}

func TestSampleHealthy(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")
	fs.setCounters("br0", 1000, 2000, 10, 20)

	m := newTestMonitor(t, fs, true)
	sample := m.Sample(context.Background())

	assert.Equal(t, StatusNormal, sample.HealthStatus)
	assert.Equal(t, int64(50), sample.LatencyMicros)
	assert.Empty(t, sample.Issues)
	// First sample: deltas are zero.
	assert.Zero(t, sample.RxBytesDelta)
	assert.Zero(t, sample.TxBytesDelta)
}

func TestSampleDeltas(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")
	fs.setCounters("br0", 1000, 2000, 10, 20)

	m := newTestMonitor(t, fs, true)
	m.Sample(context.Background())

	fs.setCounters("br0", 1500, 2300, 15, 26)
	sample := m.Sample(context.Background())

	assert.Equal(t, uint64(500), sample.RxBytesDelta)
	assert.Equal(t, uint64(300), sample.TxBytesDelta)
	assert.Equal(t, uint64(5), sample.RxPacketsDelta)
	assert.Equal(t, uint64(6), sample.TxPacketsDelta)
}

func TestSampleCounterWrapYieldsZero(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")
	fs.setCounters("br0", 5000, 5000, 50, 50)

	m := newTestMonitor(t, fs, true)
	m.Sample(context.Background())

	// Interface reset: counters restart below previous values.
	fs.setCounters("br0", 100, 6000, 1, 60)
	sample := m.Sample(context.Background())

	assert.Zero(t, sample.RxBytesDelta)
	assert.Equal(t, uint64(1000), sample.TxBytesDelta)
	assert.Zero(t, sample.RxPacketsDelta)
}

func TestSampleBridgeDown(t *testing.T) {
	t.Parallel()

	// S3: bridge down, both carriers up, identical counters.
	fs := newSysfs(t)
	fs.write("br0", "operstate", "down\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")
	fs.setCounters("br0", 1000, 1000, 10, 10)

	m := newTestMonitor(t, fs, true)
	m.Sample(context.Background())
	sample := m.Sample(context.Background())

	assert.Equal(t, StatusDown, sample.HealthStatus)
	assert.Equal(t, int64(0), sample.LatencyMicros)
	assert.Zero(t, sample.RxBytesDelta)
	assert.Contains(t, sample.Issues, "Bridge interface is down")
	assert.Zero(t, sample.UptimeSeconds)
}

func TestSampleDegraded(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "0\n")

	m := newTestMonitor(t, fs, true)
	sample := m.Sample(context.Background())

	assert.Equal(t, StatusDegraded, sample.HealthStatus)
	assert.Equal(t, int64(150), sample.LatencyMicros)
	assert.Contains(t, sample.Issues, "LAN link is down")
}

func TestSampleMissingSysfsIsUnknown(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	m := newTestMonitor(t, fs, true)
	sample := m.Sample(context.Background())

	assert.Equal(t, "unknown", sample.BridgeState)
	assert.False(t, sample.WANLink)
	// Unknown bridge + no carriers at all reads as a down path.
	assert.Equal(t, StatusDown, sample.HealthStatus)
}

func TestBypassLifecycle(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")

	m := newTestMonitor(t, fs, true)

	m.TriggerBypass()
	sample := m.Sample(context.Background())
	assert.Equal(t, StatusBypass, sample.HealthStatus)
	assert.True(t, sample.BypassActive)
	assert.FileExists(t, m.cfg.BypassFile)

	m.DisableBypass()
	sample = m.Sample(context.Background())
	assert.Equal(t, StatusNormal, sample.HealthStatus)
	assert.NoFileExists(t, m.cfg.BypassFile)
}

func TestBypassSentinelFileAlone(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")

	m := newTestMonitor(t, fs, true)
	// Another process wrote the sentinel.
	require.NoError(t, os.WriteFile(m.cfg.BypassFile, []byte("x"), 0o644))

	sample := m.Sample(context.Background())
	assert.True(t, sample.BypassActive)
	assert.Equal(t, StatusBypass, sample.HealthStatus)
}

func TestWatchdogInactiveIsIssueNotDegraded(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")

	m := newTestMonitor(t, fs, false)
	sample := m.Sample(context.Background())

	assert.False(t, sample.WatchdogActive)
	assert.Contains(t, sample.Issues, "Watchdog service is not running")
	assert.Equal(t, StatusNormal, sample.HealthStatus)
}

func TestStats(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")
	fs.setCounters("br0", 0, 0, 0, 0)

	m := newTestMonitor(t, fs, true)
	m.Sample(context.Background())

	fs.setCounters("br0", 100, 200, 1, 2)
	m.Sample(context.Background())

	fs.write("br0", "operstate", "down\n")
	m.Sample(context.Background())
	m.Sample(context.Background())

	stats := m.Stats()
	assert.Equal(t, 4, stats.Samples)
	assert.Equal(t, uint64(100), stats.TotalRxBytes)
	assert.Equal(t, uint64(200), stats.TotalTxBytes)
	assert.Equal(t, 2, stats.StatusCounts[StatusNormal])
	assert.Equal(t, 2, stats.StatusCounts[StatusDown])
	assert.InDelta(t, 50.0, stats.UptimePercent, 0.01)
	assert.Equal(t, int64(60), stats.LongestDownSecs) // 2-sample streak at 30 s
	assert.InDelta(t, 50.0, stats.AvgLatencyMicros, 0.01)
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	fs := newSysfs(t)
	fs.write("br0", "operstate", "up\n")
	fs.write("eth0", "carrier", "1\n")
	fs.write("eth1", "carrier", "1\n")

	m := newTestMonitor(t, fs, true)
	for i := 0; i < 40; i++ {
		m.Sample(context.Background())
	}

	assert.Len(t, m.History(0), 16)
	assert.Len(t, m.History(5), 5)
}
