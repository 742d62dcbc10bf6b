package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nettap/nettapd/internal/command"
	"github.com/nettap/nettapd/internal/history"
)

// Health states of the inline bridge.
const (
	StatusNormal   = "normal"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusBypass   = "bypass"
)

// DefaultHistorySize holds 24 hours of samples at the 30 s cadence.
const DefaultHistorySize = 2880

// Sample is one observation of the bridge data path.
type Sample struct {
	BridgeState    string    `json:"bridge_state"` // up, down, unknown
	WANLink        bool      `json:"wan_link"`
	LANLink        bool      `json:"lan_link"`
	BypassActive   bool      `json:"bypass_active"`
	WatchdogActive bool      `json:"watchdog_active"`
	LatencyMicros  int64     `json:"latency_us"`
	RxBytesDelta   uint64    `json:"rx_bytes_delta"`
	TxBytesDelta   uint64    `json:"tx_bytes_delta"`
	RxPacketsDelta uint64    `json:"rx_packets_delta"`
	TxPacketsDelta uint64    `json:"tx_packets_delta"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	HealthStatus   string    `json:"health_status"`
	Issues         []string  `json:"issues"`
	LastCheck      time.Time `json:"last_check"`
}

// Stats summarizes the retained history.
type Stats struct {
	Samples          int              `json:"samples"`
	AvgLatencyMicros float64          `json:"avg_latency_us"`
	TotalRxBytes     uint64           `json:"total_rx_bytes"`
	TotalTxBytes     uint64           `json:"total_tx_bytes"`
	TotalRxPackets   uint64           `json:"total_rx_packets"`
	TotalTxPackets   uint64           `json:"total_tx_packets"`
	StatusCounts     map[string]int   `json:"status_counts"`
	UptimePercent    float64          `json:"uptime_percent"`
	LongestDownSecs  int64            `json:"longest_down_seconds"`
}

type counters struct {
	rxBytes, txBytes, rxPackets, txPackets uint64
	valid                                  bool
}

// Config names the interfaces and paths the monitor reads.
type Config struct {
	BridgeInterface string
	WANInterface    string
	LANInterface    string
	BypassFile      string
	WatchdogUnit    string
	SysfsRoot       string // defaults to /sys/class/net
	HistorySize     int
}

// Monitor samples bridge health from sysfs on an external schedule.
// Exactly one goroutine calls Sample; readers take history snapshots.
type Monitor struct {
	cfg    Config
	runner command.Runner
	clock  clockwork.Clock

	mu              sync.Mutex
	prev            counters
	upSince         time.Time
	bypassFlag      bool
	samples         *history.Ring[Sample]
	assumedInterval time.Duration
}

// NewMonitor creates a bridge monitor.
func NewMonitor(cfg Config, runner command.Runner, clock clockwork.Clock) *Monitor {
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys/class/net"
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		cfg:             cfg,
		runner:          runner,
		clock:           clock,
		samples:         history.New[Sample](cfg.HistorySize),
		assumedInterval: 30 * time.Second,
	}
}

// Sample performs one observation cycle and appends it to history.
func (m *Monitor) Sample(ctx context.Context) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()

	state := m.readString(m.cfg.BridgeInterface, "operstate")
	wanLink := m.readCarrier(m.cfg.WANInterface)
	lanLink := m.readCarrier(m.cfg.LANInterface)
	current := m.readCounters(m.cfg.BridgeInterface)

	sample := Sample{
		BridgeState: state,
		WANLink:     wanLink,
		LANLink:     lanLink,
		LastCheck:   now,
		Issues:      []string{},
	}

	// Counter deltas: zero on first sample and on wrap/reset.
	if m.prev.valid && current.valid {
		sample.RxBytesDelta = wrapSafeDelta(current.rxBytes, m.prev.rxBytes)
		sample.TxBytesDelta = wrapSafeDelta(current.txBytes, m.prev.txBytes)
		sample.RxPacketsDelta = wrapSafeDelta(current.rxPackets, m.prev.rxPackets)
		sample.TxPacketsDelta = wrapSafeDelta(current.txPackets, m.prev.txPackets)
	}
	m.prev = current

	// Bridge uptime baseline.
	if state == "up" {
		if m.upSince.IsZero() {
			m.upSince = now
		}
		sample.UptimeSeconds = int64(now.Sub(m.upSince).Seconds())
	} else {
		m.upSince = time.Time{}
	}

	sample.BypassActive = m.bypassFlag || fileExists(m.cfg.BypassFile)
	sample.WatchdogActive = m.watchdogActive(ctx)

	sample.HealthStatus, sample.Issues = evaluate(sample)
	sample.LatencyMicros = estimateLatency(sample.HealthStatus)

	m.samples.Append(sample)
	return sample
}

// evaluate derives the health status and human-readable issues.
func evaluate(s Sample) (string, []string) {
	issues := []string{}

	if s.BridgeState == "down" {
		issues = append(issues, "Bridge interface is down")
	} else if s.BridgeState != "up" {
		issues = append(issues, "Bridge interface state is unknown")
	}
	if !s.WANLink {
		issues = append(issues, "WAN link is down")
	}
	if !s.LANLink {
		issues = append(issues, "LAN link is down")
	}
	if s.BypassActive {
		issues = append(issues, "Bypass mode active: traffic is not being inspected")
	}
	if !s.WatchdogActive {
		issues = append(issues, "Watchdog service is not running")
	}

	switch {
	case s.BypassActive:
		return StatusBypass, issues
	case s.BridgeState == "down" || (!s.WANLink && !s.LANLink):
		return StatusDown, issues
	case s.BridgeState != "up" || !s.WANLink || !s.LANLink:
		return StatusDegraded, issues
	default:
		return StatusNormal, issues
	}
}

// estimateLatency reports the nominal forwarding latency for a state:
// 50 us for a healthy software bridge, 3x when degraded, 0 when the
// path is down or bypassed (hardware passthrough).
func estimateLatency(status string) int64 {
	switch status {
	case StatusNormal:
		return 50
	case StatusDegraded:
		return 150
	default:
		return 0
	}
}

// TriggerBypass sets bypass mode and records the sentinel file.
func (m *Monitor) TriggerBypass() {
	m.mu.Lock()
	m.bypassFlag = true
	m.mu.Unlock()

	content := fmt.Sprintf("bypass engaged at %s\n", m.clock.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(m.cfg.BypassFile, []byte(content), 0o644); err != nil {
		log.Warn().Err(err).Str("path", m.cfg.BypassFile).Msg("Bypass sentinel write failed")
	}
	log.Warn().Msg("Bridge bypass engaged")
}

// DisableBypass clears bypass mode and removes the sentinel file.
func (m *Monitor) DisableBypass() {
	m.mu.Lock()
	m.bypassFlag = false
	m.mu.Unlock()

	if err := os.Remove(m.cfg.BypassFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", m.cfg.BypassFile).Msg("Bypass sentinel removal failed")
	}
	log.Info().Msg("Bridge bypass disabled")
}

// Latest returns the most recent sample.
func (m *Monitor) Latest() (Sample, bool) {
	return m.samples.Latest()
}

// History returns retained samples, newest first, capped at limit
// (0 means all).
func (m *Monitor) History(limit int) []Sample {
	snapshot := m.samples.Snapshot()
	if limit > 0 && limit < len(snapshot) {
		snapshot = snapshot[:limit]
	}
	return snapshot
}

// Stats computes aggregates over the entire retained history.
func (m *Monitor) Stats() Stats {
	samples := m.samples.SnapshotOldestFirst()

	stats := Stats{
		Samples:      len(samples),
		StatusCounts: map[string]int{},
	}
	if len(samples) == 0 {
		return stats
	}

	var latencySum int64
	latencyCount := 0
	downStreak, longestStreak := 0, 0

	for _, s := range samples {
		if s.LatencyMicros > 0 {
			latencySum += s.LatencyMicros
			latencyCount++
		}
		stats.TotalRxBytes += s.RxBytesDelta
		stats.TotalTxBytes += s.TxBytesDelta
		stats.TotalRxPackets += s.RxPacketsDelta
		stats.TotalTxPackets += s.TxPacketsDelta
		stats.StatusCounts[s.HealthStatus]++

		if s.HealthStatus == StatusDown {
			downStreak++
			if downStreak > longestStreak {
				longestStreak = downStreak
			}
		} else {
			downStreak = 0
		}
	}

	if latencyCount > 0 {
		stats.AvgLatencyMicros = float64(latencySum) / float64(latencyCount)
	}
	healthy := stats.StatusCounts[StatusNormal] + stats.StatusCounts[StatusDegraded]
	stats.UptimePercent = float64(healthy) / float64(len(samples)) * 100
	stats.LongestDownSecs = int64(longestStreak) * int64(m.assumedInterval.Seconds())

	return stats
}

func (m *Monitor) watchdogActive(ctx context.Context) bool {
	if m.runner == nil || m.cfg.WatchdogUnit == "" {
		return false
	}
	result, err := m.runner.Run(ctx, 5*time.Second, "systemctl", "is-active", m.cfg.WatchdogUnit)
	if err != nil {
		return false
	}
	return strings.TrimSpace(result.Stdout) == "active"
}

// Sysfs reads are best-effort: a missing file yields the zero value.

func (m *Monitor) readString(iface, file string) string {
	data, err := os.ReadFile(filepath.Join(m.cfg.SysfsRoot, iface, file))
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

func (m *Monitor) readCarrier(iface string) bool {
	data, err := os.ReadFile(filepath.Join(m.cfg.SysfsRoot, iface, "carrier"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

func (m *Monitor) readCounters(iface string) counters {
	read := func(name string) (uint64, bool) {
		data, err := os.ReadFile(filepath.Join(m.cfg.SysfsRoot, iface, "statistics", name))
		if err != nil {
			return 0, false
		}
		n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}

	var c counters
	var ok bool
	if c.rxBytes, ok = read("rx_bytes"); !ok {
		return counters{}
	}
	c.txBytes, _ = read("tx_bytes")
	c.rxPackets, _ = read("rx_packets")
	c.txPackets, _ = read("tx_packets")
	c.valid = true
	return c
}

func wrapSafeDelta(current, prev uint64) uint64 {
	if current < prev {
		return 0
	}
	return current - prev
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
