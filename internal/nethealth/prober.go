// Package nethealth probes external reachability (ICMP latency, DNS
// resolution time, packet loss) and keeps a bounded rolling history
// with percentile statistics.
package nethealth

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nettap/nettapd/internal/history"
)

// Connectivity states derived from a probe cycle.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusUnknown  = "unknown"
)

// DefaultHistorySize holds 48 hours of samples at the 60 s cadence.
const DefaultHistorySize = 2880

// Degradation thresholds.
const (
	degradedLatencyMs = 100.0
	degradedDNSMs     = 500.0
	degradedLossPct   = 5.0
	downLossPct       = 50.0
)

// Sample is one probe cycle result. Latency and DNS time are nil when
// every probe of that kind failed.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	LatencyMs     *float64  `json:"latency_ms"`
	DNSResolveMs  *float64  `json:"dns_resolve_ms"`
	PacketLossPct float64   `json:"packet_loss_pct"`
	Status        string    `json:"status"`
}

// Stats summarizes the retained history.
type Stats struct {
	Samples          int            `json:"samples"`
	AvgLatencyMs     float64        `json:"avg_latency_ms"`
	MinLatencyMs     float64        `json:"min_latency_ms"`
	MaxLatencyMs     float64        `json:"max_latency_ms"`
	P95LatencyMs     float64        `json:"p95_latency_ms"`
	AvgDNSResolveMs  float64        `json:"avg_dns_resolve_ms"`
	AvgPacketLossPct float64        `json:"avg_packet_loss_pct"`
	StatusCounts     map[string]int `json:"status_counts"`
	UptimePercent    float64        `json:"uptime_percent"`
	SpanHours        float64        `json:"span_hours"`
}

// PingResult reports one ICMP target probe.
type PingResult struct {
	RTT  time.Duration
	Sent int
	Recv int
}

// Pinger sends ICMP echo requests to one target. The production
// implementation wraps pro-bing; tests substitute a stub.
type Pinger interface {
	Ping(ctx context.Context, target string, timeout time.Duration) (PingResult, error)
}

// Resolver times a DNS lookup against the system resolver.
type Resolver interface {
	Resolve(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)
}

// Config names the probe targets and cadence bounds.
type Config struct {
	PingTargets  []string
	DNSTargets   []string
	ProbeTimeout time.Duration
	HistorySize  int
}

// Prober runs probe cycles on an external schedule.
type Prober struct {
	cfg      Config
	pinger   Pinger
	resolver Resolver
	clock    clockwork.Clock

	mu      sync.Mutex
	samples *history.Ring[Sample]
}

// Option configures a Prober.
type Option func(*Prober)

// WithPinger substitutes the ICMP implementation.
func WithPinger(p Pinger) Option { return func(pr *Prober) { pr.pinger = p } }

// WithResolver substitutes the DNS implementation.
func WithResolver(r Resolver) Option { return func(pr *Prober) { pr.resolver = r } }

// WithClock substitutes the clock.
func WithClock(c clockwork.Clock) Option { return func(pr *Prober) { pr.clock = c } }

// NewProber creates a prober with production ICMP and DNS backends.
func NewProber(cfg Config, opts ...Option) *Prober {
	if len(cfg.PingTargets) == 0 {
		cfg.PingTargets = []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"}
	}
	if len(cfg.DNSTargets) == 0 {
		cfg.DNSTargets = []string{"google.com", "cloudflare.com"}
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	p := &Prober{
		cfg:      cfg,
		pinger:   icmpPinger{},
		resolver: dnsResolver{},
		clock:    clockwork.NewRealClock(),
		samples:  history.New[Sample](cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe runs one full cycle: all ping and DNS targets concurrently,
// then aggregates into a sample appended to history.
func (p *Prober) Probe(ctx context.Context) Sample {
	pings := make([]*PingResult, len(p.cfg.PingTargets))
	dnsTimes := make([]*time.Duration, len(p.cfg.DNSTargets))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range p.cfg.PingTargets {
		i, target := i, target
		g.Go(func() error {
			result, err := p.pinger.Ping(gctx, target, p.cfg.ProbeTimeout)
			if err != nil {
				log.Debug().Err(err).Str("target", target).Msg("Ping probe failed")
				// The whole burst is lost; keep the sent count so the
				// pooled loss reflects it.
				if result.Sent == 0 {
					result.Sent = pingCount
				}
				result.Recv = 0
				result.RTT = 0
			}
			pings[i] = &result
			return nil
		})
	}
	for i, host := range p.cfg.DNSTargets {
		i, host := i, host
		g.Go(func() error {
			elapsed, err := p.resolver.Resolve(gctx, host, p.cfg.ProbeTimeout)
			if err != nil {
				log.Debug().Err(err).Str("host", host).Msg("DNS probe failed")
				return nil
			}
			dnsTimes[i] = &elapsed
			return nil
		})
	}
	_ = g.Wait() // probe errors degrade the sample, never abort the cycle

	sample := p.aggregate(pings, dnsTimes)

	p.mu.Lock()
	p.samples.Append(sample)
	p.mu.Unlock()

	if sample.Status != StatusHealthy {
		log.Warn().
			Str("status", sample.Status).
			Float64("packet_loss_pct", sample.PacketLossPct).
			Msg("Internet health degraded")
	}
	return sample
}

func (p *Prober) aggregate(pings []*PingResult, dnsTimes []*time.Duration) Sample {
	sample := Sample{
		Timestamp: p.clock.Now().UTC(),
		Status:    StatusUnknown,
	}

	// Latency: minimum RTT over successful pings. Loss: pooled over
	// every target; a target that never answered contributes its full
	// burst as lost packets.
	var sent, recv int
	for _, r := range pings {
		if r == nil {
			sent += pingCount
			continue
		}
		sent += r.Sent
		recv += r.Recv
		if r.Recv == 0 {
			continue
		}
		ms := float64(r.RTT.Microseconds()) / 1000
		if sample.LatencyMs == nil || ms < *sample.LatencyMs {
			sample.LatencyMs = &ms
		}
	}
	if sent > 0 {
		sample.PacketLossPct = float64(sent-recv) / float64(sent) * 100
	} else {
		sample.PacketLossPct = 100
	}

	for _, d := range dnsTimes {
		if d == nil {
			continue
		}
		ms := float64(d.Microseconds()) / 1000
		if sample.DNSResolveMs == nil || ms < *sample.DNSResolveMs {
			sample.DNSResolveMs = &ms
		}
	}

	pingOK := sample.LatencyMs != nil
	dnsOK := sample.DNSResolveMs != nil

	switch {
	case (!pingOK && !dnsOK) || sample.PacketLossPct >= downLossPct:
		sample.Status = StatusDown
	case (pingOK && *sample.LatencyMs >= degradedLatencyMs) ||
		(dnsOK && *sample.DNSResolveMs >= degradedDNSMs) ||
		sample.PacketLossPct >= degradedLossPct ||
		!pingOK || !dnsOK:
		sample.Status = StatusDegraded
	default:
		sample.Status = StatusHealthy
	}
	return sample
}

// Latest returns the most recent sample.
func (p *Prober) Latest() (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples.Latest()
}

// History returns retained samples, newest first, capped at limit
// (0 means all).
func (p *Prober) History(limit int) []Sample {
	p.mu.Lock()
	snapshot := p.samples.Snapshot()
	p.mu.Unlock()
	if limit > 0 && limit < len(snapshot) {
		snapshot = snapshot[:limit]
	}
	return snapshot
}

// Stats computes aggregates over the retained history.
func (p *Prober) Stats() Stats {
	p.mu.Lock()
	samples := p.samples.SnapshotOldestFirst()
	p.mu.Unlock()

	stats := Stats{
		Samples:      len(samples),
		StatusCounts: map[string]int{},
	}
	if len(samples) == 0 {
		return stats
	}

	var latencies []float64
	var dnsSum, lossSum float64
	dnsCount := 0

	for _, s := range samples {
		if s.LatencyMs != nil {
			latencies = append(latencies, *s.LatencyMs)
		}
		if s.DNSResolveMs != nil {
			dnsSum += *s.DNSResolveMs
			dnsCount++
		}
		lossSum += s.PacketLossPct
		stats.StatusCounts[s.Status]++
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.MinLatencyMs = latencies[0]
		stats.MaxLatencyMs = latencies[len(latencies)-1]
		var sum float64
		for _, v := range latencies {
			sum += v
		}
		stats.AvgLatencyMs = sum / float64(len(latencies))
		stats.P95LatencyMs = percentile(latencies, 0.95)
	}
	if dnsCount > 0 {
		stats.AvgDNSResolveMs = dnsSum / float64(dnsCount)
	}
	stats.AvgPacketLossPct = lossSum / float64(len(samples))

	healthy := stats.StatusCounts[StatusHealthy] + stats.StatusCounts[StatusDegraded]
	stats.UptimePercent = float64(healthy) / float64(len(samples)) * 100
	stats.SpanHours = samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp).Hours()

	return stats
}

// percentile takes the nearest-rank value from a sorted slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// icmpPinger sends a short unprivileged ICMP burst via pro-bing.
type icmpPinger struct{}

const pingCount = 3

func (icmpPinger) Ping(ctx context.Context, target string, timeout time.Duration) (PingResult, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return PingResult{}, err
	}
	defer pinger.Stop()

	pinger.Count = pingCount
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = timeout
	pinger.SetPrivileged(true)

	if err := pinger.RunWithContext(ctx); err != nil {
		return PingResult{}, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return PingResult{Sent: stats.PacketsSent}, context.DeadlineExceeded
	}
	return PingResult{
		RTT:  stats.AvgRtt,
		Sent: stats.PacketsSent,
		Recv: stats.PacketsRecv,
	}, nil
}

// dnsResolver times a host lookup against the system resolver.
type dnsResolver struct{}

func (dnsResolver) Resolve(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
