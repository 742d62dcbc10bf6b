package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/nettap/nettapd/internal/config"
	"github.com/nettap/nettapd/internal/indices"
	"github.com/nettap/nettapd/internal/search"
)

// IndexEntry is one prunable index with its derived retention metadata.
type IndexEntry struct {
	Name         string     `json:"name"`
	SizeBytes    int64      `json:"size_bytes"`
	CreationDate string     `json:"creation_date,omitempty"`
	Tier         string     `json:"tier"`
	ParsedDate   *time.Time `json:"parsed_date,omitempty"`
}

// Status is a point-in-time snapshot of storage pressure and the
// retention configuration driving it.
type Status struct {
	DiskUsagePercent   float64          `json:"disk_usage_percent"`
	DiskThreshold      float64          `json:"disk_threshold"`
	EmergencyThreshold float64          `json:"emergency_threshold"`
	CheckPath          string           `json:"check_path"`
	RetentionDays      map[string]int   `json:"retention_days"`
	TierCounts         map[string]int   `json:"tier_counts"`
	TierBytes          map[string]int64 `json:"tier_bytes"`
	LastRun            *time.Time       `json:"last_run,omitempty"`
	LastDeleted        int              `json:"last_deleted"`
}

// diskUsageFunc samples the used fraction of the filesystem at path.
type diskUsageFunc func(ctx context.Context, path string) (float64, error)

// Manager enforces tiered, disk-pressure-aware retention over
// time-sharded indices. One instance runs per process; RunCycle is
// invoked by the periodic driver.
type Manager struct {
	client    search.Searcher
	retention config.RetentionConfig
	clock     clockwork.Clock
	diskUsage diskUsageFunc

	mu          sync.Mutex
	lastRun     time.Time
	lastDeleted int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock, used by tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithDiskUsage substitutes the disk sampler, used by tests.
func WithDiskUsage(fn diskUsageFunc) Option {
	return func(m *Manager) { m.diskUsage = fn }
}

// NewManager creates a storage manager over the given search client.
func NewManager(client search.Searcher, retention config.RetentionConfig, opts ...Option) *Manager {
	m := &Manager{
		client:    client,
		retention: retention,
		clock:     clockwork.NewRealClock(),
		diskUsage: gopsutilDiskUsage,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func gopsutilDiskUsage(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent / 100, nil
}

// CheckDiskUsage returns the used fraction of the configured (or
// overridden) filesystem.
func (m *Manager) CheckDiskUsage(ctx context.Context, path string) (float64, error) {
	if path == "" {
		path = m.retention.CheckPath
	}
	return m.diskUsage(ctx, path)
}

// ListIndices enumerates live indices enriched with tier and shard
// date. System indices are excluded.
func (m *Manager) ListIndices(ctx context.Context) ([]IndexEntry, error) {
	cat, err := m.client.CatIndices(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]IndexEntry, 0, len(cat))
	for _, row := range cat {
		if indices.IsSystem(row.Name) {
			continue
		}
		entry := IndexEntry{
			Name:         row.Name,
			SizeBytes:    row.SizeBytes,
			CreationDate: row.CreationDate,
			Tier:         indices.Tier(row.Name),
		}
		if date, ok := indices.IndexDate(row.Name); ok {
			entry.ParsedDate = &date
		}
		out = append(out, entry)
	}
	return out, nil
}

// PruneTiered deletes indices older than their tier cutoff, visiting
// tiers cold, warm, hot and stopping as soon as disk pressure falls
// below the configured threshold. Returns the number of deletions.
func (m *Manager) PruneTiered(ctx context.Context) int {
	entries, err := m.ListIndices(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Prune aborted: index listing failed")
		return 0
	}

	byTier := map[string][]IndexEntry{}
	for _, entry := range entries {
		if entry.ParsedDate == nil || entry.Tier == indices.TierUnknown {
			continue
		}
		byTier[entry.Tier] = append(byTier[entry.Tier], entry)
	}

	now := m.clock.Now().UTC()
	deleted := 0

	for _, tier := range []string{indices.TierCold, indices.TierWarm, indices.TierHot} {
		candidates := byTier[tier]
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].ParsedDate.Before(*candidates[j].ParsedDate)
		})

		cutoff := now.AddDate(0, 0, -m.retention.RetentionDays(tier))
		for _, entry := range candidates {
			if !entry.ParsedDate.Before(cutoff) {
				// Sorted ascending, so the rest of the tier is newer.
				break
			}
			if err := m.client.DeleteIndex(ctx, entry.Name); err != nil {
				log.Warn().Err(err).Str("index", entry.Name).Msg("Index delete failed, continuing")
				continue
			}
			deleted++
			log.Info().
				Str("index", entry.Name).
				Str("tier", tier).
				Time("shard_date", *entry.ParsedDate).
				Msg("Deleted expired index")

			usage, err := m.CheckDiskUsage(ctx, "")
			if err == nil && usage < m.retention.DiskThreshold {
				m.recordRun(deleted)
				return deleted
			}
		}
	}

	m.recordRun(deleted)
	return deleted
}

// PruneEmergency ignores tier boundaries: one global oldest-first
// ordering, deleting until usage drops below the normal threshold.
func (m *Manager) PruneEmergency(ctx context.Context) int {
	log.Warn().Msg("Emergency prune engaged: disk pressure above emergency threshold")

	entries, err := m.ListIndices(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Emergency prune aborted: index listing failed")
		return 0
	}

	candidates := make([]IndexEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.ParsedDate == nil || entry.Tier == indices.TierUnknown {
			continue
		}
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ParsedDate.Before(*candidates[j].ParsedDate)
	})

	deleted := 0
	for _, entry := range candidates {
		if err := m.client.DeleteIndex(ctx, entry.Name); err != nil {
			log.Warn().Err(err).Str("index", entry.Name).Msg("Index delete failed, continuing")
			continue
		}
		deleted++
		log.Info().Str("index", entry.Name).Str("tier", entry.Tier).Msg("Emergency-deleted index")

		usage, err := m.CheckDiskUsage(ctx, "")
		if err == nil && usage < m.retention.DiskThreshold {
			break
		}
	}

	m.recordRun(deleted)
	return deleted
}

// RunCycle samples disk pressure once and dispatches to the matching
// prune strategy. A failed disk read logs and returns without action.
func (m *Manager) RunCycle(ctx context.Context) {
	usage, err := m.CheckDiskUsage(ctx, "")
	if err != nil {
		log.Error().Err(err).Str("path", m.retention.CheckPath).Msg("Disk usage check failed, skipping retention cycle")
		return
	}

	switch {
	case usage >= m.retention.EmergencyThreshold:
		m.PruneEmergency(ctx)
	case usage >= m.retention.DiskThreshold:
		m.PruneTiered(ctx)
	default:
		log.Debug().Float64("usage", usage).Msg("Disk pressure below threshold, nothing to prune")
	}
}

// Status reports current disk pressure, per-tier index population and
// the last prune outcome. Disk failure yields the -1 sentinel.
func (m *Manager) Status(ctx context.Context) Status {
	status := Status{
		DiskThreshold:      m.retention.DiskThreshold,
		EmergencyThreshold: m.retention.EmergencyThreshold,
		CheckPath:          m.retention.CheckPath,
		RetentionDays: map[string]int{
			indices.TierHot:  m.retention.HotDays,
			indices.TierWarm: m.retention.WarmDays,
			indices.TierCold: m.retention.ColdDays,
		},
		TierCounts: map[string]int{},
		TierBytes:  map[string]int64{},
	}

	usage, err := m.CheckDiskUsage(ctx, "")
	if err != nil {
		status.DiskUsagePercent = -1
	} else {
		status.DiskUsagePercent = usage * 100
	}

	if entries, err := m.ListIndices(ctx); err == nil {
		for _, entry := range entries {
			status.TierCounts[entry.Tier]++
			status.TierBytes[entry.Tier] += entry.SizeBytes
		}
	}

	m.mu.Lock()
	if !m.lastRun.IsZero() {
		last := m.lastRun
		status.LastRun = &last
	}
	status.LastDeleted = m.lastDeleted
	m.mu.Unlock()

	return status
}

func (m *Manager) recordRun(deleted int) {
	m.mu.Lock()
	m.lastRun = m.clock.Now().UTC()
	m.lastDeleted = deleted
	m.mu.Unlock()
}
