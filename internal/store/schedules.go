package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	svcerr "github.com/nettap/nettapd/internal/errors"
)

var (
	scheduleFrequencies = map[string]bool{"daily": true, "weekly": true, "monthly": true}
	scheduleFormats     = map[string]bool{"json": true, "csv": true, "html": true}
	scheduleSections    = map[string]bool{
		"traffic_summary": true,
		"alerts":          true,
		"devices":         true,
		"compliance":      true,
		"risk":            true,
	}
)

// ReportSchedule describes a recurring report.
type ReportSchedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Frequency  string     `json:"frequency"`
	Format     string     `json:"format"`
	Sections   []string   `json:"sections"`
	Recipients []string   `json:"recipients"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ScheduleStore persists report schedules keyed by id.
type ScheduleStore struct {
	m *PersistentMap[ReportSchedule]
}

// NewScheduleStore loads the store from path.
func NewScheduleStore(path string) *ScheduleStore {
	return &ScheduleStore{m: NewPersistentMap[ReportSchedule](path)}
}

// Create validates and stores a schedule, computing next_run when
// enabled.
func (s *ScheduleStore) Create(schedule ReportSchedule) (ReportSchedule, error) {
	if err := validateSchedule(schedule); err != nil {
		return ReportSchedule{}, err
	}

	now := time.Now().UTC()
	schedule.ID = uuid.NewString()
	schedule.CreatedAt = now
	schedule.Sections = dedup(schedule.Sections)
	schedule.Recipients = dedup(schedule.Recipients)
	schedule.LastRun = nil
	if schedule.Enabled {
		next := nextRun(now, schedule.Frequency)
		schedule.NextRun = &next
	} else {
		schedule.NextRun = nil
	}

	if err := s.m.Set(schedule.ID, schedule); err != nil {
		return ReportSchedule{}, err
	}
	return schedule, nil
}

// Get returns one schedule.
func (s *ScheduleStore) Get(id string) (ReportSchedule, error) {
	schedule, ok := s.m.Get(id)
	if !ok {
		return ReportSchedule{}, svcerr.NotFound("schedules.get",
			fmt.Errorf("schedule %q", id))
	}
	return schedule, nil
}

// List returns all schedules, newest first.
func (s *ScheduleStore) List() []ReportSchedule {
	var out []ReportSchedule
	for _, schedule := range s.m.All() {
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update replaces the mutable fields of a schedule and recomputes
// next_run.
func (s *ScheduleStore) Update(id string, patch ReportSchedule) (ReportSchedule, error) {
	schedule, err := s.Get(id)
	if err != nil {
		return ReportSchedule{}, err
	}

	if patch.Name != "" {
		schedule.Name = patch.Name
	}
	if patch.Frequency != "" {
		schedule.Frequency = patch.Frequency
	}
	if patch.Format != "" {
		schedule.Format = patch.Format
	}
	if patch.Sections != nil {
		schedule.Sections = dedup(patch.Sections)
	}
	if patch.Recipients != nil {
		schedule.Recipients = dedup(patch.Recipients)
	}
	schedule.Enabled = patch.Enabled

	if err := validateSchedule(schedule); err != nil {
		return ReportSchedule{}, err
	}
	if schedule.Enabled {
		next := nextRun(time.Now().UTC(), schedule.Frequency)
		schedule.NextRun = &next
	} else {
		schedule.NextRun = nil
	}

	if err := s.m.Set(id, schedule); err != nil {
		return ReportSchedule{}, err
	}
	return schedule, nil
}

// Delete removes a schedule.
func (s *ScheduleStore) Delete(id string) error {
	deleted, err := s.m.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return svcerr.NotFound("schedules.delete", fmt.Errorf("schedule %q", id))
	}
	return nil
}

// MarkRun records a completed run and advances next_run.
func (s *ScheduleStore) MarkRun(id string, at time.Time) (ReportSchedule, error) {
	schedule, err := s.Get(id)
	if err != nil {
		return ReportSchedule{}, err
	}
	at = at.UTC()
	schedule.LastRun = &at
	if schedule.Enabled {
		next := nextRun(at, schedule.Frequency)
		schedule.NextRun = &next
	}
	if err := s.m.Set(id, schedule); err != nil {
		return ReportSchedule{}, err
	}
	return schedule, nil
}

func validateSchedule(schedule ReportSchedule) error {
	if schedule.Name == "" {
		return svcerr.Validation("schedules.validate", fmt.Errorf("name is required"))
	}
	if !scheduleFrequencies[schedule.Frequency] {
		return svcerr.Validation("schedules.validate",
			fmt.Errorf("invalid frequency %q", schedule.Frequency))
	}
	if !scheduleFormats[schedule.Format] {
		return svcerr.Validation("schedules.validate",
			fmt.Errorf("invalid format %q", schedule.Format))
	}
	if len(schedule.Sections) == 0 {
		return svcerr.Validation("schedules.validate",
			fmt.Errorf("at least one section is required"))
	}
	for _, section := range schedule.Sections {
		if !scheduleSections[section] {
			return svcerr.Validation("schedules.validate",
				fmt.Errorf("invalid section %q", section))
		}
	}
	return nil
}

func nextRun(from time.Time, frequency string) time.Time {
	switch frequency {
	case "weekly":
		return from.AddDate(0, 0, 7)
	case "monthly":
		return from.AddDate(0, 1, 0)
	default:
		return from.AddDate(0, 0, 1)
	}
}
