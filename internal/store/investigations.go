package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	svcerr "github.com/nettap/nettapd/internal/errors"
)

// Investigation statuses and severities.
var (
	investigationStatuses   = map[string]bool{"open": true, "in_progress": true, "resolved": true, "closed": true}
	investigationSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}
)

// Note is one timestamped annotation on an investigation.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Investigation tracks the manual follow-up on suspicious activity.
type Investigation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Severity    string    `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	AlertIDs    []string  `json:"alert_ids"`
	DeviceIPs   []string  `json:"device_ips"`
	Notes       []Note    `json:"notes"`
	Tags        []string  `json:"tags"`
}

// InvestigationStore persists investigations keyed by id.
type InvestigationStore struct {
	m *PersistentMap[Investigation]
}

// NewInvestigationStore loads the store from path.
func NewInvestigationStore(path string) *InvestigationStore {
	return &InvestigationStore{m: NewPersistentMap[Investigation](path)}
}

// Create validates and stores a new investigation. Empty status and
// severity default to open/medium.
func (s *InvestigationStore) Create(inv Investigation) (Investigation, error) {
	if inv.Title == "" {
		return Investigation{}, svcerr.Validation("investigations.create",
			fmt.Errorf("title is required"))
	}
	if inv.Status == "" {
		inv.Status = "open"
	}
	if inv.Severity == "" {
		inv.Severity = "medium"
	}
	if err := validateInvestigation(inv); err != nil {
		return Investigation{}, err
	}

	now := time.Now().UTC()
	inv.ID = uuid.NewString()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	inv.AlertIDs = dedup(inv.AlertIDs)
	inv.DeviceIPs = dedup(inv.DeviceIPs)
	inv.Tags = dedup(inv.Tags)
	if inv.Notes == nil {
		inv.Notes = []Note{}
	}

	if err := s.m.Set(inv.ID, inv); err != nil {
		return Investigation{}, err
	}
	return inv, nil
}

// Get returns one investigation.
func (s *InvestigationStore) Get(id string) (Investigation, error) {
	inv, ok := s.m.Get(id)
	if !ok {
		return Investigation{}, svcerr.NotFound("investigations.get",
			fmt.Errorf("investigation %q", id))
	}
	return inv, nil
}

// List returns investigations, optionally filtered by status, newest
// first.
func (s *InvestigationStore) List(status string) []Investigation {
	var out []Investigation
	for _, inv := range s.m.All() {
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update applies partial changes to an investigation. Zero-valued
// fields in patch are left unchanged; link lists replace wholesale
// and are deduplicated.
func (s *InvestigationStore) Update(id string, patch Investigation) (Investigation, error) {
	inv, err := s.Get(id)
	if err != nil {
		return Investigation{}, err
	}

	if patch.Title != "" {
		inv.Title = patch.Title
	}
	if patch.Description != "" {
		inv.Description = patch.Description
	}
	if patch.Status != "" {
		inv.Status = patch.Status
	}
	if patch.Severity != "" {
		inv.Severity = patch.Severity
	}
	if patch.AlertIDs != nil {
		inv.AlertIDs = dedup(patch.AlertIDs)
	}
	if patch.DeviceIPs != nil {
		inv.DeviceIPs = dedup(patch.DeviceIPs)
	}
	if patch.Tags != nil {
		inv.Tags = dedup(patch.Tags)
	}
	if err := validateInvestigation(inv); err != nil {
		return Investigation{}, err
	}
	inv.UpdatedAt = time.Now().UTC()

	if err := s.m.Set(id, inv); err != nil {
		return Investigation{}, err
	}
	return inv, nil
}

// Delete removes an investigation.
func (s *InvestigationStore) Delete(id string) error {
	deleted, err := s.m.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return svcerr.NotFound("investigations.delete", fmt.Errorf("investigation %q", id))
	}
	return nil
}

// AddNote appends a note and returns the updated investigation.
func (s *InvestigationStore) AddNote(id, content string) (Investigation, error) {
	if content == "" {
		return Investigation{}, svcerr.Validation("investigations.note",
			fmt.Errorf("note content is required"))
	}
	inv, err := s.Get(id)
	if err != nil {
		return Investigation{}, err
	}

	now := time.Now().UTC()
	inv.Notes = append(inv.Notes, Note{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	})
	inv.UpdatedAt = now

	if err := s.m.Set(id, inv); err != nil {
		return Investigation{}, err
	}
	return inv, nil
}

// UpdateNote replaces a note's content.
func (s *InvestigationStore) UpdateNote(id, noteID, content string) (Investigation, error) {
	inv, err := s.Get(id)
	if err != nil {
		return Investigation{}, err
	}

	found := false
	now := time.Now().UTC()
	for i := range inv.Notes {
		if inv.Notes[i].ID == noteID {
			inv.Notes[i].Content = content
			inv.Notes[i].UpdatedAt = now
			found = true
			break
		}
	}
	if !found {
		return Investigation{}, svcerr.NotFound("investigations.note",
			fmt.Errorf("note %q", noteID))
	}
	inv.UpdatedAt = now

	if err := s.m.Set(id, inv); err != nil {
		return Investigation{}, err
	}
	return inv, nil
}

// DeleteNote removes a note.
func (s *InvestigationStore) DeleteNote(id, noteID string) (Investigation, error) {
	inv, err := s.Get(id)
	if err != nil {
		return Investigation{}, err
	}

	notes := inv.Notes[:0]
	found := false
	for _, note := range inv.Notes {
		if note.ID == noteID {
			found = true
			continue
		}
		notes = append(notes, note)
	}
	if !found {
		return Investigation{}, svcerr.NotFound("investigations.note",
			fmt.Errorf("note %q", noteID))
	}
	inv.Notes = notes
	inv.UpdatedAt = time.Now().UTC()

	if err := s.m.Set(id, inv); err != nil {
		return Investigation{}, err
	}
	return inv, nil
}

func validateInvestigation(inv Investigation) error {
	if !investigationStatuses[inv.Status] {
		return svcerr.Validation("investigations.validate",
			fmt.Errorf("invalid status %q", inv.Status))
	}
	if !investigationSeverities[inv.Severity] {
		return svcerr.Validation("investigations.validate",
			fmt.Errorf("invalid severity %q", inv.Severity))
	}
	return nil
}

// dedup preserves first-seen order.
func dedup(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
