package store

import (
	"fmt"
	"sort"
	"time"

	svcerr "github.com/nettap/nettapd/internal/errors"
)

// DetectionPack is one entry in the detection-pack registry: a named
// bundle of IDS rules tracked by the daemon.
type DetectionPack struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	RuleCount   int       `json:"rule_count"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installed_at"`
}

// PackStore persists the detection-pack registry keyed by pack id.
type PackStore struct {
	m *PersistentMap[DetectionPack]
}

// NewPackStore loads the registry from path.
func NewPackStore(path string) *PackStore {
	return &PackStore{m: NewPersistentMap[DetectionPack](path)}
}

// Register stores or replaces a pack.
func (s *PackStore) Register(pack DetectionPack) (DetectionPack, error) {
	if pack.ID == "" || pack.Name == "" {
		return DetectionPack{}, svcerr.Validation("packs.register",
			fmt.Errorf("pack id and name are required"))
	}
	if pack.InstalledAt.IsZero() {
		pack.InstalledAt = time.Now().UTC()
	}
	if err := s.m.Set(pack.ID, pack); err != nil {
		return DetectionPack{}, err
	}
	return pack, nil
}

// Get returns one pack.
func (s *PackStore) Get(id string) (DetectionPack, error) {
	pack, ok := s.m.Get(id)
	if !ok {
		return DetectionPack{}, svcerr.NotFound("packs.get", fmt.Errorf("pack %q", id))
	}
	return pack, nil
}

// List returns all packs sorted by name.
func (s *PackStore) List() []DetectionPack {
	var out []DetectionPack
	for _, pack := range s.m.All() {
		out = append(out, pack)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnabled toggles a pack.
func (s *PackStore) SetEnabled(id string, enabled bool) (DetectionPack, error) {
	pack, err := s.Get(id)
	if err != nil {
		return DetectionPack{}, err
	}
	pack.Enabled = enabled
	if err := s.m.Set(id, pack); err != nil {
		return DetectionPack{}, err
	}
	return pack, nil
}

// Remove deletes a pack.
func (s *PackStore) Remove(id string) error {
	deleted, err := s.m.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return svcerr.NotFound("packs.remove", fmt.Errorf("pack %q", id))
	}
	return nil
}
