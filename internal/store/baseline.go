package store

import (
	"strings"
	"time"
)

// BaselineDevice is one known-device record. Keys are uppercase MACs;
// lookups are case-insensitive.
type BaselineDevice struct {
	MAC          string    `json:"mac"`
	Hostname     string    `json:"hostname,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Label        string    `json:"label,omitempty"`
	Trusted      bool      `json:"trusted"`
	FirstSeen    time.Time `json:"first_seen"`
}

// BaselineStore persists the known-device baseline.
type BaselineStore struct {
	m *PersistentMap[BaselineDevice]
}

// NewBaselineStore loads the baseline from path.
func NewBaselineStore(path string) *BaselineStore {
	return &BaselineStore{m: NewPersistentMap[BaselineDevice](path)}
}

// Add records a device. The MAC is canonicalized to uppercase; an
// existing entry is overwritten.
func (s *BaselineStore) Add(device BaselineDevice) error {
	device.MAC = strings.ToUpper(device.MAC)
	if device.FirstSeen.IsZero() {
		device.FirstSeen = time.Now().UTC()
	}
	return s.m.Set(device.MAC, device)
}

// Remove deletes a device by MAC, case-insensitively.
func (s *BaselineStore) Remove(mac string) (bool, error) {
	return s.m.Delete(strings.ToUpper(mac))
}

// Get returns a device by MAC, case-insensitively.
func (s *BaselineStore) Get(mac string) (BaselineDevice, bool) {
	return s.m.Get(strings.ToUpper(mac))
}

// IsKnown reports whether a MAC is in the baseline.
func (s *BaselineStore) IsKnown(mac string) bool {
	_, ok := s.m.Get(strings.ToUpper(mac))
	return ok
}

// All returns every baseline device keyed by uppercase MAC.
func (s *BaselineStore) All() map[string]BaselineDevice {
	return s.m.All()
}
