package store

import (
	"time"
)

// Ack records who acknowledged an alert and when.
type Ack struct {
	AcknowledgedBy string    `json:"acknowledged_by"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
	Comment        string    `json:"comment,omitempty"`
}

// AckStore persists alert acknowledgements keyed by alert id.
type AckStore struct {
	m *PersistentMap[Ack]
}

// NewAckStore loads the ack store from path.
func NewAckStore(path string) *AckStore {
	return &AckStore{m: NewPersistentMap[Ack](path)}
}

// Acknowledge marks an alert acknowledged.
func (s *AckStore) Acknowledge(alertID, by, comment string) error {
	return s.m.Set(alertID, Ack{
		AcknowledgedBy: by,
		AcknowledgedAt: time.Now().UTC(),
		Comment:        comment,
	})
}

// Unacknowledge clears an acknowledgement. Returns false when the
// alert was not acknowledged.
func (s *AckStore) Unacknowledge(alertID string) (bool, error) {
	return s.m.Delete(alertID)
}

// Get returns the acknowledgement for an alert.
func (s *AckStore) Get(alertID string) (Ack, bool) {
	return s.m.Get(alertID)
}

// IsAcknowledged reports whether an alert is acknowledged.
func (s *AckStore) IsAcknowledged(alertID string) bool {
	_, ok := s.m.Get(alertID)
	return ok
}

// All returns every acknowledgement keyed by alert id.
func (s *AckStore) All() map[string]Ack {
	return s.m.All()
}
