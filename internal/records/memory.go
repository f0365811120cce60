package records

import (
	"context"
	"sync"

	"vocalytics/internal/apperr"
	"vocalytics/internal/models"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.TranscriptRecord

	// OwnerIndexMissing makes ListByOwner behave like a table without the
	// owner index.
	OwnerIndexMissing bool
	// DeleteErr, when set, is returned by Delete.
	DeleteErr error
	// MediaIndexErr, when set, is returned by MediaKeyFromIndex.
	MediaIndexErr error
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]models.TranscriptRecord)}
}

func (m *Memory) Save(_ context.Context, rec *models.TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	clone.Segments = append([]models.Segment(nil), rec.Segments...)
	m.records[rec.ID] = clone
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.TranscriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, apperr.ErrRecordNotFound
	}
	rec.Segments = append([]models.Segment(nil), rec.Segments...)
	return &rec, nil
}

func (m *Memory) ListByOwner(_ context.Context, owner string) ([]models.RecordSummary, error) {
	if m.OwnerIndexMissing {
		return nil, apperr.ErrIndexMissing
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.RecordSummary
	for _, rec := range m.records {
		if rec.Owner == owner {
			out = append(out, models.RecordSummary{ID: rec.ID, CreatedAt: rec.CreatedAt})
		}
	}
	return out, nil
}

func (m *Memory) MediaKeyFromIndex(_ context.Context, id string) (string, error) {
	if m.MediaIndexErr != nil {
		return "", m.MediaIndexErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id].MediaKey, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}
