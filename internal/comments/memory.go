package comments

import (
	"context"
	"sort"
	"sync"

	"vocalytics/internal/models"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu   sync.Mutex
	byID map[string]models.Comment
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]models.Comment)}
}

func (m *Memory) Create(_ context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return ErrDuplicate
	}
	m.byID[c.ID] = *c
	return nil
}

func (m *Memory) List(_ context.Context, transcriptID string) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Comment{}
	for _, c := range m.byID {
		if c.TranscriptID == transcriptID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) DeleteForTranscript(_ context.Context, transcriptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.byID {
		if c.TranscriptID == transcriptID {
			delete(m.byID, id)
		}
	}
	return nil
}
