package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arclight-labs/spifmark/pkg/label"
)

// MemoryLabelStore implements LabelStore in memory.
// Thread-safe via RWMutex.
type MemoryLabelStore struct {
	mu     sync.RWMutex
	labels map[string]*StoredLabel
}

func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{labels: make(map[string]*StoredLabel)}
}

func (s *MemoryLabelStore) Put(ctx context.Context, resourceID string, l *label.SecurityLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.labels[resourceID]; ok {
		existing.Label = l.Clone()
		existing.UpdatedAt = now
		return nil
	}
	s.labels[resourceID] = &StoredLabel{
		ResourceID: resourceID,
		Label:      l.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (s *MemoryLabelStore) Get(ctx context.Context, resourceID string) (*StoredLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.labels[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStored(sl), nil
}

func (s *MemoryLabelStore) List(ctx context.Context, afterID string, limit int) ([]*StoredLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.labels))
	for id := range s.labels {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	n := pageSize(limit)
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]*StoredLabel, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyStored(s.labels[id]))
	}
	return out, nil
}

func (s *MemoryLabelStore) MarkSwept(ctx context.Context, resourceID string, valid bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.labels[resourceID]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	v := valid
	sl.SweptAt = &t
	sl.SweepValid = &v
	return nil
}

func (s *MemoryLabelStore) Close() error { return nil }

// copyStored returns a copy so callers cannot mutate store state outside
// the lock.
func copyStored(sl *StoredLabel) *StoredLabel {
	out := &StoredLabel{
		ResourceID: sl.ResourceID,
		Label:      sl.Label.Clone(),
		CreatedAt:  sl.CreatedAt,
		UpdatedAt:  sl.UpdatedAt,
	}
	if sl.SweptAt != nil {
		t := *sl.SweptAt
		out.SweptAt = &t
	}
	if sl.SweepValid != nil {
		v := *sl.SweepValid
		out.SweepValid = &v
	}
	return out
}
