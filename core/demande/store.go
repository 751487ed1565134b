package demande

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/depannage/core/model"
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Statuses      []model.DemandeStatus
	ClientID      string
	TechnicianID  string
	CreatedBefore time.Time
}

// Match reports whether d satisfies the filter.
func (f Filter) Match(d model.Demande) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if d.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ClientID != "" && d.ClientID != f.ClientID {
		return false
	}
	if f.TechnicianID != "" && d.AssignedTo() != f.TechnicianID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !d.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// Store persists demandes. CompareAndSwap is the only mutation of an
// existing demande and must be atomic: next is written only when the stored
// version still equals expectedVersion.
type Store interface {
	Insert(ctx context.Context, d model.Demande) error
	Get(ctx context.Context, id string) (model.Demande, error)
	CompareAndSwap(ctx context.Context, expectedVersion int64, next model.Demande) (bool, error)
	List(ctx context.Context, f Filter) ([]model.Demande, error)
}

// MemoryStore keeps demandes in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.Demande
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]model.Demande{}}
}

func (s *MemoryStore) Insert(_ context.Context, d model.Demande) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[d.ID]; ok {
		return fmt.Errorf("%w: demande %s already exists", model.ErrValidation, d.ID)
	}
	s.data[d.ID] = d.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Demande, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[id]
	if !ok {
		return model.Demande{}, fmt.Errorf("demande %s: %w", id, model.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, expectedVersion int64, next model.Demande) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[next.ID]
	if !ok {
		return false, fmt.Errorf("demande %s: %w", next.ID, model.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	s.data[next.ID] = next.Clone()
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.Demande, error) {
	s.mu.RLock()
	out := make([]model.Demande, 0, len(s.data))
	for _, d := range s.data {
		if f.Match(d) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
