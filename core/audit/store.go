// Package audit journals every committed demande transition so that the
// lifecycle of a demande can be replayed and inspected after the fact.
package audit

import (
	"context"
	"time"

	"github.com/kilianp07/depannage/core/model"
)

// Record captures one committed transition.
type Record struct {
	Timestamp    time.Time           `json:"timestamp"`
	DemandeID    string              `json:"demande_id"`
	Event        string              `json:"event"`
	From         model.DemandeStatus `json:"from"`
	To           model.DemandeStatus `json:"to"`
	Actor        string              `json:"actor"`
	TechnicianID string              `json:"technician_id,omitempty"`
	Version      int64               `json:"version"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start        time.Time
	End          time.Time
	DemandeID    string
	TechnicianID string
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.DemandeID != "" && r.DemandeID != q.DemandeID {
		return false
	}
	if q.TechnicianID != "" && r.TechnicianID != q.TechnicianID {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error          { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
