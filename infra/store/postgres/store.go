// Package postgres persists demandes in PostgreSQL. Transitions are committed
// with an UPDATE guarded by the expected version, so several dispatch
// instances can share one database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/model"
)

const uniqueViolation = "23505"

const columns = `id, client_id, pickup_lat, pickup_lng, vehicle_type, type_panne, description,
status, assigned_technician_id, cost, cancelled_by_kind, cancelled_by_id,
created_at, accepted_at, started_at, completed_at, cancelled_at, version`

// Store implements demande.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	config TableConfig
}

// New creates a store using the default table name.
func New(db *sql.DB) *Store {
	return NewWithConfig(db, DefaultTableConfig())
}

// NewWithConfig creates a store with a custom table name.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{db: db, config: config}
}

// Open connects to dsn, checks the connection and applies the migration of
// the configured table.
func Open(ctx context.Context, dsn string, config TableConfig) (*Store, error) {
	if config.DemandesTable == "" {
		config = DefaultTableConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewWithConfig(db, config)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the table and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, MigrationUp(s.config)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.config.DemandesTable, err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Insert(ctx context.Context, d model.Demande) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.config.DemandesTable, columns)
	_, err := s.db.ExecContext(ctx, query, values(d)...)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: demande %s already exists", model.ErrValidation, d.ID)
	}
	if err != nil {
		return fmt.Errorf("insert demande %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Demande, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.config.DemandesTable)
	d, err := scan(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Demande{}, fmt.Errorf("demande %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Demande{}, fmt.Errorf("get demande %s: %w", id, err)
	}
	return d, nil
}

// CompareAndSwap writes next only while the stored version equals
// expectedVersion. The WHERE clause makes the check and the write one
// atomic statement.
func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, next model.Demande) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET
    status = $2, assigned_technician_id = $3, cost = $4, cancelled_by_kind = $5, cancelled_by_id = $6,
    accepted_at = $7, started_at = $8, completed_at = $9, cancelled_at = $10, version = $11
WHERE id = $1 AND version = $12`, s.config.DemandesTable)
	kind, actorID := cancelledBy(next)
	res, err := s.db.ExecContext(ctx, query,
		next.ID, string(next.Status), nullString(next.AssignedTechnicianID), nullFloat(next.Cost), kind, actorID,
		nullTime(next.AcceptedAt), nullTime(next.StartedAt), nullTime(next.CompletedAt), nullTime(next.CancelledAt),
		next.Version, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update demande %s: %w", next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	check := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, s.config.DemandesTable)
	if err := s.db.QueryRowContext(ctx, check, next.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check demande %s: %w", next.ID, err)
	}
	if !exists {
		return false, fmt.Errorf("demande %s: %w", next.ID, model.ErrNotFound)
	}
	return false, nil
}

func (s *Store) List(ctx context.Context, f demande.Filter) ([]model.Demande, error) {
	where, args := buildFilter(f)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at, id`, columns, s.config.DemandesTable, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list demandes: %w", err)
	}
	defer rows.Close()
	var out []model.Demande
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan demande: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func buildFilter(f demande.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.TechnicianID != "" {
		add("assigned_technician_id = $%d", f.TechnicianID)
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (model.Demande, error) {
	var (
		d                                  model.Demande
		vt, status                         string
		assigned, cancelKind, cancelID     sql.NullString
		cost                               sql.NullFloat64
		accepted, started, completed, canc sql.NullTime
	)
	err := row.Scan(&d.ID, &d.ClientID, &d.Pickup.Lat, &d.Pickup.Lng, &vt, &d.TypePanne, &d.Description,
		&status, &assigned, &cost, &cancelKind, &cancelID,
		&d.CreatedAt, &accepted, &started, &completed, &canc, &d.Version)
	if err != nil {
		return model.Demande{}, err
	}
	d.VehicleType = model.VehicleType(vt)
	d.Status = model.DemandeStatus(status)
	d.CreatedAt = d.CreatedAt.UTC()
	if assigned.Valid {
		v := assigned.String
		d.AssignedTechnicianID = &v
	}
	if cost.Valid {
		v := cost.Float64
		d.Cost = &v
	}
	if cancelKind.Valid {
		d.CancelledBy = &model.Actor{Kind: model.ActorKind(cancelKind.String), ID: cancelID.String}
	}
	d.AcceptedAt = timePtr(accepted)
	d.StartedAt = timePtr(started)
	d.CompletedAt = timePtr(completed)
	d.CancelledAt = timePtr(canc)
	return d, nil
}

func values(d model.Demande) []any {
	kind, actorID := cancelledBy(d)
	return []any{
		d.ID, d.ClientID, d.Pickup.Lat, d.Pickup.Lng, string(d.VehicleType), d.TypePanne, d.Description,
		string(d.Status), nullString(d.AssignedTechnicianID), nullFloat(d.Cost), kind, actorID,
		d.CreatedAt, nullTime(d.AcceptedAt), nullTime(d.StartedAt), nullTime(d.CompletedAt), nullTime(d.CancelledAt),
		d.Version,
	}
}

func cancelledBy(d model.Demande) (sql.NullString, sql.NullString) {
	if d.CancelledBy == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: string(d.CancelledBy.Kind), Valid: true},
		sql.NullString{String: d.CancelledBy.ID, Valid: d.CancelledBy.ID != ""}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var _ demande.Store = (*Store)(nil)
