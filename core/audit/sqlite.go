package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS demande_transitions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        demande_id TEXT NOT NULL,
        event TEXT NOT NULL,
        from_status TEXT NOT NULL,
        to_status TEXT NOT NULL,
        actor TEXT NOT NULL,
        technician_id TEXT,
        version INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_demande_transitions_demande ON demande_transitions(demande_id);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO demande_transitions (ts, demande_id, event, from_status, to_status, actor, technician_id, version)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), rec.DemandeID, rec.Event, string(rec.From), string(rec.To),
		rec.Actor, rec.TechnicianID, rec.Version)
	return err
}

// Query returns records matching q ordered by time.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT ts, demande_id, event, from_status, to_status, actor, technician_id, version
        FROM demande_transitions WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	if q.DemandeID != "" {
		query += ` AND demande_id = ?`
		args = append(args, q.DemandeID)
	}
	if q.TechnicianID != "" {
		query += ` AND technician_id = ?`
		args = append(args, q.TechnicianID)
	}
	query += ` ORDER BY ts, version`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var (
			r          Record
			ts         int64
			from, to   string
			technician sql.NullString
		)
		if err := rows.Scan(&ts, &r.DemandeID, &r.Event, &from, &to, &r.Actor, &technician, &r.Version); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.From, r.To = statusOf(from), statusOf(to)
		r.TechnicianID = technician.String
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
