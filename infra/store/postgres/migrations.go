package postgres

import "fmt"

// TableConfig configures the table name used by the store.
type TableConfig struct {
	DemandesTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{DemandesTable: "demandes"}
}

// MigrationUp returns the SQL creating the demandes table. The partial index
// serves the sweeper, which only lists en_attente demandes.
func MigrationUp(config TableConfig) string {
	t := config.DemandesTable
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    pickup_lat DOUBLE PRECISION NOT NULL,
    pickup_lng DOUBLE PRECISION NOT NULL,
    vehicle_type TEXT NOT NULL,
    type_panne TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    assigned_technician_id TEXT,
    cost DOUBLE PRECISION,
    cancelled_by_kind TEXT,
    cancelled_by_id TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    accepted_at TIMESTAMPTZ,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    cancelled_at TIMESTAMPTZ,
    version BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_%s_client ON %s(client_id, created_at);
CREATE INDEX IF NOT EXISTS idx_%s_technician ON %s(assigned_technician_id);
CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(created_at) WHERE status = 'en_attente';
`, t, t, t, t, t, t, t)
}

// MigrationDown returns the SQL dropping the demandes table.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\n", config.DemandesTable)
}
