package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS archived_tasks (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		required_role TEXT,
		result TEXT,
		evolution_flags TEXT,
		reviews TEXT,
		assigned_to TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_archived_tasks_status ON archived_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_archived_tasks_updated ON archived_tasks(updated_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
