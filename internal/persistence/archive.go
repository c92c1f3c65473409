package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/fleet/internal/queue"
)

// ArchiveTasks inserts pruned tasks into the archive. Re-archiving an
// already-archived id replaces the row.
func (s *SQLiteStore) ArchiveTasks(ctx context.Context, tasks []*queue.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO archived_tasks
			(id, seq, description, status, required_role, result,
			 evolution_flags, reviews, assigned_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, task := range tasks {
		flags, err := json.Marshal(task.EvolutionFlags)
		if err != nil {
			return fmt.Errorf("failed to encode flags for %s: %w", task.ID, err)
		}
		reviews, err := json.Marshal(task.Reviews)
		if err != nil {
			return fmt.Errorf("failed to encode reviews for %s: %w", task.ID, err)
		}
		assigned, err := json.Marshal(task.AssignedTo)
		if err != nil {
			return fmt.Errorf("failed to encode assignees for %s: %w", task.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			task.ID, task.Seq, task.Description, string(task.Status),
			task.RequiredRole, task.Result,
			string(flags), string(reviews), string(assigned),
			task.CreatedAt, task.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to archive task %s: %w", task.ID, err)
		}
	}

	return tx.Commit()
}

// GetArchived returns one archived task, or nil if the id is unknown.
func (s *SQLiteStore) GetArchived(ctx context.Context, taskID string) (*queue.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, description, status, required_role, result,
		       evolution_flags, reviews, assigned_to, created_at, updated_at
		FROM archived_tasks WHERE id = ?`, taskID)

	task, err := scanArchived(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived task %s: %w", taskID, err)
	}
	return task, nil
}

// ListArchived returns archived tasks ordered by sequence number.
// limit <= 0 returns everything.
func (s *SQLiteStore) ListArchived(ctx context.Context, limit int) ([]*queue.Task, error) {
	query := `
		SELECT id, seq, description, status, required_role, result,
		       evolution_flags, reviews, assigned_to, created_at, updated_at
		FROM archived_tasks ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*queue.Task
	for rows.Next() {
		task, err := scanArchived(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archived task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchived(row rowScanner) (*queue.Task, error) {
	var (
		task                     queue.Task
		status                   string
		flags, reviews, assigned string
	)
	if err := row.Scan(
		&task.ID, &task.Seq, &task.Description, &status,
		&task.RequiredRole, &task.Result,
		&flags, &reviews, &assigned,
		&task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = queue.Status(status)

	if flags != "" {
		if err := json.Unmarshal([]byte(flags), &task.EvolutionFlags); err != nil {
			return nil, fmt.Errorf("decoding flags: %w", err)
		}
	}
	if reviews != "" {
		if err := json.Unmarshal([]byte(reviews), &task.Reviews); err != nil {
			return nil, fmt.Errorf("decoding reviews: %w", err)
		}
	}
	if assigned != "" {
		if err := json.Unmarshal([]byte(assigned), &task.AssignedTo); err != nil {
			return nil, fmt.Errorf("decoding assignees: %w", err)
		}
	}
	return &task, nil
}
