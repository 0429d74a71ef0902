package repository

import (
	"context"
	"database/sql"
	"fmt"

	"timecapsule/internal/domain"

	"go.uber.org/zap"
)

// PostgresResponseRepository remote table over lib/pq
type PostgresResponseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresResponseRepository creates the repository
func NewPostgresResponseRepository(db *sql.DB, logger *zap.Logger) *PostgresResponseRepository {
	return &PostgresResponseRepository{db: db, logger: logger}
}

var _ ResponseRepository = (*PostgresResponseRepository)(nil)

const upsertResponseSQL = `
	INSERT INTO user_responses (
		user_id,
		page_number,
		field_id,
		value,
		updated_at
	) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (user_id, page_number, field_id) DO UPDATE SET
		value = EXCLUDED.value,
		updated_at = EXCLUDED.updated_at
`

const selectResponseColumns = `
	SELECT
		id::text,
		user_id,
		page_number,
		field_id,
		value,
		created_at,
		updated_at
	FROM user_responses
`

// Upsert inserts or overwrites one row
func (r *PostgresResponseRepository) Upsert(ctx context.Context, row domain.ResponseRow) error {
	if row.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	_, err := r.db.ExecContext(ctx, upsertResponseSQL,
		row.UserID, row.PageNumber, row.FieldID, row.Value, row.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert response: %w", err)
	}
	return nil
}

// UpsertBatch upserts rows inside one transaction
func (r *PostgresResponseRepository) UpsertBatch(ctx context.Context, rows []domain.ResponseRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch upsert: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, upsertResponseSQL,
			row.UserID, row.PageNumber, row.FieldID, row.Value, row.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to upsert response page=%d field=%s: %w", row.PageNumber, row.FieldID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch upsert: %w", err)
	}
	return nil
}

// QueryByPage returns the writer's rows for page
func (r *PostgresResponseRepository) QueryByPage(ctx context.Context, userID string, page int) ([]domain.ResponseRow, error) {
	query := selectResponseColumns + `
		WHERE user_id = $1 AND page_number = $2
		ORDER BY field_id
	`
	return r.query(ctx, query, userID, page)
}

// QueryAll returns all of the writer's rows ordered by page
func (r *PostgresResponseRepository) QueryAll(ctx context.Context, userID string) ([]domain.ResponseRow, error) {
	query := selectResponseColumns + `
		WHERE user_id = $1
		ORDER BY page_number, field_id
	`
	return r.query(ctx, query, userID)
}

func (r *PostgresResponseRepository) query(ctx context.Context, query string, args ...any) ([]domain.ResponseRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ResponseRow, 0)
	for rows.Next() {
		var row domain.ResponseRow
		if err := rows.Scan(
			&row.ID,
			&row.UserID,
			&row.PageNumber,
			&row.FieldID,
			&row.Value,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}
	return out, nil
}

// DeleteByPage removes the writer's rows for page
func (r *PostgresResponseRepository) DeleteByPage(ctx context.Context, userID string, page int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_responses WHERE user_id = $1 AND page_number = $2`, userID, page)
	if err != nil {
		return fmt.Errorf("failed to delete page responses: %w", err)
	}
	return nil
}

// DeleteAll removes every row of the writer
func (r *PostgresResponseRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_responses WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete responses: %w", err)
	}
	return nil
}

// ReassignOwner moves oldUserID's rows to newUserID in one transaction.
// Colliding keys are resolved first so the bulk UPDATE cannot violate the
// (user_id, page_number, field_id) constraint.
func (r *PostgresResponseRepository) ReassignOwner(ctx context.Context, oldUserID, newUserID string) (int64, error) {
	if oldUserID == "" || newUserID == "" {
		return 0, fmt.Errorf("old and new user ids are required")
	}
	if oldUserID == newUserID {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reassign: %w", err)
	}
	defer tx.Rollback()

	// target row older than the incoming one: drop the target
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_responses n
		USING user_responses o
		WHERE o.user_id = $1
		  AND n.user_id = $2
		  AND n.page_number = o.page_number
		  AND n.field_id = o.field_id
		  AND n.updated_at < o.updated_at
	`, oldUserID, newUserID); err != nil {
		return 0, fmt.Errorf("failed to drop superseded target rows: %w", err)
	}

	// target row newer or equal: drop the incoming one
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_responses o
		USING user_responses n
		WHERE o.user_id = $1
		  AND n.user_id = $2
		  AND n.page_number = o.page_number
		  AND n.field_id = o.field_id
	`, oldUserID, newUserID); err != nil {
		return 0, fmt.Errorf("failed to drop superseded source rows: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE user_responses SET user_id = $2 WHERE user_id = $1`, oldUserID, newUserID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign responses: %w", err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reassign: %w", err)
	}
	r.logger.Info("Reassigned response ownership",
		zap.String("from_user_id", oldUserID),
		zap.String("to_user_id", newUserID),
		zap.Int64("rows", moved),
	)
	return moved, nil
}
