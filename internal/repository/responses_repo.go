package repository

import (
	"context"
	"errors"

	"timecapsule/internal/domain"
)

// ResponsesTable remote table name
const ResponsesTable = "user_responses"

var ErrRemoteDisabled = errors.New("remote response store disabled")

// ResponseRepository remote (user, page, field) -> value table.
// Every method reports failures to the caller; retry and fallback policy
// belongs to the sync coordinator.
type ResponseRepository interface {
	// Upsert inserts or overwrites the row matching row's natural key
	Upsert(ctx context.Context, row domain.ResponseRow) error
	// UpsertBatch upserts rows in one round trip
	UpsertBatch(ctx context.Context, rows []domain.ResponseRow) error

	QueryByPage(ctx context.Context, userID string, page int) ([]domain.ResponseRow, error)
	// QueryAll returns the writer's rows ordered by page_number ascending
	QueryAll(ctx context.Context, userID string) ([]domain.ResponseRow, error)

	DeleteByPage(ctx context.Context, userID string, page int) error
	DeleteAll(ctx context.Context, userID string) error

	// ReassignOwner moves every row of oldUserID to newUserID. When both
	// own the same (page, field) the newer updated_at wins. Returns the
	// number of rows that now belong to newUserID because of the move.
	ReassignOwner(ctx context.Context, oldUserID, newUserID string) (int64, error)
}

// DisabledResponseRepository used when no remote backend is configured;
// every call fails with ErrRemoteDisabled so callers take the local path.
type DisabledResponseRepository struct{}

var _ ResponseRepository = DisabledResponseRepository{}

func (DisabledResponseRepository) Upsert(context.Context, domain.ResponseRow) error {
	return ErrRemoteDisabled
}

func (DisabledResponseRepository) UpsertBatch(context.Context, []domain.ResponseRow) error {
	return ErrRemoteDisabled
}

func (DisabledResponseRepository) QueryByPage(context.Context, string, int) ([]domain.ResponseRow, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledResponseRepository) QueryAll(context.Context, string) ([]domain.ResponseRow, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledResponseRepository) DeleteByPage(context.Context, string, int) error {
	return ErrRemoteDisabled
}

func (DisabledResponseRepository) DeleteAll(context.Context, string) error {
	return ErrRemoteDisabled
}

func (DisabledResponseRepository) ReassignOwner(context.Context, string, string) (int64, error) {
	return 0, ErrRemoteDisabled
}

// mergeOwnership computes which of oldRows should be written under newUserID
// given the rows newUserID already owns: a row moves when the target has no
// row for that key or the target's row is older.
func mergeOwnership(newUserID string, oldRows, newRows []domain.ResponseRow) []domain.ResponseRow {
	existing := make(map[string]domain.ResponseRow, len(newRows))
	for _, r := range newRows {
		existing[r.NaturalKey()] = r
	}
	moved := make([]domain.ResponseRow, 0, len(oldRows))
	for _, r := range oldRows {
		r.UserID = newUserID
		r.ID = ""
		if cur, ok := existing[r.NaturalKey()]; ok && !cur.UpdatedAt.Before(r.UpdatedAt) {
			continue
		}
		moved = append(moved, r)
	}
	return moved
}
