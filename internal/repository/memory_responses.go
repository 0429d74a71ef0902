package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"timecapsule/internal/domain"

	"github.com/google/uuid"
)

// MemoryResponseRepository in-process remote table honoring the natural key.
// Used by REMOTE_BACKEND=memory and tests.
type MemoryResponseRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.ResponseRow // natural key -> row
	now  func() time.Time
}

var _ ResponseRepository = (*MemoryResponseRepository)(nil)

func NewMemoryResponseRepository() *MemoryResponseRepository {
	return &MemoryResponseRepository{
		rows: map[string]domain.ResponseRow{},
		now:  time.Now,
	}
}

func (r *MemoryResponseRepository) Upsert(_ context.Context, row domain.ResponseRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(row)
	return nil
}

func (r *MemoryResponseRepository) UpsertBatch(_ context.Context, rows []domain.ResponseRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.upsertLocked(row)
	}
	return nil
}

func (r *MemoryResponseRepository) upsertLocked(row domain.ResponseRow) {
	key := row.NaturalKey()
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = r.now().UTC()
	}
	if cur, ok := r.rows[key]; ok {
		cur.Value = row.Value
		cur.UpdatedAt = row.UpdatedAt
		r.rows[key] = cur
		return
	}
	row.ID = uuid.NewString()
	row.CreatedAt = r.now().UTC()
	r.rows[key] = row
}

func (r *MemoryResponseRepository) QueryByPage(_ context.Context, userID string, page int) ([]domain.ResponseRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ResponseRow, 0)
	for _, row := range r.rows {
		if row.UserID == userID && row.PageNumber == page {
			out = append(out, row)
		}
	}
	sortRows(out)
	return out, nil
}

func (r *MemoryResponseRepository) QueryAll(_ context.Context, userID string) ([]domain.ResponseRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queryAllLocked(userID), nil
}

func (r *MemoryResponseRepository) queryAllLocked(userID string) []domain.ResponseRow {
	out := make([]domain.ResponseRow, 0)
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	sortRows(out)
	return out
}

func (r *MemoryResponseRepository) DeleteByPage(_ context.Context, userID string, page int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, row := range r.rows {
		if row.UserID == userID && row.PageNumber == page {
			delete(r.rows, key)
		}
	}
	return nil
}

func (r *MemoryResponseRepository) DeleteAll(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, row := range r.rows {
		if row.UserID == userID {
			delete(r.rows, key)
		}
	}
	return nil
}

func (r *MemoryResponseRepository) ReassignOwner(_ context.Context, oldUserID, newUserID string) (int64, error) {
	if oldUserID == newUserID {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	oldRows := r.queryAllLocked(oldUserID)
	moved := mergeOwnership(newUserID, oldRows, r.queryAllLocked(newUserID))
	for _, row := range oldRows {
		delete(r.rows, row.NaturalKey())
	}
	for _, row := range moved {
		if cur, ok := r.rows[row.NaturalKey()]; ok {
			cur.Value = row.Value
			cur.UpdatedAt = row.UpdatedAt
			r.rows[row.NaturalKey()] = cur
			continue
		}
		row.ID = uuid.NewString()
		r.rows[row.NaturalKey()] = row
	}
	return int64(len(moved)), nil
}

// sortRows orders by page_number then field_id
func sortRows(rows []domain.ResponseRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PageNumber != rows[j].PageNumber {
			return rows[i].PageNumber < rows[j].PageNumber
		}
		return rows[i].FieldID < rows[j].FieldID
	})
}
