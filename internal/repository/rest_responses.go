package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"timecapsule/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// RestResponseRepository remote table through a hosted PostgREST endpoint
// (Supabase's /rest/v1 API). Retries are left off: the coordinator owns the
// fallback policy and a retried write would outlive its timeout budget.
type RestResponseRepository struct {
	httpClient *resty.Client
	table      string
	anonKey    string
	logger     *zap.Logger

	// tokenMu guards accessToken, the signed-in user's bearer token
	tokenMu     sync.RWMutex
	accessToken string
}

var _ ResponseRepository = (*RestResponseRepository)(nil)

// restRowInput insert/upsert payload; id and created_at are generated server-side
type restRowInput struct {
	UserID     string    `json:"user_id"`
	PageNumber int       `json:"page_number"`
	FieldID    string    `json:"field_id"`
	Value      string    `json:"value"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewRestResponseRepository creates a client for baseURL (the project URL)
func NewRestResponseRepository(baseURL, anonKey, table string, logger *zap.Logger) *RestResponseRepository {
	if table == "" {
		table = ResponsesTable
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/rest/v1").
		SetTimeout(10*time.Second).
		SetHeader("apikey", anonKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RestResponseRepository{
		httpClient: client,
		table:      table,
		anonKey:    anonKey,
		logger:     logger,
	}
}

// SetAccessToken sends a signed-in user's token as the bearer so row-level
// security sees the account; an empty token reverts to the anon key
func (r *RestResponseRepository) SetAccessToken(token string) {
	r.tokenMu.Lock()
	r.accessToken = token
	r.tokenMu.Unlock()
}

func (r *RestResponseRepository) bearer() string {
	r.tokenMu.RLock()
	defer r.tokenMu.RUnlock()
	if r.accessToken != "" {
		return r.accessToken
	}
	return r.anonKey
}

func (r *RestResponseRepository) request(ctx context.Context) *resty.Request {
	return r.request(ctx).
		SetAuthToken(r.bearer())
}

func (r *RestResponseRepository) path() string { return "/" + r.table }

func (r *RestResponseRepository) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("remote %s failed: %w", op, err)
	}
	if resp.IsError() {
		r.logger.Debug("PostgREST returned error",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("remote %s failed: status %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// Upsert inserts or overwrites one row
func (r *RestResponseRepository) Upsert(ctx context.Context, row domain.ResponseRow) error {
	return r.UpsertBatch(ctx, []domain.ResponseRow{row})
}

// UpsertBatch posts all rows with merge-duplicates resolution
func (r *RestResponseRepository) UpsertBatch(ctx context.Context, rows []domain.ResponseRow) error {
	if len(rows) == 0 {
		return nil
	}
	body := make([]restRowInput, 0, len(rows))
	for _, row := range rows {
		body = append(body, restRowInput{
			UserID:     row.UserID,
			PageNumber: row.PageNumber,
			FieldID:    row.FieldID,
			Value:      row.Value,
			UpdatedAt:  row.UpdatedAt.UTC(),
		})
	}
	resp, err := r.request(ctx).
		SetQueryParam("on_conflict", "user_id,page_number,field_id").
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetBody(body).
		Post(r.path())
	return r.check("upsert", resp, err)
}

// QueryByPage returns the writer's rows for page
func (r *RestResponseRepository) QueryByPage(ctx context.Context, userID string, page int) ([]domain.ResponseRow, error) {
	var rows []domain.ResponseRow
	resp, err := r.request(ctx).
		SetQueryParams(map[string]string{
			"select":      "*",
			"user_id":     "eq." + userID,
			"page_number": "eq." + strconv.Itoa(page),
			"order":       "field_id.asc",
		}).
		SetResult(&rows).
		Get(r.path())
	if err := r.check("query page", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryAll returns all of the writer's rows ordered by page
func (r *RestResponseRepository) QueryAll(ctx context.Context, userID string) ([]domain.ResponseRow, error) {
	var rows []domain.ResponseRow
	resp, err := r.request(ctx).
		SetQueryParams(map[string]string{
			"select":  "*",
			"user_id": "eq." + userID,
			"order":   "page_number.asc,field_id.asc",
		}).
		SetResult(&rows).
		Get(r.path())
	if err := r.check("query all", resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteByPage removes the writer's rows for page
func (r *RestResponseRepository) DeleteByPage(ctx context.Context, userID string, page int) error {
	resp, err := r.request(ctx).
		SetQueryParams(map[string]string{
			"user_id":     "eq." + userID,
			"page_number": "eq." + strconv.Itoa(page),
		}).
		Delete(r.path())
	return r.check("delete page", resp, err)
}

// DeleteAll removes every row of the writer
func (r *RestResponseRepository) DeleteAll(ctx context.Context, userID string) error {
	resp, err := r.request(ctx).
		SetQueryParam("user_id", "eq."+userID).
		Delete(r.path())
	return r.check("delete all", resp, err)
}

// ReassignOwner copies the surviving rows to newUserID, then deletes
// oldUserID's rows. PostgREST has no multi-statement transaction, so a failure
// between the two steps leaves both copies; a retry converges because the
// copy is an upsert.
func (r *RestResponseRepository) ReassignOwner(ctx context.Context, oldUserID, newUserID string) (int64, error) {
	if oldUserID == "" || newUserID == "" {
		return 0, fmt.Errorf("old and new user ids are required")
	}
	if oldUserID == newUserID {
		return 0, nil
	}
	oldRows, err := r.QueryAll(ctx, oldUserID)
	if err != nil {
		return 0, err
	}
	if len(oldRows) == 0 {
		return 0, nil
	}
	newRows, err := r.QueryAll(ctx, newUserID)
	if err != nil {
		return 0, err
	}
	moved := mergeOwnership(newUserID, oldRows, newRows)
	if err := r.UpsertBatch(ctx, moved); err != nil {
		return 0, err
	}
	if err := r.DeleteAll(ctx, oldUserID); err != nil {
		return 0, err
	}
	return int64(len(moved)), nil
}
