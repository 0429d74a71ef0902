package service

import (
	"context"
	"time"

	"timecapsule/internal/domain"
	"timecapsule/internal/repository"

	"go.uber.org/zap"
)

// SaveOutcome which copies a Save reached
type SaveOutcome string

const (
	PersistedLocallyAndRemotely SaveOutcome = "persisted_locally_and_remotely"
	// PersistedLocally remote write skipped or failed; the local copy stands
	PersistedLocally SaveOutcome = "persisted_locally"
	// PersistenceFailed the local write failed, so durability was lost for
	// this call even if the remote write went through
	PersistenceFailed SaveOutcome = "persistence_failed"
)

// LoadSource where a read was answered from
type LoadSource string

const (
	SourceRemote LoadSource = "remote"
	SourceLocal  LoadSource = "local"
	SourceNone   LoadSource = "none"
)

// SaveResult outcome of one Save
type SaveResult struct {
	Outcome     SaveOutcome             `json:"outcome"`
	Writer      domain.WriterIdentity   `json:"writer"`
	Remote      bool                    `json:"remote"`
	Page        *domain.PageResponseSet `json:"page,omitempty"`
	LocalError  string                  `json:"local_error,omitempty"`
	RemoteError string                  `json:"remote_error,omitempty"`
}

// LoadResult page set (nil when nothing is recorded) and its source
type LoadResult struct {
	Page   *domain.PageResponseSet `json:"page"`
	Source LoadSource              `json:"source"`
}

// LoadAllResult every recorded page set, page ascending
type LoadAllResult struct {
	Pages  []domain.PageResponseSet `json:"pages"`
	Source LoadSource               `json:"source"`
}

// SyncReport result of SyncLocalToCloud
type SyncReport struct {
	Writer domain.WriterIdentity `json:"writer"`
	Pages  int                   `json:"pages"`
	Rows   int                   `json:"rows"`
	Pushed bool                  `json:"pushed"`
	Error  string                `json:"error,omitempty"`
}

// ClearResult which copies a clear reached
type ClearResult struct {
	Local       bool   `json:"local"`
	Remote      bool   `json:"remote"`
	LocalError  string `json:"local_error,omitempty"`
	RemoteError string `json:"remote_error,omitempty"`
}

// SyncCoordinator local-first writes with best-effort remote upserts, and
// remote-preferred reads with a local fallback. Remote and local storage
// failures are logged and reported in result values; the only errors
// returned are for invalid page numbers or field ids.
type SyncCoordinator struct {
	local         *repository.LocalResponseStore
	remote        repository.ResponseRepository
	identity      *IdentityResolver
	notifier      ChangeNotifier
	remoteTimeout time.Duration
	logger        *zap.Logger
}

func NewSyncCoordinator(
	local *repository.LocalResponseStore,
	remote repository.ResponseRepository,
	identity *IdentityResolver,
	notifier ChangeNotifier,
	remoteTimeout time.Duration,
	logger *zap.Logger,
) *SyncCoordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SyncCoordinator{
		local:         local,
		remote:        remote,
		identity:      identity,
		notifier:      notifier,
		remoteTimeout: remoteTimeout,
		logger:        logger,
	}
}

// Identity returns the resolver the coordinator records writes under
func (c *SyncCoordinator) Identity() *IdentityResolver {
	return c.identity
}

func (c *SyncCoordinator) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.remoteTimeout)
}

// Save writes the local copy, then upserts the remote row
func (c *SyncCoordinator) Save(ctx context.Context, page int, fieldID, value string) (*SaveResult, error) {
	if err := domain.ValidatePage(page); err != nil {
		return nil, err
	}
	if err := domain.ValidateField(fieldID); err != nil {
		return nil, err
	}

	result := &SaveResult{Outcome: PersistedLocally}

	set, err := c.local.Save(ctx, page, fieldID, value)
	updatedAt := time.Now().UTC()
	if err != nil {
		c.logger.Error("Local save failed",
			zap.Int("page", page),
			zap.String("field_id", fieldID),
			zap.Error(err),
		)
		result.Outcome = PersistenceFailed
		result.LocalError = err.Error()
	} else {
		result.Page = set
		updatedAt = set.LastModified
	}

	writer := c.identity.CurrentWriterID(ctx)
	result.Writer = writer

	rctx, cancel := c.remoteCtx(ctx)
	defer cancel()
	err = c.remote.Upsert(rctx, domain.ResponseRow{
		UserID:     writer.ID,
		PageNumber: page,
		FieldID:    fieldID,
		Value:      value,
		UpdatedAt:  updatedAt,
	})
	if err != nil {
		c.logger.Warn("Remote save failed, keeping local copy",
			zap.String("writer_id", writer.ID),
			zap.Int("page", page),
			zap.String("field_id", fieldID),
			zap.Error(err),
		)
		result.RemoteError = err.Error()
		return result, nil
	}

	result.Remote = true
	if result.Outcome == PersistedLocally {
		result.Outcome = PersistedLocallyAndRemotely
	}
	c.notify(ctx, PageChangedEvent{WriterID: writer.ID, Page: page, FieldID: fieldID, Action: "saved", UpdatedAt: updatedAt})
	return result, nil
}

// Load returns the remote rows folded into a page set when there are any;
// otherwise the local record. One source wins wholesale.
func (c *SyncCoordinator) Load(ctx context.Context, page int) (*LoadResult, error) {
	if err := domain.ValidatePage(page); err != nil {
		return nil, err
	}
	writer := c.identity.CurrentWriterID(ctx)

	rctx, cancel := c.remoteCtx(ctx)
	rows, err := c.remote.QueryByPage(rctx, writer.ID, page)
	cancel()
	if err != nil {
		c.logger.Warn("Remote load failed, falling back to local copy",
			zap.String("writer_id", writer.ID),
			zap.Int("page", page),
			zap.Error(err),
		)
	} else if set := domain.FoldRows(page, c.trustedRows(writer.ID, rows, page)); set != nil {
		return &LoadResult{Page: set, Source: SourceRemote}, nil
	}

	set, err := c.local.Load(ctx, page)
	if err != nil {
		c.logger.Error("Local load failed", zap.Int("page", page), zap.Error(err))
		return &LoadResult{Source: SourceNone}, nil
	}
	if set == nil {
		return &LoadResult{Source: SourceNone}, nil
	}
	return &LoadResult{Page: set, Source: SourceLocal}, nil
}

// LoadAll same precedence as Load across every page
func (c *SyncCoordinator) LoadAll(ctx context.Context) *LoadAllResult {
	writer := c.identity.CurrentWriterID(ctx)

	rctx, cancel := c.remoteCtx(ctx)
	rows, err := c.remote.QueryAll(rctx, writer.ID)
	cancel()
	if err != nil {
		c.logger.Warn("Remote load-all failed, falling back to local copy",
			zap.String("writer_id", writer.ID),
			zap.Error(err),
		)
	} else if trusted := c.trustedRows(writer.ID, rows, 0); len(trusted) > 0 {
		return &LoadAllResult{Pages: domain.GroupRows(trusted), Source: SourceRemote}
	}

	sets, err := c.local.LoadAll(ctx)
	if err != nil {
		c.logger.Error("Local load-all failed", zap.Error(err))
		return &LoadAllResult{Pages: []domain.PageResponseSet{}, Source: SourceNone}
	}
	if len(sets) == 0 {
		return &LoadAllResult{Pages: []domain.PageResponseSet{}, Source: SourceNone}
	}
	return &LoadAllResult{Pages: sets, Source: SourceLocal}
}

// SyncLocalToCloud pushes every local answer in one batched upsert, each row
// stamped with its page's LastModified
func (c *SyncCoordinator) SyncLocalToCloud(ctx context.Context) *SyncReport {
	writer := c.identity.CurrentWriterID(ctx)
	report := &SyncReport{Writer: writer}

	sets, err := c.local.LoadAll(ctx)
	if err != nil {
		c.logger.Error("Sync aborted, local read failed", zap.Error(err))
		report.Error = err.Error()
		return report
	}
	rows := domain.FlattenSets(writer.ID, sets)
	report.Pages = len(sets)
	report.Rows = len(rows)
	if len(rows) == 0 {
		c.logger.Debug("Nothing to sync", zap.String("writer_id", writer.ID))
		return report
	}

	rctx, cancel := c.remoteCtx(ctx)
	defer cancel()
	if err := c.remote.UpsertBatch(rctx, rows); err != nil {
		c.logger.Warn("Sync to cloud failed",
			zap.String("writer_id", writer.ID),
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
		report.Error = err.Error()
		return report
	}

	report.Pushed = true
	c.logger.Info("Synced local responses to cloud",
		zap.String("writer_id", writer.ID),
		zap.Int("pages", report.Pages),
		zap.Int("rows", report.Rows),
	)
	for _, set := range sets {
		c.notify(ctx, PageChangedEvent{WriterID: writer.ID, Page: set.PageNumber, Action: "synced", UpdatedAt: set.LastModified})
	}
	return report
}

// ClearPageResponse removes the local record and, best effort, the remote rows
func (c *SyncCoordinator) ClearPageResponse(ctx context.Context, page int) (*ClearResult, error) {
	if err := domain.ValidatePage(page); err != nil {
		return nil, err
	}
	result := &ClearResult{}
	if err := c.local.Clear(ctx, page); err != nil {
		c.logger.Error("Local clear failed", zap.Int("page", page), zap.Error(err))
		result.LocalError = err.Error()
	} else {
		result.Local = true
	}

	writer := c.identity.CurrentWriterID(ctx)
	rctx, cancel := c.remoteCtx(ctx)
	defer cancel()
	if err := c.remote.DeleteByPage(rctx, writer.ID, page); err != nil {
		c.logger.Warn("Remote clear failed",
			zap.String("writer_id", writer.ID),
			zap.Int("page", page),
			zap.Error(err),
		)
		result.RemoteError = err.Error()
		return result, nil
	}
	result.Remote = true
	c.notify(ctx, PageChangedEvent{WriterID: writer.ID, Page: page, Action: "cleared", UpdatedAt: time.Now().UTC()})
	return result, nil
}

// ClearAllPageResponses removes every local record and, best effort, every
// remote row of the writer
func (c *SyncCoordinator) ClearAllPageResponses(ctx context.Context) *ClearResult {
	result := &ClearResult{}
	if err := c.local.ClearAll(ctx); err != nil {
		c.logger.Error("Local clear-all failed", zap.Error(err))
		result.LocalError = err.Error()
	} else {
		result.Local = true
	}

	writer := c.identity.CurrentWriterID(ctx)
	rctx, cancel := c.remoteCtx(ctx)
	defer cancel()
	if err := c.remote.DeleteAll(rctx, writer.ID); err != nil {
		c.logger.Warn("Remote clear-all failed", zap.String("writer_id", writer.ID), zap.Error(err))
		result.RemoteError = err.Error()
		return result
	}
	result.Remote = true
	return result
}

// trustedRows drops rows that do not belong to writerID, fall outside the
// book, lack a field id, or (when page > 0) belong to another page
func (c *SyncCoordinator) trustedRows(writerID string, rows []domain.ResponseRow, page int) []domain.ResponseRow {
	out := rows[:0:0]
	for _, row := range rows {
		if row.UserID != writerID ||
			domain.ValidatePage(row.PageNumber) != nil ||
			domain.ValidateField(row.FieldID) != nil ||
			(page > 0 && row.PageNumber != page) {
			c.logger.Warn("Ignoring malformed remote row",
				zap.String("id", row.ID),
				zap.String("user_id", row.UserID),
				zap.Int("page", row.PageNumber),
			)
			continue
		}
		out = append(out, row)
	}
	return out
}

func (c *SyncCoordinator) notify(ctx context.Context, event PageChangedEvent) {
	if err := c.notifier.NotifyPageChanged(ctx, event); err != nil {
		c.logger.Warn("Failed to publish page event",
			zap.String("writer_id", event.WriterID),
			zap.Int("page", event.Page),
			zap.Error(err),
		)
	}
}
