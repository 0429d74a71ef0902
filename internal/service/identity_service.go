package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"timecapsule/internal/domain"
	"timecapsule/internal/repository"
	"timecapsule/internal/store"

	"go.uber.org/zap"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// MigrationStatus outcome of MigrateAnonymousData
type MigrationStatus string

const (
	MigrationNoAccount        MigrationStatus = "no_account"
	MigrationNothingToMigrate MigrationStatus = "nothing_to_migrate"
	MigrationCompleted        MigrationStatus = "completed"
	MigrationFailed           MigrationStatus = "failed"
)

// MigrationResult what MigrateAnonymousData did; Error is set only for
// MigrationFailed
type MigrationResult struct {
	Status    MigrationStatus `json:"status"`
	FromID    string          `json:"from_id,omitempty"`
	ToID      string          `json:"to_id,omitempty"`
	RowsMoved int64           `json:"rows_moved"`
	Error     string          `json:"error,omitempty"`
}

// IdentityResolver decides which writer id responses are recorded under:
// the selected demo profile, else the signed-in account, else a generated
// anonymous id persisted on-device.
type IdentityResolver struct {
	kv            store.KV
	demo          *DemoAuthService
	remote        repository.ResponseRepository
	remoteTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time

	// anonMu serializes anonymous id creation
	anonMu sync.Mutex
}

// NewIdentityResolver demo may be nil when the build has no demo profiles
func NewIdentityResolver(
	kv store.KV,
	demo *DemoAuthService,
	remote repository.ResponseRepository,
	remoteTimeout time.Duration,
	logger *zap.Logger,
) *IdentityResolver {
	return &IdentityResolver{
		kv:            kv,
		demo:          demo,
		remote:        remote,
		remoteTimeout: remoteTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// CurrentWriterID never fails: a storage error at one step falls through to
// the next, and the anonymous id is returned even if it could not be
// persisted.
func (r *IdentityResolver) CurrentWriterID(ctx context.Context) domain.WriterIdentity {
	if u := r.demoUser(ctx); u != nil {
		return domain.WriterIdentity{Kind: domain.WriterDemo, ID: u.ID}
	}
	if sess := r.session(ctx); sess != nil {
		return domain.WriterIdentity{Kind: domain.WriterAuthenticated, ID: sess.UserID}
	}
	return domain.WriterIdentity{Kind: domain.WriterAnonymous, ID: r.anonymousID(ctx)}
}

// CurrentUser the demo profile in account shape, else the session account,
// else nil
func (r *IdentityResolver) CurrentUser(ctx context.Context) *domain.User {
	if u := r.demoUser(ctx); u != nil {
		return &domain.User{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt, Demo: true}
	}
	if sess := r.session(ctx); sess != nil {
		return &domain.User{ID: sess.UserID, Email: sess.Email}
	}
	return nil
}

func (r *IdentityResolver) demoUser(ctx context.Context) *domain.DemoUser {
	if !r.demo.Available() {
		return nil
	}
	u, err := r.demo.CurrentDemoUser(ctx)
	if err != nil {
		r.logger.Warn("Demo profile unavailable, falling through", zap.Error(err))
		return nil
	}
	return u
}

func (r *IdentityResolver) session(ctx context.Context) *domain.Session {
	sess, err := loadSession(ctx, r.kv, r.now(), r.logger)
	if err != nil {
		r.logger.Warn("Session unavailable, falling through", zap.Error(err))
		return nil
	}
	return sess
}

func (r *IdentityResolver) anonymousID(ctx context.Context) string {
	r.anonMu.Lock()
	defer r.anonMu.Unlock()

	id, err := r.kv.Get(ctx, AnonUserIDKey)
	if err == nil && strings.HasPrefix(id, "anon_") {
		return id
	}
	if err != nil && !errors.Is(err, store.ErrMiss) {
		r.logger.Warn("Failed to read anonymous id", zap.Error(err))
	}

	id = newAnonymousID(r.now())
	if err := r.kv.Set(ctx, AnonUserIDKey, id, 0); err != nil {
		r.logger.Error("Failed to persist anonymous id", zap.String("anon_id", id), zap.Error(err))
	}
	return id
}

// newAnonymousID anon_<unix millis>_<9 base36 chars>
func newAnonymousID(at time.Time) string {
	var buf [9]byte
	_, _ = rand.Read(buf[:])
	for i, b := range buf {
		buf[i] = base36[int(b)%len(base36)]
	}
	return fmt.Sprintf("anon_%d_%s", at.UnixMilli(), buf[:])
}

// MigrateAnonymousData re-keys the anonymous writer's remote rows to the
// signed-in account and forgets the anonymous id. On remote failure the
// anonymous id is kept so a later call can retry. Failures are reported in
// the result, never as an error.
func (r *IdentityResolver) MigrateAnonymousData(ctx context.Context) MigrationResult {
	sess := r.session(ctx)
	if sess == nil {
		r.logger.Info("No authenticated user to migrate to")
		return MigrationResult{Status: MigrationNoAccount}
	}

	anonID, err := r.kv.Get(ctx, AnonUserIDKey)
	if errors.Is(err, store.ErrMiss) {
		r.logger.Info("No anonymous data to migrate", zap.String("user_id", sess.UserID))
		return MigrationResult{Status: MigrationNothingToMigrate, ToID: sess.UserID}
	}
	if err != nil {
		r.logger.Warn("Failed to read anonymous id for migration", zap.Error(err))
		return MigrationResult{Status: MigrationFailed, ToID: sess.UserID, Error: err.Error()}
	}
	if !strings.HasPrefix(anonID, "anon_") || anonID == sess.UserID {
		// the source must be a generated anonymous id other than the account
		r.logger.Warn("Discarding unusable anonymous id",
			zap.String("anon_id", anonID),
			zap.String("user_id", sess.UserID),
		)
		if err := r.kv.Delete(ctx, AnonUserIDKey); err != nil {
			r.logger.Warn("Failed to clear anonymous id", zap.String("anon_id", anonID), zap.Error(err))
		}
		return MigrationResult{Status: MigrationNothingToMigrate, ToID: sess.UserID}
	}

	result := MigrationResult{FromID: anonID, ToID: sess.UserID}

	rctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	moved, err := r.remote.ReassignOwner(rctx, anonID, sess.UserID)
	if err != nil {
		r.logger.Warn("Anonymous data migration failed, keeping anonymous id for retry",
			zap.String("from", anonID),
			zap.String("to", sess.UserID),
			zap.Error(err),
		)
		result.Status = MigrationFailed
		result.Error = err.Error()
		return result
	}

	if err := r.kv.Delete(ctx, AnonUserIDKey); err != nil {
		r.logger.Warn("Migrated but failed to clear anonymous id", zap.String("anon_id", anonID), zap.Error(err))
	}
	r.logger.Info("Migrated anonymous data to authenticated user",
		zap.String("from", anonID),
		zap.String("to", sess.UserID),
		zap.Int64("rows_moved", moved),
	)
	result.Status = MigrationCompleted
	result.RowsMoved = moved
	return result
}
