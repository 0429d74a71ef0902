package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"timecapsule/internal/domain"
	"timecapsule/internal/repository"
	"timecapsule/internal/store"

	"go.uber.org/zap"
)

var errRemoteDown = errors.New("remote unreachable")

// flakyRepo memory repository that can be switched off
type flakyRepo struct {
	*repository.MemoryResponseRepository
	mu   sync.Mutex
	down bool
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{MemoryResponseRepository: repository.NewMemoryResponseRepository()}
}

func (f *flakyRepo) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyRepo) isDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *flakyRepo) Upsert(ctx context.Context, row domain.ResponseRow) error {
	if f.isDown() {
		return errRemoteDown
	}
	return f.MemoryResponseRepository.Upsert(ctx, row)
}

func (f *flakyRepo) UpsertBatch(ctx context.Context, rows []domain.ResponseRow) error {
	if f.isDown() {
		return errRemoteDown
	}
	return f.MemoryResponseRepository.UpsertBatch(ctx, rows)
}

func (f *flakyRepo) QueryByPage(ctx context.Context, userID string, page int) ([]domain.ResponseRow, error) {
	if f.isDown() {
		return nil, errRemoteDown
	}
	return f.MemoryResponseRepository.QueryByPage(ctx, userID, page)
}

func (f *flakyRepo) QueryAll(ctx context.Context, userID string) ([]domain.ResponseRow, error) {
	if f.isDown() {
		return nil, errRemoteDown
	}
	return f.MemoryResponseRepository.QueryAll(ctx, userID)
}

func (f *flakyRepo) DeleteByPage(ctx context.Context, userID string, page int) error {
	if f.isDown() {
		return errRemoteDown
	}
	return f.MemoryResponseRepository.DeleteByPage(ctx, userID, page)
}

func (f *flakyRepo) DeleteAll(ctx context.Context, userID string) error {
	if f.isDown() {
		return errRemoteDown
	}
	return f.MemoryResponseRepository.DeleteAll(ctx, userID)
}

func (f *flakyRepo) ReassignOwner(ctx context.Context, oldUserID, newUserID string) (int64, error) {
	if f.isDown() {
		return 0, errRemoteDown
	}
	return f.MemoryResponseRepository.ReassignOwner(ctx, oldUserID, newUserID)
}

// slowRepo blocks every query until the context ends
type slowRepo struct {
	repository.DisabledResponseRepository
}

func (slowRepo) QueryByPage(ctx context.Context, _ string, _ int) ([]domain.ResponseRow, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowRepo) Upsert(ctx context.Context, _ domain.ResponseRow) error {
	<-ctx.Done()
	return ctx.Err()
}

// staticRepo answers queries with fixed rows
type staticRepo struct {
	repository.DisabledResponseRepository
	rows []domain.ResponseRow
}

func (s staticRepo) QueryByPage(context.Context, string, int) ([]domain.ResponseRow, error) {
	return s.rows, nil
}

func (s staticRepo) QueryAll(context.Context, string) ([]domain.ResponseRow, error) {
	return s.rows, nil
}

// pageWriteFailKV fails writes to page records only
type pageWriteFailKV struct {
	store.KV
}

func (k pageWriteFailKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if strings.HasPrefix(key, repository.PageKeyPrefix) {
		return errors.New("disk full")
	}
	return k.KV.Set(ctx, key, value, ttl)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []PageChangedEvent
}

func (n *recordingNotifier) NotifyPageChanged(_ context.Context, event PageChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []PageChangedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]PageChangedEvent(nil), n.events...)
}

type testEnv struct {
	kv       store.KV
	remote   *flakyRepo
	demo     *DemoAuthService
	resolver *IdentityResolver
	sessions *SessionService
	local    *repository.LocalResponseStore
	coord    *SyncCoordinator
	notifier *recordingNotifier
}

const testJWTSecret = "test-secret"

func newTestEnv(t *testing.T, demoBuild bool) *testEnv {
	return newTestEnvWithKV(t, store.NewMemoryKV(), demoBuild)
}

func newTestEnvWithKV(t *testing.T, kv store.KV, demoBuild bool) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	remote := newFlakyRepo()
	demo := NewDemoAuthService(kv, demoBuild, logger)
	resolver := NewIdentityResolver(kv, demo, remote, time.Second, logger)
	local := repository.NewLocalResponseStore(kv, logger)
	notifier := &recordingNotifier{}
	return &testEnv{
		kv:       kv,
		remote:   remote,
		demo:     demo,
		resolver: resolver,
		sessions: NewSessionService(kv, resolver, testJWTSecret, logger),
		local:    local,
		coord:    NewSyncCoordinator(local, remote, resolver, notifier, time.Second, logger),
		notifier: notifier,
	}
}
