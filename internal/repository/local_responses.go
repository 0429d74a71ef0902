package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"timecapsule/internal/domain"
	"timecapsule/internal/store"

	"go.uber.org/zap"
)

// PageKeyPrefix namespaces per-page records in the on-device KV
const PageKeyPrefix = "@hip_hop_page_"

// PageKey returns the KV key holding page's response set
func PageKey(page int) string {
	return PageKeyPrefix + strconv.Itoa(page)
}

// LocalResponseStore on-device copy of the writer's answers, one JSON
// aggregate per page.
//
// Each Save is a read-modify-write of the page aggregate, serialized per page
// so concurrent saves to sibling fields do not drop each other.
type LocalResponseStore struct {
	kv     store.KV
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	pages map[int]*sync.Mutex
}

// NewLocalResponseStore creates the local store over kv
func NewLocalResponseStore(kv store.KV, logger *zap.Logger) *LocalResponseStore {
	return &LocalResponseStore{
		kv:     kv,
		logger: logger,
		now:    time.Now,
		pages:  map[int]*sync.Mutex{},
	}
}

func (s *LocalResponseStore) pageLock(page int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.pages[page]
	if !ok {
		l = &sync.Mutex{}
		s.pages[page] = l
	}
	return l
}

// Save merges fieldID=value into the page aggregate and stamps LastModified
func (s *LocalResponseStore) Save(ctx context.Context, page int, fieldID, value string) (*domain.PageResponseSet, error) {
	l := s.pageLock(page)
	l.Lock()
	defer l.Unlock()

	set, err := s.Load(ctx, page)
	if err != nil {
		return nil, err
	}
	if set == nil {
		set = domain.NewPageResponseSet(page)
	}
	set.Set(fieldID, value, s.now().UTC())

	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", page, err)
	}
	if err := s.kv.Set(ctx, PageKey(page), string(raw), 0); err != nil {
		s.logger.Error("Failed to save page response locally",
			zap.Int("page_number", page),
			zap.String("field_id", fieldID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to save page %d: %w", page, err)
	}
	return set, nil
}

// Load returns the page aggregate, or nil when the page was never written
func (s *LocalResponseStore) Load(ctx context.Context, page int) (*domain.PageResponseSet, error) {
	raw, err := s.kv.Get(ctx, PageKey(page))
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, nil
		}
		s.logger.Error("Failed to load page response locally", zap.Int("page_number", page), zap.Error(err))
		return nil, fmt.Errorf("failed to load page %d: %w", page, err)
	}
	set, err := decodeLocalRecord(page, raw)
	if err != nil {
		// A corrupt record is treated as absent so the next save replaces it.
		s.logger.Warn("Discarding unreadable local page record", zap.Int("page_number", page), zap.Error(err))
		return nil, nil
	}
	return set, nil
}

// LoadAll returns every stored page aggregate, sorted by page number
func (s *LocalResponseStore) LoadAll(ctx context.Context) ([]domain.PageResponseSet, error) {
	keys, err := s.kv.ScanKeys(ctx, PageKeyPrefix+"*")
	if err != nil {
		s.logger.Error("Failed to enumerate local page responses", zap.Error(err))
		return nil, fmt.Errorf("failed to scan page keys: %w", err)
	}

	sets := make([]domain.PageResponseSet, 0, len(keys))
	for _, key := range keys {
		page, ok := pageFromKey(key)
		if !ok {
			continue
		}
		set, err := s.Load(ctx, page)
		if err != nil {
			return nil, err
		}
		if set != nil {
			sets = append(sets, *set)
		}
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].PageNumber < sets[j].PageNumber })
	return sets, nil
}

// Clear removes one page aggregate
func (s *LocalResponseStore) Clear(ctx context.Context, page int) error {
	l := s.pageLock(page)
	l.Lock()
	defer l.Unlock()

	if err := s.kv.Delete(ctx, PageKey(page)); err != nil {
		s.logger.Error("Failed to clear local page response", zap.Int("page_number", page), zap.Error(err))
		return fmt.Errorf("failed to clear page %d: %w", page, err)
	}
	return nil
}

// ClearAll removes every page aggregate
func (s *LocalResponseStore) ClearAll(ctx context.Context) error {
	keys, err := s.kv.ScanKeys(ctx, PageKeyPrefix+"*")
	if err != nil {
		s.logger.Error("Failed to enumerate local page responses", zap.Error(err))
		return fmt.Errorf("failed to scan page keys: %w", err)
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		s.logger.Error("Failed to clear local page responses", zap.Int("count", len(keys)), zap.Error(err))
		return fmt.Errorf("failed to clear pages: %w", err)
	}
	return nil
}

func pageFromKey(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, PageKeyPrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// localRecord wire shape; every field is optional on read
type localRecord struct {
	PageNumber   *int              `json:"pageNumber"`
	Responses    map[string]string `json:"responses"`
	LastModified string            `json:"lastModified"`
}

func decodeLocalRecord(page int, raw string) (*domain.PageResponseSet, error) {
	var rec localRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if rec.PageNumber != nil && *rec.PageNumber != page {
		return nil, fmt.Errorf("record page %d stored under page %d", *rec.PageNumber, page)
	}

	set := domain.NewPageResponseSet(page)
	for k, v := range rec.Responses {
		set.Responses[k] = v
	}
	if rec.LastModified != "" {
		if t, err := time.Parse(time.RFC3339Nano, rec.LastModified); err == nil {
			set.LastModified = t
		}
	}
	return set, nil
}
