package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"timecapsule/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupLocalStore(t *testing.T) (*store.MemoryKV, *LocalResponseStore) {
	kv := store.NewMemoryKV()
	return kv, NewLocalResponseStore(kv, zap.NewNop())
}

func TestLocalResponseStore_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	_, s := setupLocalStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	_, err := s.Save(ctx, 26, "question3", "The Message")
	require.NoError(t, err)

	set, err := s.Load(ctx, 26)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, 26, set.PageNumber)
	assert.Equal(t, "The Message", set.Responses["question3"])
	assert.True(t, at.Equal(set.LastModified))
}

func TestLocalResponseStore_LoadNeverWritten(t *testing.T) {
	_, s := setupLocalStore(t)

	set, err := s.Load(context.Background(), 100)
	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestLocalResponseStore_SiblingFieldsSurvive(t *testing.T) {
	ctx := context.Background()
	_, s := setupLocalStore(t)

	_, err := s.Save(ctx, 26, "question3", "a")
	require.NoError(t, err)
	_, err = s.Save(ctx, 26, "question4", "b")
	require.NoError(t, err)

	set, err := s.Load(ctx, 26)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"question3": "a", "question4": "b"}, set.Responses)
}

func TestLocalResponseStore_ConcurrentSavesSamePage(t *testing.T) {
	ctx := context.Background()
	_, s := setupLocalStore(t)

	const fields = 50
	var wg sync.WaitGroup
	for i := 0; i < fields; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Save(ctx, 60, fmt.Sprintf("field%d", i), fmt.Sprintf("v%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	set, err := s.Load(ctx, 60)
	require.NoError(t, err)
	assert.Len(t, set.Responses, fields)
}

func TestLocalResponseStore_RecordShape(t *testing.T) {
	ctx := context.Background()
	kv, s := setupLocalStore(t)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	_, err := s.Save(ctx, 25, "question1", "1979")
	require.NoError(t, err)

	raw, err := kv.Get(ctx, "@hip_hop_page_25")
	require.NoError(t, err)
	assert.JSONEq(t, `{"pageNumber":25,"responses":{"question1":"1979"},"lastModified":"2024-05-01T12:00:00Z"}`, raw)
}

func TestLocalResponseStore_ToleratesPartialRecords(t *testing.T) {
	ctx := context.Background()
	kv, s := setupLocalStore(t)

	require.NoError(t, kv.Set(ctx, PageKey(30), `{"pageNumber":30}`, 0))
	require.NoError(t, kv.Set(ctx, PageKey(31), `not json`, 0))
	require.NoError(t, kv.Set(ctx, PageKey(32), `{"pageNumber":99,"responses":{"a":"b"}}`, 0))

	set, err := s.Load(ctx, 30)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Empty(t, set.Responses)

	set, err = s.Load(ctx, 31)
	require.NoError(t, err)
	assert.Nil(t, set)

	set, err = s.Load(ctx, 32)
	require.NoError(t, err)
	assert.Nil(t, set)

	// a corrupt record is replaced by the next save
	_, err = s.Save(ctx, 31, "q", "v")
	require.NoError(t, err)
	set, err = s.Load(ctx, 31)
	require.NoError(t, err)
	assert.Equal(t, "v", set.Responses["q"])
}

func TestLocalResponseStore_LoadAllAndClear(t *testing.T) {
	ctx := context.Background()
	kv, s := setupLocalStore(t)

	for _, page := range []int{40, 25, 26} {
		_, err := s.Save(ctx, page, "q", "v")
		require.NoError(t, err)
	}
	require.NoError(t, kv.Set(ctx, "@hip_hop_anon_user_id", "anon_1_x", 0))

	sets, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, 25, sets[0].PageNumber)
	assert.Equal(t, 40, sets[2].PageNumber)

	require.NoError(t, s.Clear(ctx, 26))
	sets, err = s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, sets, 2)

	require.NoError(t, s.ClearAll(ctx))
	sets, err = s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, sets)

	// non-page keys are untouched
	v, err := kv.Get(ctx, "@hip_hop_anon_user_id")
	require.NoError(t, err)
	assert.Equal(t, "anon_1_x", v)
}

type failingKV struct {
	*store.MemoryKV
	setErr error
}

func (f *failingKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryKV.Set(ctx, key, value, ttl)
}

func TestLocalResponseStore_SaveFailure(t *testing.T) {
	kv := &failingKV{MemoryKV: store.NewMemoryKV(), setErr: errors.New("disk full")}
	s := NewLocalResponseStore(kv, zap.NewNop())

	_, err := s.Save(context.Background(), 25, "q", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
