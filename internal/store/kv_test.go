package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"timecapsule/internal/common/config"
	"timecapsule/internal/common/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisKV(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisKV(client)
}

func setupSQLiteKV(t *testing.T) *SQLiteKV {
	db, err := database.NewSQLiteDB(&config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv, err := NewSQLiteKV(db)
	require.NoError(t, err)
	return kv
}

func kvBackends(t *testing.T) map[string]KV {
	_, redisKV := setupRedisKV(t)
	return map[string]KV{
		"memory": NewMemoryKV(),
		"sqlite": setupSQLiteKV(t),
		"redis":  redisKV,
	}
}

func TestKV_GetSetDelete(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := kv.Get(ctx, "@hip_hop_anon_user_id")
			assert.ErrorIs(t, err, ErrMiss)

			require.NoError(t, kv.Set(ctx, "@hip_hop_anon_user_id", "anon_1_abc", 0))
			v, err := kv.Get(ctx, "@hip_hop_anon_user_id")
			require.NoError(t, err)
			assert.Equal(t, "anon_1_abc", v)

			require.NoError(t, kv.Set(ctx, "@hip_hop_anon_user_id", "anon_2_def", 0))
			v, err = kv.Get(ctx, "@hip_hop_anon_user_id")
			require.NoError(t, err)
			assert.Equal(t, "anon_2_def", v)

			require.NoError(t, kv.Delete(ctx, "@hip_hop_anon_user_id"))
			_, err = kv.Get(ctx, "@hip_hop_anon_user_id")
			assert.ErrorIs(t, err, ErrMiss)

			assert.NoError(t, kv.Delete(ctx))
		})
	}
}

func TestKV_ScanKeysByPrefix(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, kv.Set(ctx, "@hip_hop_page_25", "{}", 0))
			require.NoError(t, kv.Set(ctx, "@hip_hop_page_26", "{}", 0))
			require.NoError(t, kv.Set(ctx, "@hip_hop_demo_mode", "true", 0))

			keys, err := kv.ScanKeys(ctx, "@hip_hop_page_*")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"@hip_hop_page_25", "@hip_hop_page_26"}, keys)
		})
	}
}

func TestMemoryKV_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	kv := NewMemoryKV()
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "session", "x", time.Minute))
	_, err := kv.Get(ctx, "session")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = kv.Get(ctx, "session")
	assert.ErrorIs(t, err, ErrMiss)

	keys, err := kv.ScanKeys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLiteKV_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	kv := setupSQLiteKV(t)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "session", "x", time.Minute))
	_, err := kv.Get(ctx, "session")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = kv.Get(ctx, "session")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisKV_TTL(t *testing.T) {
	ctx := context.Background()
	mr, kv := setupRedisKV(t)

	require.NoError(t, kv.Set(ctx, "session", "x", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := kv.Get(ctx, "session")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSQLiteKV_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	db, err := database.NewSQLiteDB(&config.SQLiteConfig{Path: path})
	require.NoError(t, err)
	kv, err := NewSQLiteKV(db)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "@hip_hop_page_30", `{"pageNumber":30}`, 0))
	require.NoError(t, db.Close())

	db, err = database.NewSQLiteDB(&config.SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer db.Close()
	kv, err = NewSQLiteKV(db)
	require.NoError(t, err)

	v, err := kv.Get(ctx, "@hip_hop_page_30")
	require.NoError(t, err)
	assert.Equal(t, `{"pageNumber":30}`, v)
}
