// +build integration

package repository

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"testing"
	"time"

	"timecapsule/internal/common/config"
	"timecapsule/internal/common/database"
	"timecapsule/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getTestDB connects to TEST_DB_*; the user_responses table must exist
// (scripts/sql/001_user_responses.sql).
func getTestDB(t *testing.T) *sql.DB {
	cfg := &config.DatabaseConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnvInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getEnv("TEST_DB_NAME", "timecapsule"),
		SSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil
	}
	return db
}

func cleanupResponses(db *sql.DB, userIDs ...string) {
	for _, id := range userIDs {
		db.Exec(`DELETE FROM user_responses WHERE user_id = $1`, id)
	}
}

func TestPostgresResponseRepository_RoundTrip(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	repo := NewPostgresResponseRepository(db, zap.NewNop())
	ctx := context.Background()
	userID := "itest_roundtrip"
	defer cleanupResponses(db, userID)

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.Upsert(ctx, domain.ResponseRow{UserID: userID, PageNumber: 26, FieldID: "question3", Value: "first", UpdatedAt: t0}))
	require.NoError(t, repo.Upsert(ctx, domain.ResponseRow{UserID: userID, PageNumber: 26, FieldID: "question3", Value: "second", UpdatedAt: t0.Add(time.Second)}))

	rows, err := repo.QueryByPage(ctx, userID, 26)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Value)
	assert.NotEmpty(t, rows[0].ID)

	require.NoError(t, repo.DeleteAll(ctx, userID))
	rows, err = repo.QueryAll(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgresResponseRepository_ReassignOwner_Integration(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	repo := NewPostgresResponseRepository(db, zap.NewNop())
	ctx := context.Background()
	oldID, newID := "itest_anon", "itest_account"
	defer cleanupResponses(db, oldID, newID)

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.UpsertBatch(ctx, []domain.ResponseRow{
		{UserID: oldID, PageNumber: 25, FieldID: "question1", Value: "mine", UpdatedAt: t0},
		{UserID: oldID, PageNumber: 26, FieldID: "question3", Value: "stale", UpdatedAt: t0},
		{UserID: newID, PageNumber: 26, FieldID: "question3", Value: "fresh", UpdatedAt: t0.Add(time.Minute)},
	}))

	_, err := repo.ReassignOwner(ctx, oldID, newID)
	require.NoError(t, err)

	rows, err := repo.QueryAll(ctx, oldID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = repo.QueryAll(ctx, newID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "mine", rows[0].Value)
	assert.Equal(t, "fresh", rows[1].Value)
}
