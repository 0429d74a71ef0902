package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"timecapsule/internal/repository"
	"timecapsule/internal/service"
	"timecapsule/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const testSecret = "handler-secret"

type testAPI struct {
	srv    *httptest.Server
	remote *repository.MemoryResponseRepository
}

func setupAPI(t *testing.T, demoBuild bool) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	kv := store.NewMemoryKV()
	remote := repository.NewMemoryResponseRepository()

	demo := service.NewDemoAuthService(kv, demoBuild, logger)
	resolver := service.NewIdentityResolver(kv, demo, remote, time.Second, logger)
	sessions := service.NewSessionService(kv, resolver, testSecret, logger)
	local := repository.NewLocalResponseStore(kv, logger)
	coord := service.NewSyncCoordinator(local, remote, resolver, nil, time.Second, logger)

	router := NewRouter(logger)
	router.RegisterHealthRoute()
	router.RegisterJournalRoutes(NewJournalHandler(coord, service.NewExportService(coord, logger), logger))
	router.RegisterAuthRoutes(NewAuthHandler(resolver, sessions, demo, logger))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, remote: remote}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResult[T any](t *testing.T, resp *http.Response) Result[T] {
	t.Helper()
	var out Result[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	api := setupAPI(t, false)
	resp := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ResultSuccess, decodeResult[map[string]string](t, resp).Code)
}

func TestJournal_SaveAndLoad(t *testing.T) {
	api := setupAPI(t, false)

	resp := api.do(t, http.MethodPut, "/journal/api/v1/pages/26/fields/question3", map[string]string{"value": "Ready to Die"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeResult[service.SaveResult](t, resp)
	assert.Equal(t, service.PersistedLocallyAndRemotely, saved.Result.Outcome)

	resp = api.do(t, http.MethodPut, "/journal/api/v1/pages/26/fields/question4", map[string]string{"value": "Life After Death"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/journal/api/v1/pages/26", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loaded := decodeResult[service.LoadResult](t, resp)
	assert.Equal(t, service.SourceRemote, loaded.Result.Source)
	require.NotNil(t, loaded.Result.Page)
	assert.Equal(t, map[string]string{"question3": "Ready to Die", "question4": "Life After Death"}, loaded.Result.Page.Responses)

	resp = api.do(t, http.MethodGet, "/journal/api/v1/pages", nil)
	all := decodeResult[service.LoadAllResult](t, resp)
	assert.Len(t, all.Result.Pages, 1)
}

func TestJournal_InvalidInput(t *testing.T) {
	api := setupAPI(t, false)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/journal/api/v1/pages/0", nil},
		{http.MethodGet, "/journal/api/v1/pages/286", nil},
		{http.MethodGet, "/journal/api/v1/pages/abc", nil},
		{http.MethodDelete, "/journal/api/v1/pages/-1", nil},
		{http.MethodPut, "/journal/api/v1/pages/12/fields/%20", map[string]string{"value": "x"}},
		{http.MethodPut, "/journal/api/v1/pages/12/fields/q1", map[string]string{}},
	}
	for _, tc := range cases {
		resp := api.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.Equal(t, ResultError, decodeResult[any](t, resp).Code)
	}
}

func TestJournal_MethodAndPathChecks(t *testing.T) {
	api := setupAPI(t, false)

	assert.Equal(t, http.StatusMethodNotAllowed, api.do(t, http.MethodPost, "/journal/api/v1/pages", nil).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, api.do(t, http.MethodGet, "/journal/api/v1/pages/3/fields/q", nil).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, api.do(t, http.MethodGet, "/journal/api/v1/sync", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/journal/api/v1/pages/3/other", nil).StatusCode)
}

func TestJournal_ClearAndSync(t *testing.T) {
	api := setupAPI(t, false)

	api.do(t, http.MethodPut, "/journal/api/v1/pages/1/fields/q", map[string]string{"value": "a"})
	api.do(t, http.MethodPut, "/journal/api/v1/pages/2/fields/q", map[string]string{"value": "b"})

	resp := api.do(t, http.MethodDelete, "/journal/api/v1/pages/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := decodeResult[service.ClearResult](t, resp)
	assert.True(t, cleared.Result.Local)
	assert.True(t, cleared.Result.Remote)

	resp = api.do(t, http.MethodPost, "/journal/api/v1/sync", nil)
	report := decodeResult[service.SyncReport](t, resp)
	assert.True(t, report.Result.Pushed)
	assert.Equal(t, 1, report.Result.Rows)

	resp = api.do(t, http.MethodDelete, "/journal/api/v1/pages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/journal/api/v1/pages", nil)
	all := decodeResult[service.LoadAllResult](t, resp)
	assert.Empty(t, all.Result.Pages)
	assert.Equal(t, service.SourceNone, all.Result.Source)
}

func TestJournal_Export(t *testing.T) {
	api := setupAPI(t, false)
	api.do(t, http.MethodPut, "/journal/api/v1/pages/5/fields/q1", map[string]string{"value": "Juicy"})

	resp := api.do(t, http.MethodGet, "/journal/api/v1/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(service.JournalSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Juicy", rows[1][2])
}

func signTestToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestAuth_SignInMigratesAndWhoAmI(t *testing.T) {
	api := setupAPI(t, false)

	resp := api.do(t, http.MethodGet, "/auth/api/v1/whoami", nil)
	before := decodeResult[WhoAmIResponse](t, resp)
	assert.True(t, before.Result.Writer.IsAnonymous())
	assert.False(t, before.Result.Authenticated)

	api.do(t, http.MethodPut, "/journal/api/v1/pages/9/fields/q", map[string]string{"value": "anon answer"})

	resp = api.do(t, http.MethodPost, "/auth/api/v1/session", map[string]string{"access_token": signTestToken(t, "acct_Y")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	signIn := decodeResult[service.SignInResult](t, resp)
	assert.Equal(t, service.MigrationCompleted, signIn.Result.Migration.Status)
	assert.Equal(t, before.Result.Writer.ID, signIn.Result.Migration.FromID)

	resp = api.do(t, http.MethodGet, "/auth/api/v1/whoami", nil)
	after := decodeResult[WhoAmIResponse](t, resp)
	assert.Equal(t, "acct_Y", after.Result.Writer.ID)
	assert.True(t, after.Result.Authenticated)
	assert.Equal(t, "acct_Y@example.com", after.Result.User.Email)

	rows, err := api.remote.QueryAll(context.Background(), "acct_Y")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	resp = api.do(t, http.MethodPost, "/auth/api/v1/migrate", nil)
	migrate := decodeResult[service.MigrationResult](t, resp)
	assert.Equal(t, service.MigrationNothingToMigrate, migrate.Result.Status)

	resp = api.do(t, http.MethodDelete, "/auth/api/v1/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = api.do(t, http.MethodGet, "/auth/api/v1/whoami", nil)
	assert.True(t, decodeResult[WhoAmIResponse](t, resp).Result.Writer.IsAnonymous())
}

func TestAuth_SignInRejectsBadToken(t *testing.T) {
	api := setupAPI(t, false)

	resp := api.do(t, http.MethodPost, "/auth/api/v1/session", map[string]string{"access_token": "bogus"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/auth/api/v1/session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth_DemoUnavailable(t *testing.T) {
	api := setupAPI(t, false)

	resp := api.do(t, http.MethodGet, "/auth/api/v1/demo", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuth_DemoFlow(t *testing.T) {
	api := setupAPI(t, true)

	resp := api.do(t, http.MethodGet, "/auth/api/v1/demo", nil)
	state := decodeResult[DemoStateResponse](t, resp)
	assert.True(t, state.Result.Enabled)
	assert.Nil(t, state.Result.User)

	resp = api.do(t, http.MethodGet, "/auth/api/v1/demo/users", nil)
	users := decodeResult[[]map[string]string](t, resp)
	assert.Len(t, users.Result, 3)

	resp = api.do(t, http.MethodPost, "/auth/api/v1/demo/session", map[string]string{"user_id": "demo_user_2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/auth/api/v1/whoami", nil)
	who := decodeResult[WhoAmIResponse](t, resp)
	assert.Equal(t, "demo_user_2", who.Result.Writer.ID)
	assert.True(t, who.Result.User.Demo)

	resp = api.do(t, http.MethodPost, "/auth/api/v1/demo/toggle", nil)
	state = decodeResult[DemoStateResponse](t, resp)
	assert.False(t, state.Result.Enabled)
	assert.Nil(t, state.Result.User)

	resp = api.do(t, http.MethodPost, "/auth/api/v1/demo/session", map[string]string{"user_id": "demo_user_1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/auth/api/v1/demo", map[string]bool{"enabled": true})
	state = decodeResult[DemoStateResponse](t, resp)
	assert.True(t, state.Result.Enabled)

	assert.Equal(t, http.StatusMethodNotAllowed, api.do(t, http.MethodGet, "/auth/api/v1/demo/toggle", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/auth/api/v1/demo/nope", nil).StatusCode)
}
