package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"insight-call-flow/internal/audit"
	"insight-call-flow/internal/auth"
	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/callsync"
	"insight-call-flow/internal/config"
	"insight-call-flow/internal/rbac"
	"insight-call-flow/internal/reporting"
	"insight-call-flow/internal/storage"
	"insight-call-flow/internal/telegram"
	"insight-call-flow/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type queued struct{ orgID, callID string }

type fakeQueue struct {
	mu    sync.Mutex
	items []queued
}

func (q *fakeQueue) Enqueue(_ context.Context, orgID, callID, _ string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queued{orgID: orgID, callID: callID})
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type env struct {
	router *gin.Engine
	auth   *auth.Manager
	db     *gorm.DB
	queue  *fakeQueue
	audit  *audit.MemoryRepo
	h      *Handlers
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	callStore := calls.NewGormStore(db)
	require.NoError(t, callStore.Migrate(ctx))
	conns := telephony.NewConnectionStore(db)
	require.NoError(t, conns.Migrate(ctx))
	records := callsync.NewStore(db)
	require.NoError(t, records.Migrate(ctx))
	linker := telegram.NewLinker(db, 0)
	require.NoError(t, linker.Migrate(ctx))

	objects, err := storage.NewLocalStore(t.TempDir(), "http://files.local")
	require.NoError(t, err)

	am, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}, rbac.Known)
	require.NoError(t, err)

	q := &fakeQueue{}
	auditRepo := audit.NewMemoryRepo()
	h := New(Handlers{
		Auth:        am,
		Calls:       calls.NewService(callStore, objects, q),
		Connections: conns,
		Tokens:      telephony.NewTokenManager(conns, "http://oauth.invalid/token", nil),
		Sync:        callsync.NewService(conns, nil, records, nil, nil, time.Hour),
		Linker:      linker,
		Bot:         telegram.NewBot(config.TelegramConfig{BotUsername: "insight_bot"}, nil),
		Reports:     reporting.NewService(reporting.NewGormRepo(db, records)),
		Audit:       audit.NewService(auditRepo),
		DevLogin:    true,
	})

	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	v1 := r.Group("/v1", auth.RequireAccessToken(am), rbac.RequireOrg())
	v1.GET("/me", h.Me)
	v1.POST("/calls", rbac.RequireAnyRole(rbac.Operators...), h.UploadCall)
	v1.GET("/calls", rbac.RequireAnyRole(rbac.Readers...), h.ListCalls)
	v1.GET("/calls/:id", rbac.RequireAnyRole(rbac.Readers...), h.GetCall)
	v1.GET("/calls/:id/status", rbac.RequireAnyRole(rbac.Readers...), h.GetCallStatus)
	v1.POST("/calls/:id/reprocess", rbac.RequireAnyRole(rbac.Operators...), h.ReprocessCall)
	v1.PUT("/integrations/telfin/credentials", rbac.RequireAnyRole(rbac.Admins...), h.SaveTelfinCredentials)
	v1.DELETE("/integrations/telfin/token", rbac.RequireAnyRole(rbac.Admins...), h.ClearTelfinToken)
	v1.POST("/integrations/telfin/sync", rbac.RequireAnyRole(rbac.Admins...), h.SyncTelfin)
	v1.GET("/integrations/telfin/calls", rbac.RequireAnyRole(rbac.Admins...), h.ListTelfinCalls)
	v1.POST("/telegram/sessions", rbac.RequireAnyRole(rbac.Readers...), h.CreateTelegramSession)
	v1.GET("/reports/quality", rbac.RequireAnyRole(rbac.Readers...), h.QualityReport)

	return &env{router: r, auth: am, db: db, queue: q, audit: auditRepo, h: h}
}

func (e *env) token(t *testing.T, orgID, role string) string {
	t.Helper()
	pair, err := e.auth.IssuePair(time.Now(), "user-1", orgID, role)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) upload(t *testing.T, token, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("started_at", "2024-05-01T10:00:00Z"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "", nil).Code)

	e.h.Ready = func(context.Context) error { return errors.New("db down") }
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestLoginAndRefresh(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u", "org_id": "o", "role": "manager"})
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decode[auth.TokenPair](t, rec)
	require.NotEmpty(t, pair.RefreshToken)

	rec = e.do(t, http.MethodGet, "/v1/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o", decode[map[string]string](t, rec)["org_id"])

	rec = e.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decode[auth.TokenPair](t, rec)
	rec = e.do(t, http.MethodGet, "/v1/me", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "manager", decode[map[string]string](t, rec)["role"])

	rec = e.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u", "org_id": "o", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.h.DevLogin = false
	rec = e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u", "org_id": "o", "role": "manager"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalls_UploadGetAndStatus(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "org", rbac.RoleManager)

	rec := e.upload(t, tok, "call.mp3", []byte("ID3 audio"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode[calls.Call](t, rec)
	assert.Equal(t, calls.StatusPending, created.Status)
	assert.True(t, strings.HasPrefix(created.AudioURL, "http://files.local/"))
	require.NotNil(t, created.StartedAt)
	assert.Equal(t, 1, e.queue.len())

	rec = e.do(t, http.MethodGet, "/v1/calls/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/calls/"+created.ID+"/status", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, calls.StatusPending, decode[calls.StatusView](t, rec).Status)

	other := e.token(t, "other-org", rbac.RoleOwner)
	rec = e.do(t, http.MethodGet, "/v1/calls/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorResponse](t, rec).Code)

	rec = e.do(t, http.MethodGet, "/v1/calls?status=pending", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Items []calls.Call `json:"items"`
	}](t, rec)
	assert.Len(t, list.Items, 1)

	rec = e.do(t, http.MethodGet, "/v1/calls?status=bogus", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalls_UploadRequiresFileAndRole(t *testing.T) {
	e := newEnv(t)

	rec := e.upload(t, e.token(t, "org", rbac.RoleManager), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.upload(t, e.token(t, "org", rbac.RoleViewer), "call.mp3", []byte("x"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/calls", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, e.queue.len())
}

func TestCalls_Reprocess(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "org", rbac.RoleOwner)

	created := decode[calls.Call](t, e.upload(t, tok, "call.wav", []byte("RIFF")))

	rec := e.do(t, http.MethodPost, "/v1/calls/"+created.ID+"/reprocess", tok, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, e.queue.len())

	require.NoError(t, e.db.Model(&calls.Call{}).Where("id = ?", created.ID).Update("status", calls.StatusProcessing).Error)
	rec = e.do(t, http.MethodPost, "/v1/calls/"+created.ID+"/reprocess", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 2, e.queue.len())

	rec = e.do(t, http.MethodPost, "/v1/calls/missing/reprocess", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTelfin_CredentialsTokenAndSync(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "org", rbac.RoleAdmin)

	rec := e.do(t, http.MethodPost, "/v1/integrations/telfin/sync", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CONFIGURATION_ERROR", decode[errorResponse](t, rec).Code)

	rec = e.do(t, http.MethodDelete, "/v1/integrations/telfin/token", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPut, "/v1/integrations/telfin/credentials", admin, map[string]string{"client_id": "cid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/v1/integrations/telfin/credentials", admin, map[string]string{"client_id": "cid", "client_secret": "s"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/v1/integrations/telfin/token", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	now := time.Now().UTC()
	rec = e.do(t, http.MethodPost, "/v1/integrations/telfin/sync", admin, map[string]time.Time{"from": now, "to": now.Add(-time.Hour)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/integrations/telfin/calls?status=error", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPut, "/v1/integrations/telfin/credentials", e.token(t, "org", rbac.RoleManager), map[string]string{"client_id": "cid", "client_secret": "s"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var types []audit.EventType
	for _, ev := range e.audit.Events() {
		assert.Equal(t, "org", ev.OrgID)
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, audit.EventTelfinCredentialsSaved)
	assert.Contains(t, types, audit.EventTelfinTokensCleared)
}

func TestTelegram_CreateSession(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/telegram/sessions", e.token(t, "org", rbac.RoleViewer), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[map[string]any](t, rec)
	code, _ := body["code"].(string)
	assert.Len(t, code, 32)
	assert.Equal(t, "https://t.me/insight_bot?start="+code, body["deep_link"])
	assert.NotEmpty(t, body["expires_at"])
}

func TestReports_Quality(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "org", rbac.RoleViewer)
	require.Equal(t, http.StatusAccepted, e.upload(t, e.token(t, "org", rbac.RoleOwner), "a.mp3", []byte("a")).Code)

	q := url.Values{}
	q.Set("from", time.Now().Add(-time.Hour).Format(time.RFC3339))
	q.Set("to", time.Now().Add(time.Hour).Format(time.RFC3339))
	rec := e.do(t, http.MethodGet, "/v1/reports/quality?"+q.Encode(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[reporting.QualitySummary](t, rec)
	assert.Equal(t, "org", out.OrgID)
	assert.Equal(t, 1, out.TotalCalls)
	assert.Equal(t, 1, out.PendingCalls)

	q.Set("to", time.Now().Add(-2*time.Hour).Format(time.RFC3339))
	rec = e.do(t, http.MethodGet, "/v1/reports/quality?"+q.Encode(), tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
