package altergolden

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB, token string) (*API, *AlterGolden) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := DefaultConfig()
	cfg.API.Token = token
	cfg.API.CORS.AllowOrigins = []string{"*"}

	cache := NewCache(nil, nil, testLogger(t))
	cache.RegisterNamespace("widgets", NamespaceConfig{MaxEntries: 10})

	ag := &AlterGolden{
		config:    cfg,
		logger:    testLogger(t),
		cache:     cache,
		votes:     NewVoteCoordinator(cfg.Votes, testLogger(t), nil),
		scheduler: NewScheduler(nil, cfg.Scheduler, nil, testLogger(t), nil),
		discord:   &Discord{},
	}

	api, err := newAPI(ag, cfg.API)
	require.NoError(t, err)
	return api, ag
}

func TestAPIHealthCheck(t *testing.T) {
	api, ag := newTestAPI(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body healthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.DiscordConnected)
	assert.False(t, body.Paused)

	ag.Pause(req.Context())
	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Paused)
}

func TestAPITokenAuth(t *testing.T) {
	api, _ := newTestAPI(t, "sekrit")

	w := httptest.NewRecorder()
	api.engine.ServeHTTP(
		w,
		httptest.NewRequest(http.MethodGet, "/api/stats", nil),
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRoutesDisabledWithoutToken(t *testing.T) {
	api, _ := newTestAPI(t, "")

	w := httptest.NewRecorder()
	api.engine.ServeHTTP(
		w,
		httptest.NewRequest(http.MethodGet, "/api/stats", nil),
	)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIStats(t *testing.T) {
	api, ag := newTestAPI(t, "sekrit")
	ctx := context.Background()

	ag.cache.Set(ctx, "widgets", "a", []byte("1"))
	_, _ = ag.cache.Get(ctx, "widgets", "a")
	_, err := ag.votes.Start(ctx, "chan1", VoteSkip, "user1", 5)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	api.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Cache.Hits)
	assert.Equal(t, 1, body.Cache.NamespaceSizes["widgets"])
	assert.Equal(t, 1, body.Votes.Active)
}

func TestAPIPauseResume(t *testing.T) {
	api, ag := newTestAPI(t, "sekrit")

	post := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer sekrit")
		api.engine.ServeHTTP(w, req)
		return w
	}

	w := post("/api/pause")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "paused")
	assert.True(t, ag.paused.Load())

	w = post("/api/pause")
	assert.Contains(t, w.Body.String(), "already paused")

	w = post("/api/resume")
	assert.Contains(t, w.Body.String(), "resumed")
	assert.False(t, ag.paused.Load())
}

func TestAPICancelScheduled(t *testing.T) {
	api, ag := newTestAPI(t, "sekrit")
	store := newMemoryStore()
	ag.scheduler.store = store
	ctx := context.Background()

	ag.scheduler.Schedule(ctx, "guild1:chan1", time.Hour)
	require.True(t, ag.scheduler.Pending("guild1:chan1"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/api/scheduler/cancel/guild1:chan1",
		nil,
	)
	req.Header.Set("Authorization", "Bearer sekrit")
	api.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ag.scheduler.Pending("guild1:chan1"))
}
