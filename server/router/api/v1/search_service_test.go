package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/plugin/search"
	"github.com/mailsense/mailsense/plugin/search/querycache"
	"github.com/mailsense/mailsense/store"
	"github.com/mailsense/mailsense/store/db/memory"
)

type apiTestEnv struct {
	echo  *echo.Echo
	store *store.Store
	api   *APIV1Service
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()
	p := &profile.Profile{
		Mode:                "dev",
		Driver:              "memory",
		EmbeddingDim:        3,
		VectorWeight:        0.5,
		SimilarityThreshold: 0.5,
		SearchLimit:         10,
	}
	driver, err := memory.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	st := store.New(driver, p)

	cache := querycache.New(querycache.Config{Capacity: 100, TTL: time.Minute, CleanupInterval: time.Hour})
	t.Cleanup(cache.Close)

	logger := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := search.NewService(st, cache, nil, logger)

	return &apiTestEnv{
		echo:  echo.New(),
		store: st,
		api:   NewAPIV1Service(p, st, svc, logger),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (env *apiTestEnv) seedMessages(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	renewal, err := env.store.CreateMessage(ctx, &store.Message{
		AccountID: 1, OrganizationID: 1, ThreadID: 1,
		Subject: "contract renewal",
		Body:    "the renewal terms arrived today",
	})
	require.NoError(t, err)
	lunch, err := env.store.CreateMessage(ctx, &store.Message{
		AccountID: 1, OrganizationID: 1, ThreadID: 1,
		Subject: "lunch plans",
		Body:    "meet at noon by the elevator",
	})
	require.NoError(t, err)

	for id, v := range map[int32][]float32{
		renewal.ID: {0.9, 0.1, 0},
		lunch.ID:   {1, 0, 0},
	} {
		_, err := env.store.UpsertEmbedding(ctx, &store.UpsertEmbedding{
			OwnerKind: store.EntityKindMessage,
			OwnerID:   id,
			Vector:    v,
			Model:     "test-embedder",
			InputHash: "seed",
		})
		require.NoError(t, err)
	}
}

func (env *apiTestEnv) do(handler echo.HandlerFunc, method, target, body string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := env.echo.NewContext(req, rec)
	return rec, handler(c)
}

func TestHandleSearch(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedMessages(t)

	rec, err := env.do(env.api.HandleSearch, http.MethodPost, "/api/v1/search",
		`{"kind":"message","query":"contract","queryVector":[1,0,0]}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	response := &SearchResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), response))
	require.NotEmpty(t, response.Results)
	for _, item := range response.Results {
		assert.Equal(t, "message", item.Kind)
		assert.NotEmpty(t, item.UID)
		assert.Greater(t, item.RRFScore, 0.0)
	}
	assert.Equal(t, "contract renewal", response.Results[0].Subject)
	assert.Contains(t, response.Results[0].MatchSnippet, "contract")
	assert.NotEmpty(t, response.Results[0].Highlights)
}

func TestHandleSearchScopeFilter(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedMessages(t)

	rec, err := env.do(env.api.HandleSearch, http.MethodPost, "/api/v1/search",
		`{"kind":"message","query":"contract","queryVector":[1,0,0],"accountIds":[99]}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	response := &SearchResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), response))
	assert.Empty(t, response.Results)
}

func TestHandleSearchInvalidRequest(t *testing.T) {
	env := newAPITestEnv(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown kind", `{"kind":"contact","query":"x","queryVector":[1,0,0]}`, http.StatusBadRequest},
		{"empty query", `{"kind":"message","query":"  ","queryVector":[1,0,0]}`, http.StatusBadRequest},
		{"weight out of range", `{"kind":"message","query":"x","vectorWeight":1.5,"queryVector":[1,0,0]}`, http.StatusBadRequest},
		{"wrong vector dimension", `{"kind":"message","query":"x","queryVector":[1,0]}`, http.StatusBadRequest},
		{"malformed body", `{"kind":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.do(env.api.HandleSearch, http.MethodPost, "/api/v1/search", tt.body)
			require.Error(t, err)
			httpErr, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, tt.want, httpErr.Code)
		})
	}
}

func TestHandleSearchEmbeddingRequired(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedMessages(t)

	// No embedder configured, no cached vector, no vector in the request.
	_, err := env.do(env.api.HandleSearch, http.MethodPost, "/api/v1/search",
		`{"kind":"message","query":"contract"}`)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, httpErr.Code)
}

func TestHandleWarmCache(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedMessages(t)

	rec, err := env.do(env.api.HandleWarmCache, http.MethodPost, "/api/v1/cache/warm",
		`{"query":"contract","vector":[1,0,0],"model":"test-embedder"}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The warmed vector satisfies a subsequent search without an embedder.
	rec, err = env.do(env.api.HandleSearch, http.MethodPost, "/api/v1/search",
		`{"kind":"message","query":"contract"}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	response := &SearchResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), response))
	assert.NotEmpty(t, response.Results)
}

func TestHandleWarmCacheInvalid(t *testing.T) {
	env := newAPITestEnv(t)

	_, err := env.do(env.api.HandleWarmCache, http.MethodPost, "/api/v1/cache/warm",
		`{"query":"","vector":[1,0,0]}`)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHandleGetThreadEmbedding(t *testing.T) {
	env := newAPITestEnv(t)
	ctx := context.Background()

	thread, err := env.store.CreateThread(ctx, &store.Thread{
		AccountID: 1, OrganizationID: 1,
		Subject: "quarterly planning",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/"+itoa(thread.ID)+"/embedding", nil)
	rec := httptest.NewRecorder()
	c := env.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(itoa(thread.ID))

	handlerErr := env.api.HandleGetThreadEmbedding(c)
	require.Error(t, handlerErr)
	httpErr, ok := handlerErr.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)

	_, err = env.store.UpsertThreadAggregateEmbedding(ctx, &store.ThreadAggregateEmbedding{
		EmbeddingRecord: store.EmbeddingRecord{
			OwnerID:   thread.ID,
			Vector:    []float32{0.5, 0.5, 0},
			Model:     "test-embedder",
			InputHash: "agg",
		},
		AggregationMethod: store.AggregationMean,
		MessageCount:      4,
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	c = env.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(itoa(thread.ID))
	require.NoError(t, env.api.HandleGetThreadEmbedding(c))
	require.Equal(t, http.StatusOK, rec.Code)

	response := &ThreadEmbeddingResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), response))
	assert.Equal(t, thread.ID, response.ThreadID)
	assert.Equal(t, "mean", response.AggregationMethod)
	assert.Equal(t, int32(4), response.MessageCount)
	assert.Equal(t, 3, response.Dimension)
}

func TestHandleGetThreadEmbeddingBadID(t *testing.T) {
	env := newAPITestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/abc/embedding", nil)
	rec := httptest.NewRecorder()
	c := env.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")

	err := env.api.HandleGetThreadEmbedding(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func itoa(v int32) string {
	return strconv.Itoa(int(v))
}
