package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsense/mailsense/internal/errors"
	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/plugin/search/querycache"
	"github.com/mailsense/mailsense/store"
	"github.com/mailsense/mailsense/store/db/memory"
)

func testProfile(degrade bool) *profile.Profile {
	return &profile.Profile{
		Mode:                 "dev",
		Driver:               "memory",
		EmbeddingDim:         3,
		VectorWeight:         0.5,
		SimilarityThreshold:  0.5,
		SearchLimit:          10,
		DegradeOnPathFailure: degrade,
	}
}

func newTestStore(t *testing.T, p *profile.Profile) *store.Store {
	t.Helper()
	driver, err := memory.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	return store.New(driver, p)
}

func newTestCache(t *testing.T) *querycache.Cache {
	t.Helper()
	c := querycache.New(querycache.Config{Capacity: 100, TTL: time.Minute, CleanupInterval: time.Hour})
	t.Cleanup(c.Close)
	return c
}

// fakeEmbedder returns a fixed vector and counts calls.
type fakeEmbedder struct {
	vector []float32
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	f.calls += len(texts)
	return out, nil
}

func (f *fakeEmbedder) Model() string   { return "fake-embedder" }
func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }

// seedMessages creates three messages:
//   - id A: mentions "contract", vector close to the query direction
//   - id B: no keyword match, vector closest to the query direction
//   - id C: mentions "contract" twice, no embedding (keyword only)
func seedMessages(t *testing.T, ctx context.Context, st *store.Store) (a, b, c int32) {
	t.Helper()

	msgA, err := st.CreateMessage(ctx, &store.Message{
		AccountID: 1, OrganizationID: 1, ThreadID: 1,
		Subject: "contract renewal",
		Body:    "the renewal terms arrived today",
	})
	require.NoError(t, err)
	msgB, err := st.CreateMessage(ctx, &store.Message{
		AccountID: 1, OrganizationID: 1, ThreadID: 1,
		Subject: "lunch plans",
		Body:    "meet at noon by the elevator",
	})
	require.NoError(t, err)
	msgC, err := st.CreateMessage(ctx, &store.Message{
		AccountID: 1, OrganizationID: 1, ThreadID: 2,
		Subject: "contract draft",
		Body:    "first contract draft attached for review",
	})
	require.NoError(t, err)

	vectors := map[int32][]float32{
		msgA.ID: {0.9, 0.1, 0},
		msgB.ID: {1, 0, 0},
	}
	for id, v := range vectors {
		_, err := st.UpsertEmbedding(ctx, &store.UpsertEmbedding{
			OwnerKind: store.EntityKindMessage,
			OwnerID:   id,
			Vector:    v,
			Model:     "fake-embedder",
			InputHash: "seed",
		})
		require.NoError(t, err)
	}
	return msgA.ID, msgB.ID, msgC.ID
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func float64Ptr(v float64) *float64 { return &v }

func TestSearchVectorOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	a, b, c := seedMessages(t, ctx, st)
	svc := NewService(st, newTestCache(t), nil, testLogger())

	results, err := svc.Search(ctx, &Options{
		Kind:         store.EntityKindMessage,
		Query:        "contract",
		QueryVector:  []float32{1, 0, 0},
		VectorWeight: float64Ptr(1.0),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, b, results[0].Entity.ID())
	assert.Equal(t, a, results[1].Entity.ID())
	assert.InDelta(t, 1.0, results[0].VectorSimilarity, 1e-6)
	assert.Equal(t, AbsentRank, results[0].KeywordRank)
	// c has no embedding and cannot appear on the vector path.
	assert.NotContains(t, []int32{results[0].Entity.ID(), results[1].Entity.ID()}, c)
}

func TestSearchKeywordOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	a, b, c := seedMessages(t, ctx, st)
	svc := NewService(st, newTestCache(t), nil, testLogger())

	// Weight 0 disables the vector path, so no query embedding is needed.
	results, err := svc.Search(ctx, &Options{
		Kind:         store.EntityKindMessage,
		Query:        "contract",
		VectorWeight: float64Ptr(0),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := []int32{results[0].Entity.ID(), results[1].Entity.ID()}
	assert.ElementsMatch(t, []int32{a, c}, ids)
	assert.NotContains(t, ids, b)
	for _, r := range results {
		assert.Equal(t, AbsentRank, r.VectorRank)
	}
}

func TestSearchHybridFavorsBothPaths(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	a, _, _ := seedMessages(t, ctx, st)
	svc := NewService(st, newTestCache(t), nil, testLogger())

	// A matches the keyword and sits near the query vector; it must beat
	// the pure-vector and pure-keyword candidates.
	results, err := svc.Search(ctx, &Options{
		Kind:        store.EntityKindMessage,
		Query:       "contract",
		QueryVector: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, a, results[0].Entity.ID())
	assert.NotEqual(t, AbsentRank, results[0].VectorRank)
	assert.NotEqual(t, AbsentRank, results[0].KeywordRank)
}

func TestSearchLimitTruncates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	seedMessages(t, ctx, st)
	svc := NewService(st, newTestCache(t), nil, testLogger())

	results, err := svc.Search(ctx, &Options{
		Kind:        store.EntityKindMessage,
		Query:       "contract",
		QueryVector: []float32{1, 0, 0},
		Limit:       1,
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchScopeFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	seedMessages(t, ctx, st)

	other, err := st.CreateMessage(ctx, &store.Message{
		AccountID: 2, OrganizationID: 1, ThreadID: 3,
		Subject: "contract question",
		Body:    "is the contract signed yet",
	})
	require.NoError(t, err)
	_, err = st.UpsertEmbedding(ctx, &store.UpsertEmbedding{
		OwnerKind: store.EntityKindMessage,
		OwnerID:   other.ID,
		Vector:    []float32{1, 0, 0},
		InputHash: "seed",
	})
	require.NoError(t, err)

	svc := NewService(st, newTestCache(t), nil, testLogger())
	results, err := svc.Search(ctx, &Options{
		Kind:        store.EntityKindMessage,
		Query:       "contract",
		QueryVector: []float32{1, 0, 0},
		Filter:      &store.ScopeFilter{AccountIDs: []int32{2}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, other.ID, results[0].Entity.ID())
}

func TestSearchEmbeddingRequired(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	seedMessages(t, ctx, st)
	svc := NewService(st, newTestCache(t), nil, testLogger())

	_, err := svc.Search(ctx, &Options{
		Kind:  store.EntityKindMessage,
		Query: "contract",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEmbeddingRequired))
}

func TestSearchUsesCachedEmbedding(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	seedMessages(t, ctx, st)
	svc := NewService(st, newTestCache(t), nil, testLogger())

	require.NoError(t, svc.WarmQueryCache("contract", []float32{1, 0, 0}, "fake-embedder"))

	results, err := svc.Search(ctx, &Options{
		Kind:  store.EntityKindMessage,
		Query: "contract",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestSearchEmbedderFillsCache(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	seedMessages(t, ctx, st)
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0}}
	cache := newTestCache(t)
	svc := NewService(st, cache, embedder, testLogger())

	for i := 0; i < 2; i++ {
		_, err := svc.Search(ctx, &Options{
			Kind:  store.EntityKindMessage,
			Query: "contract",
		})
		require.NoError(t, err)
	}

	// Second search must hit the cache instead of the embedder.
	assert.Equal(t, 1, embedder.calls)
	entry, ok := cache.Get("contract")
	require.True(t, ok)
	assert.Equal(t, "fake-embedder", entry.Model)
}

func TestSearchInvalidArguments(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	svc := NewService(st, newTestCache(t), nil, testLogger())

	tests := []struct {
		name string
		opts *Options
	}{
		{"unknown kind", &Options{Kind: "folder", Query: "x", QueryVector: []float32{1, 0, 0}}},
		{"empty query", &Options{Kind: store.EntityKindMessage, Query: "   ", QueryVector: []float32{1, 0, 0}}},
		{"weight above one", &Options{Kind: store.EntityKindMessage, Query: "x", QueryVector: []float32{1, 0, 0}, VectorWeight: float64Ptr(1.5)}},
		{"weight below zero", &Options{Kind: store.EntityKindMessage, Query: "x", QueryVector: []float32{1, 0, 0}, VectorWeight: float64Ptr(-0.5)}},
		{"wrong vector dimension", &Options{Kind: store.EntityKindMessage, Query: "x", QueryVector: []float32{1, 0}}},
		{"threshold above one", &Options{Kind: store.EntityKindMessage, Query: "x", QueryVector: []float32{1, 0, 0}, Threshold: float64Ptr(1.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(ctx, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
		})
	}
}

func TestSearchThresholdDropsWeakVectorMatches(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, testProfile(false))
	seedMessages(t, ctx, st)

	// Similarity to the query vector is ~0.316, below the default 0.5.
	weak, err := st.CreateMessage(ctx, &store.Message{
		AccountID: 1, OrganizationID: 1, ThreadID: 3,
		Subject: "budget report",
		Body:    "numbers for the quarter",
	})
	require.NoError(t, err)
	_, err = st.UpsertEmbedding(ctx, &store.UpsertEmbedding{
		OwnerKind: store.EntityKindMessage,
		OwnerID:   weak.ID,
		Vector:    []float32{1, 3, 0},
		InputHash: "seed",
	})
	require.NoError(t, err)

	svc := NewService(st, newTestCache(t), nil, testLogger())
	results, err := svc.Search(ctx, &Options{
		Kind:         store.EntityKindMessage,
		Query:        "contract",
		QueryVector:  []float32{1, 0, 0},
		VectorWeight: float64Ptr(1.0),
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, weak.ID, r.Entity.ID())
	}

	// An explicit zero threshold reaches the store untouched and lets the
	// weak match through.
	results, err = svc.Search(ctx, &Options{
		Kind:         store.EntityKindMessage,
		Query:        "contract",
		QueryVector:  []float32{1, 0, 0},
		VectorWeight: float64Ptr(1.0),
		Threshold:    float64Ptr(0),
	})
	require.NoError(t, err)
	ids := make([]int32, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Entity.ID())
	}
	assert.Contains(t, ids, weak.ID)
}

// failingVectorPath wraps a driver and fails every vector query.
type failingVectorPath struct {
	store.Driver
}

func (f failingVectorPath) SimilaritySearch(ctx context.Context, opts *store.SimilaritySearchOptions) ([]*store.RankedEntity, error) {
	return nil, errors.StoreUnavailable("vector index offline", nil)
}

func TestSearchVectorPathFailureStrict(t *testing.T) {
	ctx := context.Background()
	p := testProfile(false)
	driver, err := memory.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	st := store.New(failingVectorPath{driver}, p)
	svc := NewService(st, newTestCache(t), nil, testLogger())

	_, err = svc.Search(ctx, &Options{
		Kind:        store.EntityKindMessage,
		Query:       "contract",
		QueryVector: []float32{1, 0, 0},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreUnavailable))
}

func TestSearchVectorPathFailureDegrades(t *testing.T) {
	ctx := context.Background()
	p := testProfile(true)
	driver, err := memory.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	st := store.New(failingVectorPath{driver}, p)

	a, err := st.CreateMessage(ctx, &store.Message{
		AccountID: 1, OrganizationID: 1, ThreadID: 1,
		Subject: "contract renewal",
		Body:    "the renewal terms arrived today",
	})
	require.NoError(t, err)

	svc := NewService(st, newTestCache(t), nil, testLogger())
	results, err := svc.Search(ctx, &Options{
		Kind:        store.EntityKindMessage,
		Query:       "contract",
		QueryVector: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.ID, results[0].Entity.ID())
	assert.Equal(t, AbsentRank, results[0].VectorRank)
}
