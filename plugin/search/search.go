// Package search implements hybrid retrieval: a vector path and a keyword
// path run concurrently and their ranked results merge through weighted
// Reciprocal Rank Fusion.
package search

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mailsense/mailsense/internal/errors"
	"github.com/mailsense/mailsense/internal/observability"
	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/plugin/ai"
	"github.com/mailsense/mailsense/plugin/search/querycache"
	"github.com/mailsense/mailsense/store"
)

// minCandidates is the floor for per-path candidate depth. Fetching deeper
// than the final limit gives the fuser enough overlap to work with.
const minCandidates = 20

// Service runs hybrid searches over one store.
type Service struct {
	store    *store.Store
	cache    *querycache.Cache
	embedder ai.EmbeddingService // nil when no embedding backend is configured
	profile  *profile.Profile
	logger   *slog.Logger
}

// NewService creates a hybrid search service. The embedder may be nil; in
// that case every query must arrive with a vector or a warm cache entry.
func NewService(st *store.Store, cache *querycache.Cache, embedder ai.EmbeddingService, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		cache:    cache,
		embedder: embedder,
		profile:  st.Profile(),
		logger:   logger,
	}
}

// Options are the parameters of one hybrid search.
type Options struct {
	Kind  store.EntityKind
	Query string
	Limit int

	// VectorWeight overrides the configured weight. 0 disables the vector
	// path, 1 disables the keyword path.
	VectorWeight *float64

	// Threshold overrides the configured similarity cutoff for the vector
	// path. Rows at or below it never enter fusion.
	Threshold *float64

	// QueryVector skips embedding resolution when the caller already has
	// the query's vector.
	QueryVector []float32

	Filter *store.ScopeFilter
}

// Result is one fused search hit.
type Result struct {
	Entity           *store.Entity
	RRFScore         float64
	VectorRank       int
	KeywordRank      int
	VectorSimilarity float64
	KeywordScore     float64
}

// Search runs the two retrieval paths and fuses their rankings.
//
// With DegradeOnPathFailure set in the profile, a single failing path is
// logged and treated as empty instead of failing the request; both paths
// failing is still an error.
func (s *Service) Search(ctx context.Context, opts *Options) ([]*Result, error) {
	if err := opts.Kind.Validate(); err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	if strings.TrimSpace(opts.Query) == "" {
		return nil, errors.InvalidArgument("query text is empty")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.profile.SearchLimit
	}
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}

	vectorWeight := s.profile.VectorWeight
	if opts.VectorWeight != nil {
		vectorWeight = *opts.VectorWeight
	}
	if vectorWeight < 0 || vectorWeight > 1 {
		return nil, errors.InvalidArgumentf("vector weight %v outside [0,1]", vectorWeight)
	}

	threshold := s.profile.SimilarityThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, errors.InvalidArgumentf("threshold %v outside [0,1]", threshold)
	}

	reqCtx := observability.NewRequestContext(s.logger, string(opts.Kind))

	var queryVector []float32
	if vectorWeight > 0 {
		var err error
		queryVector, err = s.resolveQueryVector(ctx, opts.Query, opts.QueryVector)
		if err != nil {
			return nil, err
		}
	}

	candidateK := limit * 2
	if candidateK < minCandidates {
		candidateK = minCandidates
	}

	var (
		vectorHits      []*store.RankedEntity
		keywordHits     []*store.LexicalMatch
		vectorPathError error
		keywordPathErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	if vectorWeight > 0 {
		g.Go(func() error {
			hits, err := s.store.SimilaritySearch(gctx, &store.SimilaritySearchOptions{
				Kind:      opts.Kind,
				Vector:    queryVector,
				Limit:     candidateK,
				Threshold: &threshold,
				Filter:    opts.Filter,
			})
			if err != nil {
				if s.profile.DegradeOnPathFailure {
					reqCtx.Warn("vector path failed, degrading to keyword only",
						slog.String("error", err.Error()))
					vectorPathError = err
					return nil
				}
				return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "vector retrieval failed")
			}
			vectorHits = hits
			return nil
		})
	}
	if vectorWeight < 1 {
		g.Go(func() error {
			hits, err := s.store.LexicalSearch(gctx, &store.LexicalSearchOptions{
				Kind:   opts.Kind,
				Query:  opts.Query,
				Limit:  candidateK,
				Filter: opts.Filter,
			})
			if err != nil {
				if s.profile.DegradeOnPathFailure {
					reqCtx.Warn("keyword path failed, degrading to vector only",
						slog.String("error", err.Error()))
					keywordPathErr = err
					return nil
				}
				return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "keyword retrieval failed")
			}
			keywordHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.ContextCanceled(ctx.Err())
		}
		return nil, err
	}
	if vectorPathError != nil && keywordPathErr != nil {
		return nil, errors.StoreUnavailable("both retrieval paths failed", vectorPathError)
	}

	vectorCandidates := make([]Candidate, 0, len(vectorHits))
	entities := map[int32]*store.Entity{}
	for _, hit := range vectorHits {
		vectorCandidates = append(vectorCandidates, Candidate{
			ID:    hit.Entity.ID(),
			Rank:  hit.Rank,
			Score: hit.Similarity,
		})
		entities[hit.Entity.ID()] = hit.Entity
	}
	keywordCandidates := make([]Candidate, 0, len(keywordHits))
	for _, hit := range keywordHits {
		keywordCandidates = append(keywordCandidates, Candidate{
			ID:    hit.Entity.ID(),
			Rank:  hit.Rank,
			Score: hit.Score,
		})
		entities[hit.Entity.ID()] = hit.Entity
	}

	fused, err := FuseRRF(vectorCandidates, keywordCandidates, vectorWeight, RRFDampingFactor)
	if err != nil {
		return nil, err
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]*Result, 0, len(fused))
	for _, candidate := range fused {
		entity, ok := entities[candidate.ID]
		if !ok {
			entity, err = s.store.GetEntity(ctx, opts.Kind, candidate.ID)
			if err != nil {
				return nil, err
			}
			if entity == nil {
				// Owner row deleted between retrieval and hydration.
				continue
			}
		}
		results = append(results, &Result{
			Entity:           entity,
			RRFScore:         candidate.RRFScore,
			VectorRank:       candidate.VectorRank,
			KeywordRank:      candidate.KeywordRank,
			VectorSimilarity: candidate.VectorSimilarity,
			KeywordScore:     candidate.KeywordScore,
		})
	}

	reqCtx.Info("hybrid search completed",
		slog.Int(observability.LogFieldQueryLen, len(opts.Query)),
		slog.Int(observability.LogFieldResultCount, len(results)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()),
	)
	return results, nil
}

// resolveQueryVector returns the embedding for the query text: the caller's
// vector when supplied, otherwise a cache hit, otherwise a fresh embedding
// when a backend is configured. Without any of those the search cannot run
// and the caller must embed the query first.
func (s *Service) resolveQueryVector(ctx context.Context, query string, supplied []float32) ([]float32, error) {
	if len(supplied) > 0 {
		if s.profile.EmbeddingDim > 0 && len(supplied) != s.profile.EmbeddingDim {
			return nil, errors.InvalidArgumentf("query vector dimension %d does not match configured dimension %d",
				len(supplied), s.profile.EmbeddingDim)
		}
		return supplied, nil
	}

	if s.cache != nil {
		if entry, ok := s.cache.Get(query); ok {
			return entry.Vector, nil
		}
	}

	if s.embedder == nil {
		return nil, errors.EmbeddingRequired(query)
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "failed to embed query")
	}
	if s.cache != nil {
		s.cache.Put(query, vector, s.embedder.Model())
	}
	return vector, nil
}

// WarmQueryCache seeds the query-embedding cache, typically from an offline
// list of frequent queries.
func (s *Service) WarmQueryCache(query string, vector []float32, model string) error {
	if strings.TrimSpace(query) == "" {
		return errors.InvalidArgument("query text is empty")
	}
	if s.profile.EmbeddingDim > 0 && len(vector) != s.profile.EmbeddingDim {
		return errors.InvalidArgumentf("query vector dimension %d does not match configured dimension %d",
			len(vector), s.profile.EmbeddingDim)
	}
	if s.cache == nil {
		return errors.InvalidArgument("query cache is not configured")
	}
	s.cache.Put(query, vector, model)
	return nil
}
