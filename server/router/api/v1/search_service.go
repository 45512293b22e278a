package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mailsense/mailsense/internal/errors"
	"github.com/mailsense/mailsense/plugin/search"
	"github.com/mailsense/mailsense/server/service/snippet"
	"github.com/mailsense/mailsense/store"
)

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Kind           string    `json:"kind"`
	Query          string    `json:"query"`
	Limit          int       `json:"limit,omitempty"`
	VectorWeight   *float64  `json:"vectorWeight,omitempty"`
	Threshold      *float64  `json:"threshold,omitempty"`
	QueryVector    []float32 `json:"queryVector,omitempty"`
	AccountIDs     []int32   `json:"accountIds,omitempty"`
	ThreadIDs      []int32   `json:"threadIds,omitempty"`
	OrganizationID *int32    `json:"organizationId,omitempty"`
}

// SearchResultItem is one fused hit in the response.
type SearchResultItem struct {
	Kind             string  `json:"kind"`
	ID               int32   `json:"id"`
	UID              string  `json:"uid"`
	Subject          string  `json:"subject,omitempty"`
	Snippet          string  `json:"snippet,omitempty"`
	Text             string  `json:"text,omitempty"`
	RRFScore         float64 `json:"rrfScore"`
	VectorRank       int     `json:"vectorRank"`
	KeywordRank      int     `json:"keywordRank"`
	VectorSimilarity float64 `json:"vectorSimilarity,omitempty"`
	KeywordScore     float64 `json:"keywordScore,omitempty"`

	// MatchSnippet is an excerpt of the entity text around the first query
	// match, with Highlights giving rune offsets into it.
	MatchSnippet string         `json:"matchSnippet,omitempty"`
	Highlights   []snippet.Span `json:"highlights,omitempty"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Results []*SearchResultItem `json:"results"`
}

func (s *APIV1Service) HandleSearch(c echo.Context) error {
	request := &SearchRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var filter *store.ScopeFilter
	if len(request.AccountIDs) > 0 || len(request.ThreadIDs) > 0 || request.OrganizationID != nil {
		filter = &store.ScopeFilter{
			AccountIDs:     request.AccountIDs,
			ThreadIDs:      request.ThreadIDs,
			OrganizationID: request.OrganizationID,
		}
	}

	results, err := s.SearchService.Search(c.Request().Context(), &search.Options{
		Kind:         store.EntityKind(request.Kind),
		Query:        request.Query,
		Limit:        request.Limit,
		VectorWeight: request.VectorWeight,
		Threshold:    request.Threshold,
		QueryVector:  request.QueryVector,
		Filter:       filter,
	})
	if err != nil {
		return httpError(err)
	}

	extractor := snippet.NewExtractor()
	tokens := extractor.Tokenize(request.Query)

	response := &SearchResponse{Results: make([]*SearchResultItem, 0, len(results))}
	for _, r := range results {
		item := toResultItem(r)
		text := r.Entity.SearchText()
		item.MatchSnippet, item.Highlights = extractor.Extract(text, extractor.FindMatches(text, tokens))
		response.Results = append(response.Results, item)
	}
	return c.JSON(http.StatusOK, response)
}

// WarmCacheRequest is the body of POST /api/v1/cache/warm.
type WarmCacheRequest struct {
	Query  string    `json:"query"`
	Vector []float32 `json:"vector"`
	Model  string    `json:"model,omitempty"`
}

func (s *APIV1Service) HandleWarmCache(c echo.Context) error {
	request := &WarmCacheRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.SearchService.WarmQueryCache(request.Query, request.Vector, request.Model); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ThreadEmbeddingResponse describes a thread's aggregate embedding.
type ThreadEmbeddingResponse struct {
	ThreadID          int32  `json:"threadId"`
	AggregationMethod string `json:"aggregationMethod"`
	MessageCount      int32  `json:"messageCount"`
	Model             string `json:"model"`
	Status            string `json:"status"`
	Dimension         int    `json:"dimension"`
}

func (s *APIV1Service) HandleGetThreadEmbedding(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed thread id")
	}

	aggregate, err := s.Store.GetThreadAggregateEmbedding(c.Request().Context(), int32(id))
	if err != nil {
		return httpError(err)
	}
	if aggregate == nil {
		return echo.NewHTTPError(http.StatusNotFound, "thread aggregate embedding not found")
	}
	return c.JSON(http.StatusOK, &ThreadEmbeddingResponse{
		ThreadID:          aggregate.OwnerID,
		AggregationMethod: string(aggregate.AggregationMethod),
		MessageCount:      aggregate.MessageCount,
		Model:             aggregate.Model,
		Status:            string(aggregate.Status),
		Dimension:         len(aggregate.Vector),
	})
}

func toResultItem(r *search.Result) *SearchResultItem {
	item := &SearchResultItem{
		Kind:             string(r.Entity.Kind),
		ID:               r.Entity.ID(),
		UID:              r.Entity.UID(),
		RRFScore:         r.RRFScore,
		VectorRank:       r.VectorRank,
		KeywordRank:      r.KeywordRank,
		VectorSimilarity: r.VectorSimilarity,
		KeywordScore:     r.KeywordScore,
	}
	switch r.Entity.Kind {
	case store.EntityKindMessage:
		item.Subject = r.Entity.Message.Subject
		item.Snippet = r.Entity.Message.Snippet
	case store.EntityKindThread:
		item.Subject = r.Entity.Thread.Subject
		item.Snippet = r.Entity.Thread.Snippet
	case store.EntityKindClaim:
		item.Text = r.Entity.Claim.Text
	}
	return item
}

// httpError maps retrieval error codes onto HTTP statuses.
func httpError(err error) error {
	switch errors.GetCodeFromError(err, errors.ErrCodeStoreUnavailable) {
	case errors.ErrCodeInvalidArgument, errors.ErrCodeDimensionMismatch:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.ErrCodeEmbeddingRequired:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.ErrCodeNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.ErrCodeTimeout:
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.ErrCodeContextCanceled:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
}
