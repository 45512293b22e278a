package store

import "github.com/pkg/errors"

// EmbeddingStatus is the processing status of an embedding record.
//
// Valid transitions: pending -> processing -> completed | failed, and
// failed -> pending for externally triggered retries. Only completed rows
// participate in search; everything else is treated as absent.
type EmbeddingStatus string

const (
	EmbeddingStatusPending    EmbeddingStatus = "pending"
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	EmbeddingStatusCompleted  EmbeddingStatus = "completed"
	EmbeddingStatusFailed     EmbeddingStatus = "failed"
)

// CanTransitionTo reports whether the status machine allows moving to next.
func (s EmbeddingStatus) CanTransitionTo(next EmbeddingStatus) bool {
	switch s {
	case EmbeddingStatusPending:
		return next == EmbeddingStatusProcessing
	case EmbeddingStatusProcessing:
		return next == EmbeddingStatusCompleted || next == EmbeddingStatusFailed
	case EmbeddingStatusFailed:
		return next == EmbeddingStatusPending
	case EmbeddingStatusCompleted:
		return false
	}
	return false
}

// EmbeddingRecord is the stored vector for one entity. One record exists per
// (OwnerKind, OwnerID); the ingestion pipeline owns it, the search engine
// only reads it, except for flagging failures.
type EmbeddingRecord struct {
	ID           int32
	OwnerKind    EntityKind
	OwnerID      int32
	Vector       []float32
	Model        string
	ModelVersion string
	InputHash    string
	Status       EmbeddingStatus
	ErrorMessage string
	CreatedTs    int64
	UpdatedTs    int64
}

// AggregationMethod describes how per-message vectors were folded into one
// thread-level vector.
type AggregationMethod string

const (
	AggregationMean     AggregationMethod = "mean"
	AggregationFirst    AggregationMethod = "first"
	AggregationWeighted AggregationMethod = "weighted"
	AggregationMaxPool  AggregationMethod = "max_pool"
	AggregationCLS      AggregationMethod = "cls"
)

// Validate returns an error for methods outside the closed set.
func (m AggregationMethod) Validate() error {
	switch m {
	case AggregationMean, AggregationFirst, AggregationWeighted, AggregationMaxPool, AggregationCLS:
		return nil
	default:
		return errors.Errorf("unknown aggregation method: %q", string(m))
	}
}

// ThreadAggregateEmbedding is a thread-level embedding with aggregation
// metadata. MessageCount must be at least 1.
type ThreadAggregateEmbedding struct {
	EmbeddingRecord
	AggregationMethod AggregationMethod
	MessageCount      int32
}

// UpsertEmbedding is the upsert request for an embedding record.
// Matching InputHash on the existing row makes the upsert a no-op, letting
// the producer skip re-embedding unchanged text.
type UpsertEmbedding struct {
	OwnerKind    EntityKind
	OwnerID      int32
	Vector       []float32
	Model        string
	ModelVersion string
	InputHash    string
}

// FindEmbedding is the find condition for embedding records.
type FindEmbedding struct {
	OwnerKind *EntityKind
	OwnerID   *int32
	Status    *EmbeddingStatus
	Model     *string
}

// KNNOptions are the options for k-nearest-neighbor retrieval.
type KNNOptions struct {
	Kind   EntityKind
	Vector []float32
	K      int
	Filter *ScopeFilter
}

// SimilaritySearchOptions are the options for similarity search with
// entity hydration. Rows with similarity <= Threshold are dropped; a nil
// Threshold gets the default, an explicit zero keeps every positive match.
type SimilaritySearchOptions struct {
	Kind      EntityKind
	Vector    []float32
	Limit     int
	Threshold *float64
	Filter    *ScopeFilter
}

// RankedEmbedding is a KNN result: the embedding record with its cosine
// distance to the query vector and its 1-based rank.
type RankedEmbedding struct {
	Record     *EmbeddingRecord
	Similarity float64
	Distance   float64
	Rank       int
}

// RankedEntity is a similarity-search result hydrated to the owner entity.
type RankedEntity struct {
	Entity     *Entity
	Similarity float64
	Distance   float64
	Rank       int
}
