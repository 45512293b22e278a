package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	// GetDB returns the underlying sql.DB, or nil for the in-memory driver.
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	DeleteMessage(ctx context.Context, id int32) error

	// Thread model related methods.
	CreateThread(ctx context.Context, create *Thread) (*Thread, error)
	ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error)
	DeleteThread(ctx context.Context, id int32) error

	// Claim model related methods.
	CreateClaim(ctx context.Context, create *Claim) (*Claim, error)
	ListClaims(ctx context.Context, find *FindClaim) ([]*Claim, error)
	DeleteClaim(ctx context.Context, id int32) error

	// GetEntity hydrates one entity of the given kind.
	GetEntity(ctx context.Context, kind EntityKind, id int32) (*Entity, error)

	// Embedding model related methods.
	UpsertEmbedding(ctx context.Context, upsert *UpsertEmbedding) (*EmbeddingRecord, error)
	ListEmbeddings(ctx context.Context, find *FindEmbedding) ([]*EmbeddingRecord, error)
	DeleteEmbedding(ctx context.Context, kind EntityKind, ownerID int32) error
	UpdateEmbeddingStatus(ctx context.Context, kind EntityKind, ownerID int32, status EmbeddingStatus, errorMessage string) error

	// UpsertThreadAggregateEmbedding stores a thread-level aggregate vector.
	UpsertThreadAggregateEmbedding(ctx context.Context, upsert *ThreadAggregateEmbedding) (*ThreadAggregateEmbedding, error)
	GetThreadAggregateEmbedding(ctx context.Context, threadID int32) (*ThreadAggregateEmbedding, error)

	// KNN returns the k completed embeddings of the kind nearest to the
	// query vector by cosine distance, ties broken by owner id ascending.
	KNN(ctx context.Context, opts *KNNOptions) ([]*RankedEmbedding, error)

	// SimilaritySearch is KNN with threshold filtering and owner hydration.
	SimilaritySearch(ctx context.Context, opts *SimilaritySearchOptions) ([]*RankedEntity, error)

	// LexicalSearch ranks entities of the kind by keyword relevance.
	LexicalSearch(ctx context.Context, opts *LexicalSearchOptions) ([]*LexicalMatch, error)
}
