package store

import (
	"context"
	"strings"

	"github.com/mailsense/mailsense/internal/errors"
	"github.com/mailsense/mailsense/internal/profile"
)

// DefaultSimilarityThreshold is applied when a similarity search does not
// specify one. Rows with similarity at or below the threshold are dropped.
const DefaultSimilarityThreshold = 0.5

// DefaultSearchLimit is applied when a search does not specify a limit.
const DefaultSearchLimit = 10

// Store provides database access to all raw objects. Argument validation
// happens here, before any driver I/O.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Profile returns the runtime profile the store was created with.
func (s *Store) Profile() *profile.Profile {
	return s.profile
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	if create.UID == "" {
		create.UID = NewUID()
	}
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) CreateThread(ctx context.Context, create *Thread) (*Thread, error) {
	if create.UID == "" {
		create.UID = NewUID()
	}
	return s.driver.CreateThread(ctx, create)
}

func (s *Store) ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error) {
	return s.driver.ListThreads(ctx, find)
}

func (s *Store) CreateClaim(ctx context.Context, create *Claim) (*Claim, error) {
	if create.UID == "" {
		create.UID = NewUID()
	}
	return s.driver.CreateClaim(ctx, create)
}

func (s *Store) ListClaims(ctx context.Context, find *FindClaim) ([]*Claim, error) {
	return s.driver.ListClaims(ctx, find)
}

func (s *Store) GetEntity(ctx context.Context, kind EntityKind, id int32) (*Entity, error) {
	if err := kind.Validate(); err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	return s.driver.GetEntity(ctx, kind, id)
}

// UpsertEmbedding inserts or updates an embedding record. A matching
// InputHash on the existing row is an idempotent no-op; otherwise the vector
// is replaced, status set to completed and any error message cleared.
func (s *Store) UpsertEmbedding(ctx context.Context, upsert *UpsertEmbedding) (*EmbeddingRecord, error) {
	if err := upsert.OwnerKind.Validate(); err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	if len(upsert.Vector) == 0 {
		return nil, errors.InvalidArgument("embedding vector is empty")
	}
	if s.profile != nil && s.profile.EmbeddingDim > 0 && len(upsert.Vector) != s.profile.EmbeddingDim {
		return nil, errors.InvalidArgumentf("embedding dimension %d does not match configured dimension %d",
			len(upsert.Vector), s.profile.EmbeddingDim)
	}
	return s.driver.UpsertEmbedding(ctx, upsert)
}

func (s *Store) ListEmbeddings(ctx context.Context, find *FindEmbedding) ([]*EmbeddingRecord, error) {
	return s.driver.ListEmbeddings(ctx, find)
}

// GetEmbedding gets the embedding of a specific entity.
func (s *Store) GetEmbedding(ctx context.Context, kind EntityKind, ownerID int32) (*EmbeddingRecord, error) {
	list, err := s.driver.ListEmbeddings(ctx, &FindEmbedding{
		OwnerKind: &kind,
		OwnerID:   &ownerID,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) DeleteEmbedding(ctx context.Context, kind EntityKind, ownerID int32) error {
	return s.driver.DeleteEmbedding(ctx, kind, ownerID)
}

// UpdateEmbeddingStatus moves the record through the status machine,
// rejecting transitions the machine does not allow.
func (s *Store) UpdateEmbeddingStatus(ctx context.Context, kind EntityKind, ownerID int32, status EmbeddingStatus, errorMessage string) error {
	current, err := s.GetEmbedding(ctx, kind, ownerID)
	if err != nil {
		return err
	}
	if current == nil {
		return errors.NotFound("embedding record not found")
	}
	if !current.Status.CanTransitionTo(status) {
		return errors.InvalidArgumentf("invalid status transition %s -> %s", current.Status, status)
	}
	return s.driver.UpdateEmbeddingStatus(ctx, kind, ownerID, status, errorMessage)
}

// MarkEmbeddingFailed flags a malformed stored vector. This is the only
// embedding write the search engine performs on its own.
func (s *Store) MarkEmbeddingFailed(ctx context.Context, kind EntityKind, ownerID int32, message string) error {
	return s.driver.UpdateEmbeddingStatus(ctx, kind, ownerID, EmbeddingStatusFailed, message)
}

// UpsertThreadAggregateEmbedding stores a thread-level aggregate vector.
func (s *Store) UpsertThreadAggregateEmbedding(ctx context.Context, upsert *ThreadAggregateEmbedding) (*ThreadAggregateEmbedding, error) {
	if err := upsert.AggregationMethod.Validate(); err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	if upsert.MessageCount < 1 {
		return nil, errors.InvalidArgumentf("message count must be >= 1, got %d", upsert.MessageCount)
	}
	if len(upsert.Vector) == 0 {
		return nil, errors.InvalidArgument("embedding vector is empty")
	}
	upsert.OwnerKind = EntityKindThread
	return s.driver.UpsertThreadAggregateEmbedding(ctx, upsert)
}

func (s *Store) GetThreadAggregateEmbedding(ctx context.Context, threadID int32) (*ThreadAggregateEmbedding, error) {
	return s.driver.GetThreadAggregateEmbedding(ctx, threadID)
}

// KNN returns the k nearest completed embeddings by cosine distance.
// Ties are broken by owner id ascending for determinism.
func (s *Store) KNN(ctx context.Context, opts *KNNOptions) ([]*RankedEmbedding, error) {
	if err := opts.Kind.Validate(); err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	if opts.K <= 0 {
		return nil, errors.InvalidArgumentf("k must be positive, got %d", opts.K)
	}
	if len(opts.Vector) == 0 {
		return nil, errors.InvalidArgument("query vector is empty")
	}
	return s.driver.KNN(ctx, opts)
}

// SimilaritySearch is KNN plus threshold filtering and owner hydration.
// A nil Threshold gets the default of 0.5.
func (s *Store) SimilaritySearch(ctx context.Context, opts *SimilaritySearchOptions) ([]*RankedEntity, error) {
	if err := opts.Kind.Validate(); err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	if opts.Limit <= 0 {
		return nil, errors.InvalidArgumentf("limit must be positive, got %d", opts.Limit)
	}
	if len(opts.Vector) == 0 {
		return nil, errors.InvalidArgument("query vector is empty")
	}
	threshold := DefaultSimilarityThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, errors.InvalidArgumentf("threshold %v outside [0,1]", threshold)
	}
	opts.Threshold = &threshold
	return s.driver.SimilaritySearch(ctx, opts)
}

// LexicalSearch ranks entities of a kind by keyword relevance.
// An empty or whitespace query returns an empty list, not an error.
func (s *Store) LexicalSearch(ctx context.Context, opts *LexicalSearchOptions) ([]*LexicalMatch, error) {
	if err := opts.Kind.Validate(); err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	if opts.Limit <= 0 {
		return nil, errors.InvalidArgumentf("limit must be positive, got %d", opts.Limit)
	}
	if strings.TrimSpace(opts.Query) == "" {
		return []*LexicalMatch{}, nil
	}
	return s.driver.LexicalSearch(ctx, opts)
}
