package memory

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/internal/vectormath"
	"github.com/mailsense/mailsense/store"
)

func (d *DB) UpsertEmbedding(ctx context.Context, upsert *store.UpsertEmbedding) (*store.EmbeddingRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := d.embeddings[upsert.OwnerKind][upsert.OwnerID]; ok {
		if existing.InputHash == upsert.InputHash {
			copied := *existing
			return &copied, nil
		}
		existing.Vector = append([]float32(nil), upsert.Vector...)
		existing.Model = upsert.Model
		existing.ModelVersion = upsert.ModelVersion
		existing.InputHash = upsert.InputHash
		existing.Status = store.EmbeddingStatusCompleted
		existing.ErrorMessage = ""
		existing.UpdatedTs = now
		copied := *existing
		return &copied, nil
	}

	record := &store.EmbeddingRecord{
		ID:           d.allocID(),
		OwnerKind:    upsert.OwnerKind,
		OwnerID:      upsert.OwnerID,
		Vector:       append([]float32(nil), upsert.Vector...),
		Model:        upsert.Model,
		ModelVersion: upsert.ModelVersion,
		InputHash:    upsert.InputHash,
		Status:       store.EmbeddingStatusCompleted,
		CreatedTs:    now,
		UpdatedTs:    now,
	}
	d.embeddings[upsert.OwnerKind][upsert.OwnerID] = record
	copied := *record
	return &copied, nil
}

func (d *DB) ListEmbeddings(ctx context.Context, find *store.FindEmbedding) ([]*store.EmbeddingRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	kinds := store.EntityKinds()
	if find.OwnerKind != nil {
		kinds = []store.EntityKind{*find.OwnerKind}
	}

	list := []*store.EmbeddingRecord{}
	for _, kind := range kinds {
		for _, record := range d.embeddings[kind] {
			if find.OwnerID != nil && record.OwnerID != *find.OwnerID {
				continue
			}
			if find.Status != nil && record.Status != *find.Status {
				continue
			}
			if find.Model != nil && record.Model != *find.Model {
				continue
			}
			copied := *record
			list = append(list, &copied)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].OwnerKind != list[j].OwnerKind {
			return list[i].OwnerKind < list[j].OwnerKind
		}
		return list[i].OwnerID < list[j].OwnerID
	})
	return list, nil
}

func (d *DB) DeleteEmbedding(ctx context.Context, kind store.EntityKind, ownerID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.embeddings[kind], ownerID)
	if kind == store.EntityKindThread {
		delete(d.aggregates, ownerID)
	}
	return nil
}

func (d *DB) UpdateEmbeddingStatus(ctx context.Context, kind store.EntityKind, ownerID int32, status store.EmbeddingStatus, errorMessage string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	record, ok := d.embeddings[kind][ownerID]
	if !ok {
		return errors.Errorf("no embedding record for %s %d", string(kind), ownerID)
	}
	record.Status = status
	record.ErrorMessage = errorMessage
	record.UpdatedTs = time.Now().Unix()
	return nil
}

func (d *DB) UpsertThreadAggregateEmbedding(ctx context.Context, upsert *store.ThreadAggregateEmbedding) (*store.ThreadAggregateEmbedding, error) {
	record, err := d.UpsertEmbedding(ctx, &store.UpsertEmbedding{
		OwnerKind:    store.EntityKindThread,
		OwnerID:      upsert.OwnerID,
		Vector:       upsert.Vector,
		Model:        upsert.Model,
		ModelVersion: upsert.ModelVersion,
		InputHash:    upsert.InputHash,
	})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	aggregate := &store.ThreadAggregateEmbedding{
		EmbeddingRecord:   *record,
		AggregationMethod: upsert.AggregationMethod,
		MessageCount:      upsert.MessageCount,
	}
	d.aggregates[upsert.OwnerID] = aggregate
	copied := *aggregate
	return &copied, nil
}

func (d *DB) GetThreadAggregateEmbedding(ctx context.Context, threadID int32) (*store.ThreadAggregateEmbedding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	aggregate, ok := d.aggregates[threadID]
	if !ok {
		return nil, nil
	}
	copied := *aggregate
	if record, ok := d.embeddings[store.EntityKindThread][threadID]; ok {
		copied.EmbeddingRecord = *record
	}
	return &copied, nil
}

// knnScan scores every completed embedding of the kind against the query
// vector. Rows that cannot be compared are flagged failed and skipped.
func (d *DB) knnScan(ctx context.Context, kind store.EntityKind, vector []float32, filter *store.ScopeFilter) ([]*store.RankedEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	scored := []*store.RankedEmbedding{}
	for _, record := range d.embeddings[kind] {
		if record.Status != store.EmbeddingStatusCompleted {
			continue
		}
		entity := d.getEntityLocked(kind, record.OwnerID)
		if entity == nil || !filter.Matches(entity) {
			continue
		}
		similarity, err := vectormath.CosineSimilarity(vector, record.Vector)
		if err != nil {
			record.Status = store.EmbeddingStatusFailed
			record.ErrorMessage = err.Error()
			record.UpdatedTs = time.Now().Unix()
			continue
		}
		copied := *record
		scored = append(scored, &store.RankedEmbedding{
			Record:     &copied,
			Similarity: similarity,
			Distance:   1 - similarity,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Record.OwnerID < scored[j].Record.OwnerID
	})
	for i, r := range scored {
		r.Rank = i + 1
	}
	return scored, nil
}

func (d *DB) KNN(ctx context.Context, opts *store.KNNOptions) ([]*store.RankedEmbedding, error) {
	scored, err := d.knnScan(ctx, opts.Kind, opts.Vector, opts.Filter)
	if err != nil {
		return nil, err
	}
	if len(scored) > opts.K {
		scored = scored[:opts.K]
	}
	return scored, nil
}

func (d *DB) SimilaritySearch(ctx context.Context, opts *store.SimilaritySearchOptions) ([]*store.RankedEntity, error) {
	scored, err := d.knnScan(ctx, opts.Kind, opts.Vector, opts.Filter)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	list := []*store.RankedEntity{}
	for _, r := range scored {
		if r.Similarity <= *opts.Threshold {
			continue
		}
		entity := d.getEntityLocked(opts.Kind, r.Record.OwnerID)
		if entity == nil {
			continue
		}
		list = append(list, &store.RankedEntity{
			Entity:     entity,
			Similarity: r.Similarity,
			Distance:   r.Distance,
			Rank:       len(list) + 1,
		})
		if len(list) >= opts.Limit {
			break
		}
	}
	return list, nil
}
