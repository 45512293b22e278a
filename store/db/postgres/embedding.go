package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/store"
)

const embeddingColumns = "id, owner_id, embedding, model, model_version, input_hash, status, error_message, created_ts, updated_ts"

func scanEmbedding(kind store.EntityKind, r rowScanner) (*store.EmbeddingRecord, error) {
	record := &store.EmbeddingRecord{OwnerKind: kind}
	var vec pgvector.Vector
	if err := r.Scan(&record.ID, &record.OwnerID, &vec, &record.Model, &record.ModelVersion,
		&record.InputHash, &record.Status, &record.ErrorMessage, &record.CreatedTs, &record.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to scan embedding")
	}
	record.Vector = vec.Slice()
	return record, nil
}

// UpsertEmbedding inserts or replaces the embedding for an owner entity.
// When the stored input_hash already matches, the conflict update's WHERE
// clause turns the statement into a no-op and the existing row is returned
// unchanged, so producers can re-send unchanged text for free.
func (d *DB) UpsertEmbedding(ctx context.Context, upsert *store.UpsertEmbedding) (*store.EmbeddingRecord, error) {
	table := embeddingTable(upsert.OwnerKind)
	now := time.Now().Unix()
	stmt := `
		INSERT INTO ` + table + ` (owner_id, embedding, model, model_version, input_hash, status, error_message, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4, $5, 'completed', '', $6, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			model_version = EXCLUDED.model_version,
			input_hash = EXCLUDED.input_hash,
			status = 'completed',
			error_message = '',
			updated_ts = EXCLUDED.updated_ts
		WHERE ` + table + `.input_hash IS DISTINCT FROM EXCLUDED.input_hash
		RETURNING ` + embeddingColumns + `
	`
	row := d.db.QueryRowContext(ctx, stmt,
		upsert.OwnerID, pgvector.NewVector(upsert.Vector),
		upsert.Model, upsert.ModelVersion, upsert.InputHash, now,
	)
	record, err := scanEmbedding(upsert.OwnerKind, row)
	if err == nil {
		return record, nil
	}
	if !errors.Is(errors.Cause(err), sql.ErrNoRows) {
		return nil, err
	}
	// The hash matched and the upsert skipped; read back the existing row.
	existing, err := d.getEmbedding(ctx, upsert.OwnerKind, upsert.OwnerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.Errorf("embedding upsert for %s %d returned no row", string(upsert.OwnerKind), upsert.OwnerID)
	}
	return existing, nil
}

func (d *DB) getEmbedding(ctx context.Context, kind store.EntityKind, ownerID int32) (*store.EmbeddingRecord, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+embeddingColumns+` FROM `+embeddingTable(kind)+` WHERE owner_id = $1`, ownerID)
	record, err := scanEmbedding(kind, row)
	if err != nil {
		if errors.Is(errors.Cause(err), sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (d *DB) ListEmbeddings(ctx context.Context, find *store.FindEmbedding) ([]*store.EmbeddingRecord, error) {
	kinds := store.EntityKinds()
	if find.OwnerKind != nil {
		kinds = []store.EntityKind{*find.OwnerKind}
	}

	list := []*store.EmbeddingRecord{}
	for _, kind := range kinds {
		where, args := []string{"1 = 1"}, []any{}
		if find.OwnerID != nil {
			where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
		}
		if find.Status != nil {
			where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*find.Status))
		}
		if find.Model != nil {
			where, args = append(where, "model = "+placeholder(len(args)+1)), append(args, *find.Model)
		}

		query := `SELECT ` + embeddingColumns + ` FROM ` + embeddingTable(kind) +
			` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY owner_id ASC`
		rows, err := d.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list %s embeddings", string(kind))
		}
		for rows.Next() {
			record, err := scanEmbedding(kind, rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			list = append(list, record)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return list, nil
}

func (d *DB) DeleteEmbedding(ctx context.Context, kind store.EntityKind, ownerID int32) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM `+embeddingTable(kind)+` WHERE owner_id = $1`, ownerID); err != nil {
		return errors.Wrap(err, "failed to delete embedding")
	}
	return nil
}

func (d *DB) UpdateEmbeddingStatus(ctx context.Context, kind store.EntityKind, ownerID int32, status store.EmbeddingStatus, errorMessage string) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE `+embeddingTable(kind)+` SET status = $1, error_message = $2, updated_ts = $3 WHERE owner_id = $4`,
		string(status), errorMessage, time.Now().Unix(), ownerID)
	if err != nil {
		return errors.Wrap(err, "failed to update embedding status")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("no embedding record for %s %d", string(kind), ownerID)
	}
	return nil
}

// UpsertThreadAggregateEmbedding stores the thread-level vector together
// with its aggregation metadata. The thread embedding table carries the
// extra columns; the row stays visible through the plain embedding reads.
func (d *DB) UpsertThreadAggregateEmbedding(ctx context.Context, upsert *store.ThreadAggregateEmbedding) (*store.ThreadAggregateEmbedding, error) {
	now := time.Now().Unix()
	stmt := `
		INSERT INTO thread_embedding (owner_id, embedding, model, model_version, input_hash, status, error_message, aggregation_method, message_count, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4, $5, 'completed', '', $6, $7, $8, $8)
		ON CONFLICT (owner_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			model_version = EXCLUDED.model_version,
			input_hash = EXCLUDED.input_hash,
			status = 'completed',
			error_message = '',
			aggregation_method = EXCLUDED.aggregation_method,
			message_count = EXCLUDED.message_count,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.OwnerID, pgvector.NewVector(upsert.Vector),
		upsert.Model, upsert.ModelVersion, upsert.InputHash,
		string(upsert.AggregationMethod), upsert.MessageCount, now,
	).Scan(&upsert.ID, &upsert.CreatedTs, &upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert thread aggregate embedding")
	}
	upsert.Status = store.EmbeddingStatusCompleted
	upsert.ErrorMessage = ""
	return upsert, nil
}

func (d *DB) GetThreadAggregateEmbedding(ctx context.Context, threadID int32) (*store.ThreadAggregateEmbedding, error) {
	aggregate := &store.ThreadAggregateEmbedding{}
	aggregate.OwnerKind = store.EntityKindThread
	var vec pgvector.Vector
	err := d.db.QueryRowContext(ctx, `
		SELECT id, owner_id, embedding, model, model_version, input_hash, status, error_message, aggregation_method, message_count, created_ts, updated_ts
		FROM thread_embedding
		WHERE owner_id = $1 AND aggregation_method <> ''
	`, threadID).Scan(
		&aggregate.ID, &aggregate.OwnerID, &vec, &aggregate.Model, &aggregate.ModelVersion,
		&aggregate.InputHash, &aggregate.Status, &aggregate.ErrorMessage,
		&aggregate.AggregationMethod, &aggregate.MessageCount, &aggregate.CreatedTs, &aggregate.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get thread aggregate embedding")
	}
	aggregate.Vector = vec.Slice()
	return aggregate, nil
}

// KNN is the vector retrieval path: cosine distance over completed rows,
// nearest first, owner id ascending on exact ties. The `<=>` operator uses
// the HNSW index when one exists and degrades to a sequential scan when it
// does not.
func (d *DB) KNN(ctx context.Context, opts *store.KNNOptions) ([]*store.RankedEmbedding, error) {
	where := []string{"e.status = 'completed'"}
	args := []any{pgvector.NewVector(opts.Vector)}
	where, args = appendScopeFilter(opts.Kind, opts.Filter, "o", where, args)

	query := `
		SELECT ` + embeddingColumnsAliased("e") + `, 1 - (e.embedding <=> $1) AS score
		FROM ` + embeddingTable(opts.Kind) + ` e
		JOIN ` + entityTable(opts.Kind) + ` o ON o.id = e.owner_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.embedding <=> $1, e.owner_id ASC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, opts.K)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run knn query")
	}
	defer rows.Close()

	list := []*store.RankedEmbedding{}
	for rows.Next() {
		record := &store.EmbeddingRecord{OwnerKind: opts.Kind}
		var vec pgvector.Vector
		var similarity float64
		if err := rows.Scan(&record.ID, &record.OwnerID, &vec, &record.Model, &record.ModelVersion,
			&record.InputHash, &record.Status, &record.ErrorMessage, &record.CreatedTs, &record.UpdatedTs,
			&similarity); err != nil {
			return nil, errors.Wrap(err, "failed to scan knn row")
		}
		record.Vector = vec.Slice()
		list = append(list, &store.RankedEmbedding{
			Record:     record,
			Similarity: similarity,
			Distance:   1 - similarity,
			Rank:       len(list) + 1,
		})
	}
	return list, rows.Err()
}

// SimilaritySearch is KNN with a similarity floor and the owner entity
// hydrated in the same query.
func (d *DB) SimilaritySearch(ctx context.Context, opts *store.SimilaritySearchOptions) ([]*store.RankedEntity, error) {
	where := []string{"e.status = 'completed'", "1 - (e.embedding <=> $1) > $2"}
	args := []any{pgvector.NewVector(opts.Vector), *opts.Threshold}
	where, args = appendScopeFilter(opts.Kind, opts.Filter, "o", where, args)

	query := `
		SELECT ` + entityColumns(opts.Kind, "o") + `, 1 - (e.embedding <=> $1) AS score
		FROM ` + embeddingTable(opts.Kind) + ` e
		JOIN ` + entityTable(opts.Kind) + ` o ON o.id = e.owner_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.embedding <=> $1, e.owner_id ASC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run similarity search query")
	}
	defer rows.Close()

	list := []*store.RankedEntity{}
	for rows.Next() {
		entity, dests := entityDests(opts.Kind)
		var similarity float64
		if err := rows.Scan(append(dests, &similarity)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan similarity search row")
		}
		list = append(list, &store.RankedEntity{
			Entity:     entity,
			Similarity: similarity,
			Distance:   1 - similarity,
			Rank:       len(list) + 1,
		})
	}
	return list, rows.Err()
}

func embeddingColumnsAliased(alias string) string {
	parts := strings.Split(embeddingColumns, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}
