package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/internal/vectormath"
	"github.com/mailsense/mailsense/store"
)

const embeddingColumns = "id, owner_id, embedding, model, model_version, input_hash, status, error_message, created_ts, updated_ts"

func scanEmbedding(kind store.EntityKind, r rowScanner) (*store.EmbeddingRecord, error) {
	record := &store.EmbeddingRecord{OwnerKind: kind}
	var raw string
	if err := r.Scan(&record.ID, &record.OwnerID, &raw, &record.Model, &record.ModelVersion,
		&record.InputHash, &record.Status, &record.ErrorMessage, &record.CreatedTs, &record.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to scan embedding")
	}
	vector, err := decodeVector(raw)
	if err != nil {
		return nil, err
	}
	record.Vector = vector
	return record, nil
}

func (d *DB) UpsertEmbedding(ctx context.Context, upsert *store.UpsertEmbedding) (*store.EmbeddingRecord, error) {
	table := embeddingTable(upsert.OwnerKind)
	raw, err := encodeVector(upsert.Vector)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	stmt := `
		INSERT INTO ` + table + ` (owner_id, embedding, model, model_version, input_hash, status, error_message, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, 'completed', '', ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			embedding = excluded.embedding,
			model = excluded.model,
			model_version = excluded.model_version,
			input_hash = excluded.input_hash,
			status = 'completed',
			error_message = '',
			updated_ts = excluded.updated_ts
		WHERE ` + table + `.input_hash <> excluded.input_hash
		RETURNING ` + embeddingColumns + `
	`
	row := d.db.QueryRowContext(ctx, stmt,
		upsert.OwnerID, raw, upsert.Model, upsert.ModelVersion, upsert.InputHash, now, now)
	record, err := scanEmbedding(upsert.OwnerKind, row)
	if err == nil {
		return record, nil
	}
	if !errors.Is(errors.Cause(err), sql.ErrNoRows) {
		return nil, err
	}
	// Unchanged input hash, the upsert skipped; return the stored row.
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
		`SELECT `+embeddingColumns+` FROM `+embeddingTable(kind)+` WHERE owner_id = ?`, ownerID)
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
			where, args = append(where, "owner_id = ?"), append(args, *find.OwnerID)
		}
		if find.Status != nil {
			where, args = append(where, "status = ?"), append(args, string(*find.Status))
		}
		if find.Model != nil {
			where, args = append(where, "model = ?"), append(args, *find.Model)
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
		`DELETE FROM `+embeddingTable(kind)+` WHERE owner_id = ?`, ownerID); err != nil {
		return errors.Wrap(err, "failed to delete embedding")
	}
	return nil
}

func (d *DB) UpdateEmbeddingStatus(ctx context.Context, kind store.EntityKind, ownerID int32, status store.EmbeddingStatus, errorMessage string) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE `+embeddingTable(kind)+` SET status = ?, error_message = ?, updated_ts = ? WHERE owner_id = ?`,
		string(status), errorMessage, time.Now().Unix(), ownerID)
	if err != nil {
		return errors.Wrap(err, "failed to update embedding status")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("no embedding record for %s %d", string(kind), ownerID)
	}
	return nil
}

func (d *DB) UpsertThreadAggregateEmbedding(ctx context.Context, upsert *store.ThreadAggregateEmbedding) (*store.ThreadAggregateEmbedding, error) {
	raw, err := encodeVector(upsert.Vector)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	stmt := `
		INSERT INTO thread_embedding (owner_id, embedding, model, model_version, input_hash, status, error_message, aggregation_method, message_count, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, 'completed', '', ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			embedding = excluded.embedding,
			model = excluded.model,
			model_version = excluded.model_version,
			input_hash = excluded.input_hash,
			status = 'completed',
			error_message = '',
			aggregation_method = excluded.aggregation_method,
			message_count = excluded.message_count,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.OwnerID, raw, upsert.Model, upsert.ModelVersion, upsert.InputHash,
		string(upsert.AggregationMethod), upsert.MessageCount, now, now,
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
	var raw string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, owner_id, embedding, model, model_version, input_hash, status, error_message, aggregation_method, message_count, created_ts, updated_ts
		FROM thread_embedding
		WHERE owner_id = ? AND aggregation_method <> ''
	`, threadID).Scan(
		&aggregate.ID, &aggregate.OwnerID, &raw, &aggregate.Model, &aggregate.ModelVersion,
		&aggregate.InputHash, &aggregate.Status, &aggregate.ErrorMessage,
		&aggregate.AggregationMethod, &aggregate.MessageCount, &aggregate.CreatedTs, &aggregate.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get thread aggregate embedding")
	}
	vector, err := decodeVector(raw)
	if err != nil {
		return nil, err
	}
	aggregate.Vector = vector
	return aggregate, nil
}

// knnScan scores every completed embedding of the kind against the query
// vector in process. Rows whose stored vector cannot be compared (wrong
// dimension, corrupt JSON) are flagged failed and dropped from the result,
// keeping the searchable set clean without aborting the query.
func (d *DB) knnScan(ctx context.Context, kind store.EntityKind, vector []float32, filter *store.ScopeFilter) ([]*store.RankedEmbedding, error) {
	where := []string{"e.status = 'completed'"}
	args := []any{}
	where, args = appendScopeFilter(kind, filter, "o", where, args)

	query := `
		SELECT ` + embeddingColumnsAliased("e") + `
		FROM ` + embeddingTable(kind) + ` e
		JOIN ` + entityTable(kind) + ` o ON o.id = e.owner_id
		WHERE ` + strings.Join(where, " AND ")
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run knn scan")
	}

	scored := []*store.RankedEmbedding{}
	failed := []*store.EmbeddingRecord{}
	for rows.Next() {
		record := &store.EmbeddingRecord{OwnerKind: kind}
		var raw string
		if err := rows.Scan(&record.ID, &record.OwnerID, &raw, &record.Model, &record.ModelVersion,
			&record.InputHash, &record.Status, &record.ErrorMessage, &record.CreatedTs, &record.UpdatedTs); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan knn row")
		}
		stored, err := decodeVector(raw)
		if err != nil {
			record.ErrorMessage = "stored vector is not valid JSON"
			failed = append(failed, record)
			continue
		}
		record.Vector = stored
		similarity, err := vectormath.CosineSimilarity(vector, stored)
		if err != nil {
			record.ErrorMessage = err.Error()
			failed = append(failed, record)
			continue
		}
		scored = append(scored, &store.RankedEmbedding{
			Record:     record,
			Similarity: similarity,
			Distance:   1 - similarity,
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, record := range failed {
		if err := d.UpdateEmbeddingStatus(ctx, kind, record.OwnerID, store.EmbeddingStatusFailed, record.ErrorMessage); err != nil {
			return nil, err
		}
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

	list := []*store.RankedEntity{}
	for _, r := range scored {
		if r.Similarity <= *opts.Threshold {
			continue
		}
		entity, err := d.GetEntity(ctx, opts.Kind, r.Record.OwnerID)
		if err != nil {
			return nil, err
		}
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

func embeddingColumnsAliased(alias string) string {
	parts := strings.Split(embeddingColumns, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}
