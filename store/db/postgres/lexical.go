package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/store"
)

// searchVector is the per-kind textual projection for full-text ranking:
// subject, snippet and body for messages; subject and snippet for threads;
// the extracted text for claims.
func searchVector(kind store.EntityKind, alias string) string {
	switch kind {
	case store.EntityKindMessage:
		return "to_tsvector('english', " + alias + ".subject || ' ' || " + alias + ".snippet || ' ' || " + alias + ".body)"
	case store.EntityKindThread:
		return "to_tsvector('english', " + alias + ".subject || ' ' || " + alias + ".snippet)"
	case store.EntityKindClaim:
		return "to_tsvector('english', " + alias + ".text)"
	}
	return ""
}

// LexicalSearch is the keyword retrieval path: ts_rank over the kind's
// textual projection, best match first, id ascending on equal scores.
func (d *DB) LexicalSearch(ctx context.Context, opts *store.LexicalSearchOptions) ([]*store.LexicalMatch, error) {
	tsv := searchVector(opts.Kind, "o")
	where := []string{tsv + " @@ plainto_tsquery('english', $1)"}
	args := []any{opts.Query}
	where, args = appendScopeFilter(opts.Kind, opts.Filter, "o", where, args)

	query := `
		SELECT ` + entityColumns(opts.Kind, "o") + `, ts_rank(` + tsv + `, plainto_tsquery('english', $1)) AS score
		FROM ` + entityTable(opts.Kind) + ` o
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, o.id ASC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run lexical search query")
	}
	defer rows.Close()

	list := []*store.LexicalMatch{}
	for rows.Next() {
		entity, dests := entityDests(opts.Kind)
		var score float64
		if err := rows.Scan(append(dests, &score)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan lexical search row")
		}
		list = append(list, &store.LexicalMatch{
			Entity: entity,
			Score:  score,
			Rank:   len(list) + 1,
		})
	}
	return list, rows.Err()
}
