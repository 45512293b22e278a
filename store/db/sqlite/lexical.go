package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/store"
)

// LexicalSearch performs full-text search using FTS5 bm25() when the shadow
// table exists. bm25() returns lower-is-better; the sign is flipped so a
// higher score means a better match, like the other drivers.
func (d *DB) LexicalSearch(ctx context.Context, opts *store.LexicalSearchOptions) ([]*store.LexicalMatch, error) {
	fts := ftsTable(opts.Kind)
	where := []string{fts + " MATCH ?"}
	args := []any{ftsQuery(opts.Query)}
	where, args = appendScopeFilter(opts.Kind, opts.Filter, "o", where, args)

	query := `
		SELECT ` + entityColumns(opts.Kind, "o") + `, -bm25(` + fts + `) AS score
		FROM ` + entityTable(opts.Kind) + ` o
		JOIN ` + fts + ` ON o.id = ` + fts + `.rowid
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, o.id ASC
		LIMIT ?
	`
	args = append(args, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		// FTS5 table might not exist, fall back to LIKE search.
		return d.lexicalSearchFallback(ctx, opts)
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

// ftsQuery quotes each term so user input cannot inject FTS5 query syntax.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	for i, term := range terms {
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

// textColumns lists the columns forming the kind's textual projection.
func textColumns(kind store.EntityKind, alias string) []string {
	switch kind {
	case store.EntityKindMessage:
		return []string{alias + ".subject", alias + ".snippet", alias + ".body"}
	case store.EntityKindThread:
		return []string{alias + ".subject", alias + ".snippet"}
	case store.EntityKindClaim:
		return []string{alias + ".text"}
	}
	return nil
}

// lexicalSearchFallback is a LIKE-based search for builds without FTS5.
// Every query term must match at least one text column; the score is the
// count of matching term/column pairs.
func (d *DB) lexicalSearchFallback(ctx context.Context, opts *store.LexicalSearchOptions) ([]*store.LexicalMatch, error) {
	words := []string{}
	for _, word := range strings.Fields(opts.Query) {
		// Escape LIKE special characters to prevent pattern injection.
		escaped := strings.ReplaceAll(strings.ReplaceAll(word, "%", "\\%"), "_", "\\_")
		words = append(words, "%"+escaped+"%")
	}
	if len(words) == 0 {
		return []*store.LexicalMatch{}, nil
	}

	// Placeholders bind in statement text order: score expressions in the
	// select list come before the WHERE clause.
	cols := textColumns(opts.Kind, "o")
	where, args := []string{}, []any{}
	score := []string{}
	for _, word := range words {
		for _, col := range cols {
			score = append(score, "(CASE WHEN "+col+" LIKE ? ESCAPE '\\' THEN 1 ELSE 0 END)")
			args = append(args, word)
		}
	}
	for _, word := range words {
		matches := []string{}
		for _, col := range cols {
			matches = append(matches, col+" LIKE ? ESCAPE '\\'")
			args = append(args, word)
		}
		where = append(where, "("+strings.Join(matches, " OR ")+")")
	}
	where, args = appendScopeFilter(opts.Kind, opts.Filter, "o", where, args)

	query := `
		SELECT ` + entityColumns(opts.Kind, "o") + `, (` + strings.Join(score, " + ") + `) AS score
		FROM ` + entityTable(opts.Kind) + ` o
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, o.id ASC
		LIMIT ?
	`
	args = append(args, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run lexical search fallback")
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
