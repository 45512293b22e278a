package memory

import (
	"context"

	"github.com/blevesearch/bleve/v2"
	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/store"
)

// LexicalSearch runs a Bleve match query over the kind's documents and
// applies the scope filter against the stored entities. Bleve is asked for
// more hits than the limit because documents of other kinds and entities
// outside the scope share the index.
func (d *DB) LexicalSearch(ctx context.Context, opts *store.LexicalSearchOptions) ([]*store.LexicalMatch, error) {
	size := opts.Limit * 4
	if size < 50 {
		size = 50
	}

	query := bleve.NewMatchQuery(opts.Query)
	request := bleve.NewSearchRequest(query)
	request.Size = size
	result, err := d.index.Search(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run lexical search")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.LexicalMatch{}
	for _, hit := range result.Hits {
		kind, id, err := parseDocID(hit.ID)
		if err != nil {
			return nil, err
		}
		if kind != opts.Kind {
			continue
		}
		entity := d.getEntityLocked(kind, id)
		if entity == nil || !opts.Filter.Matches(entity) {
			continue
		}
		list = append(list, &store.LexicalMatch{
			Entity: entity,
			Score:  hit.Score,
			Rank:   len(list) + 1,
		})
		if len(list) >= opts.Limit {
			break
		}
	}
	return list, nil
}
