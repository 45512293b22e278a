package memory

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/store"
)

// ============================================================================
// IN-MEMORY SUPPORT (Tests and Local Development)
// ============================================================================
// Entities and embeddings live in maps guarded by one RWMutex; keyword
// ranking goes through an in-memory Bleve index. Nothing is persisted.
// Vector retrieval scans all completed rows, which is exact and fast enough
// for test-sized corpora.
// ============================================================================

// searchDocument is the Bleve projection of an entity.
type searchDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type DB struct {
	profile *profile.Profile
	index   bleve.Index

	mu         sync.RWMutex
	nextID     int32
	messages   map[int32]*store.Message
	threads    map[int32]*store.Thread
	claims     map[int32]*store.Claim
	embeddings map[store.EntityKind]map[int32]*store.EmbeddingRecord
	aggregates map[int32]*store.ThreadAggregateEmbedding
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so a query
	// term matches the exact word it was typed as.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create in-memory index")
	}

	return &DB{
		profile: profile,
		index:   index,
		messages: map[int32]*store.Message{},
		threads:  map[int32]*store.Thread{},
		claims:   map[int32]*store.Claim{},
		embeddings: map[store.EntityKind]map[int32]*store.EmbeddingRecord{
			store.EntityKindMessage: {},
			store.EntityKindThread:  {},
			store.EntityKindClaim:   {},
		},
		aggregates: map[int32]*store.ThreadAggregateEmbedding{},
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return nil
}

func (d *DB) Close() error {
	return d.index.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	return true, nil
}

// docID keys the Bleve document for an entity.
func docID(kind store.EntityKind, id int32) string {
	return string(kind) + "/" + strconv.FormatInt(int64(id), 10)
}

// parseDocID reverses docID.
func parseDocID(key string) (store.EntityKind, int32, error) {
	kind, raw, ok := strings.Cut(key, "/")
	if !ok {
		return "", 0, errors.Errorf("malformed document id: %q", key)
	}
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return "", 0, errors.Wrapf(err, "malformed document id: %q", key)
	}
	return store.EntityKind(kind), int32(id), nil
}

func (d *DB) indexEntity(entity *store.Entity) error {
	doc := searchDocument{Content: entity.SearchText()}
	switch entity.Kind {
	case store.EntityKindMessage:
		doc.Title = entity.Message.Subject
	case store.EntityKindThread:
		doc.Title = entity.Thread.Subject
	}
	return d.index.Index(docID(entity.Kind, entity.ID()), doc)
}

func (d *DB) allocID() int32 {
	d.nextID++
	return d.nextID
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	create.ID = d.allocID()
	create.CreatedTs, create.UpdatedTs = now, now
	stored := *create
	d.messages[create.ID] = &stored
	if err := d.indexEntity(&store.Entity{Kind: store.EntityKindMessage, Message: &stored}); err != nil {
		return nil, errors.Wrap(err, "failed to index message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.Message{}
	for _, m := range d.messages {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.ThreadID != nil && m.ThreadID != *find.ThreadID {
			continue
		}
		if find.AccountID != nil && m.AccountID != *find.AccountID {
			continue
		}
		copied := *m
		list = append(list, &copied)
	}
	sortByTs(list, func(m *store.Message) (int64, int32) { return m.SentTs, m.ID })
	return truncate(list, find.Limit), nil
}

func (d *DB) DeleteMessage(ctx context.Context, id int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.messages, id)
	return d.index.Delete(docID(store.EntityKindMessage, id))
}

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	create.ID = d.allocID()
	create.CreatedTs, create.UpdatedTs = now, now
	stored := *create
	d.threads[create.ID] = &stored
	if err := d.indexEntity(&store.Entity{Kind: store.EntityKindThread, Thread: &stored}); err != nil {
		return nil, errors.Wrap(err, "failed to index thread")
	}
	return create, nil
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.Thread{}
	for _, t := range d.threads {
		if find.ID != nil && t.ID != *find.ID {
			continue
		}
		if find.AccountID != nil && t.AccountID != *find.AccountID {
			continue
		}
		copied := *t
		list = append(list, &copied)
	}
	sortByTs(list, func(t *store.Thread) (int64, int32) { return t.LastMessageTs, t.ID })
	return truncate(list, find.Limit), nil
}

func (d *DB) DeleteThread(ctx context.Context, id int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.threads, id)
	return d.index.Delete(docID(store.EntityKindThread, id))
}

func (d *DB) CreateClaim(ctx context.Context, create *store.Claim) (*store.Claim, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	create.ID = d.allocID()
	create.CreatedTs, create.UpdatedTs = now, now
	stored := *create
	d.claims[create.ID] = &stored
	if err := d.indexEntity(&store.Entity{Kind: store.EntityKindClaim, Claim: &stored}); err != nil {
		return nil, errors.Wrap(err, "failed to index claim")
	}
	return create, nil
}

func (d *DB) ListClaims(ctx context.Context, find *store.FindClaim) ([]*store.Claim, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.Claim{}
	for _, c := range d.claims {
		if find.ID != nil && c.ID != *find.ID {
			continue
		}
		if find.MessageID != nil && c.MessageID != *find.MessageID {
			continue
		}
		if find.ThreadID != nil && c.ThreadID != *find.ThreadID {
			continue
		}
		if find.AccountID != nil && c.AccountID != *find.AccountID {
			continue
		}
		copied := *c
		list = append(list, &copied)
	}
	sortByTs(list, func(c *store.Claim) (int64, int32) { return c.CreatedTs, c.ID })
	return truncate(list, find.Limit), nil
}

func (d *DB) DeleteClaim(ctx context.Context, id int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, id)
	return d.index.Delete(docID(store.EntityKindClaim, id))
}

func (d *DB) GetEntity(ctx context.Context, kind store.EntityKind, id int32) (*store.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getEntityLocked(kind, id), nil
}

func (d *DB) getEntityLocked(kind store.EntityKind, id int32) *store.Entity {
	switch kind {
	case store.EntityKindMessage:
		if m, ok := d.messages[id]; ok {
			copied := *m
			return &store.Entity{Kind: kind, Message: &copied}
		}
	case store.EntityKindThread:
		if t, ok := d.threads[id]; ok {
			copied := *t
			return &store.Entity{Kind: kind, Thread: &copied}
		}
	case store.EntityKindClaim:
		if c, ok := d.claims[id]; ok {
			copied := *c
			return &store.Entity{Kind: kind, Claim: &copied}
		}
	}
	return nil
}

func sortByTs[T any](list []T, key func(T) (int64, int32)) {
	sort.Slice(list, func(i, j int) bool {
		aTs, aID := key(list[i])
		bTs, bID := key(list[j])
		if aTs != bTs {
			return aTs > bTs
		}
		return aID > bID
	})
}

func truncate[T any](list []T, limit *int) []T {
	if limit != nil && len(list) > *limit {
		return list[:*limit]
	}
	return list
}
