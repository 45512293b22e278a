package sqlite

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/store"
)

// placeholder returns a placeholder for SQLite (uses ?).
func placeholder(n int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite.
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

func entityTable(kind store.EntityKind) string {
	switch kind {
	case store.EntityKindMessage:
		return "message"
	case store.EntityKindThread:
		return "thread"
	case store.EntityKindClaim:
		return "claim"
	}
	return ""
}

func embeddingTable(kind store.EntityKind) string {
	switch kind {
	case store.EntityKindMessage:
		return "message_embedding"
	case store.EntityKindThread:
		return "thread_embedding"
	case store.EntityKindClaim:
		return "claim_embedding"
	}
	return ""
}

// ftsTable maps an entity kind to its FTS5 shadow table.
func ftsTable(kind store.EntityKind) string {
	return entityTable(kind) + "_fts"
}

func threadColumn(kind store.EntityKind) string {
	if kind == store.EntityKindThread {
		return "id"
	}
	return "thread_id"
}

// appendScopeFilter appends WHERE fragments for the scope filter against
// the entity table alias, expanding id lists into IN clauses.
func appendScopeFilter(kind store.EntityKind, filter *store.ScopeFilter, alias string, where []string, args []any) ([]string, []any) {
	if filter.IsEmpty() {
		return where, args
	}
	if len(filter.AccountIDs) > 0 {
		where = append(where, alias+".account_id IN ("+placeholders(len(filter.AccountIDs))+")")
		for _, id := range filter.AccountIDs {
			args = append(args, id)
		}
	}
	if len(filter.ThreadIDs) > 0 {
		where = append(where, alias+"."+threadColumn(kind)+" IN ("+placeholders(len(filter.ThreadIDs))+")")
		for _, id := range filter.ThreadIDs {
			args = append(args, id)
		}
	}
	if filter.OrganizationID != nil {
		where = append(where, alias+".organization_id = ?")
		args = append(args, *filter.OrganizationID)
	}
	return where, args
}

// encodeVector serializes an embedding vector to its JSON text form.
func encodeVector(vector []float32) (string, error) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode vector")
	}
	return string(raw), nil
}

// decodeVector parses a JSON-encoded embedding vector.
func decodeVector(raw string) ([]float32, error) {
	vector := []float32{}
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		return nil, errors.Wrap(err, "failed to decode vector")
	}
	return vector, nil
}
