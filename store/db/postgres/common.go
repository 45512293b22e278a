package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mailsense/mailsense/store"
)

// placeholder returns the n-th PostgreSQL placeholder ($1, $2, ...).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n placeholders starting at $1.
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// entityTable maps an entity kind to its physical table. The kind set is
// closed; callers validate before dispatch so the empty return is unreachable.
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

// embeddingTable maps an entity kind to its embedding table. One table per
// kind, each row keyed uniquely by owner entity id.
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

// threadColumn is the column carrying the thread scope on the entity table.
// Threads scope by their own id.
func threadColumn(kind store.EntityKind) string {
	if kind == store.EntityKindThread {
		return "id"
	}
	return "thread_id"
}

// appendScopeFilter appends WHERE fragments for the scope filter against
// entity table alias. Returns the extended where/args slices.
func appendScopeFilter(kind store.EntityKind, filter *store.ScopeFilter, alias string, where []string, args []any) ([]string, []any) {
	if filter.IsEmpty() {
		return where, args
	}
	if len(filter.AccountIDs) > 0 {
		where = append(where, alias+".account_id = ANY("+placeholder(len(args)+1)+")")
		args = append(args, pq.Array(filter.AccountIDs))
	}
	if len(filter.ThreadIDs) > 0 {
		where = append(where, alias+"."+threadColumn(kind)+" = ANY("+placeholder(len(args)+1)+")")
		args = append(args, pq.Array(filter.ThreadIDs))
	}
	if filter.OrganizationID != nil {
		where = append(where, alias+".organization_id = "+placeholder(len(args)+1))
		args = append(args, *filter.OrganizationID)
	}
	return where, args
}
