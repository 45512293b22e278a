package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/store"
)

const (
	messageColumns = "id, uid, account_id, organization_id, thread_id, subject, snippet, body, sent_ts, created_ts, updated_ts"
	threadColumns  = "id, uid, account_id, organization_id, subject, snippet, message_count, last_message_ts, created_ts, updated_ts"
	claimColumns   = "id, uid, account_id, organization_id, message_id, thread_id, kind, text, confidence, created_ts, updated_ts"
)

func entityColumns(kind store.EntityKind, alias string) string {
	var cols string
	switch kind {
	case store.EntityKindMessage:
		cols = messageColumns
	case store.EntityKindThread:
		cols = threadColumns
	case store.EntityKindClaim:
		cols = claimColumns
	}
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// entityDests returns an empty entity of the kind with the scan destinations
// for its column list.
func entityDests(kind store.EntityKind) (*store.Entity, []any) {
	switch kind {
	case store.EntityKindMessage:
		m := &store.Message{}
		return &store.Entity{Kind: kind, Message: m}, []any{
			&m.ID, &m.UID, &m.AccountID, &m.OrganizationID, &m.ThreadID,
			&m.Subject, &m.Snippet, &m.Body, &m.SentTs, &m.CreatedTs, &m.UpdatedTs,
		}
	case store.EntityKindThread:
		t := &store.Thread{}
		return &store.Entity{Kind: kind, Thread: t}, []any{
			&t.ID, &t.UID, &t.AccountID, &t.OrganizationID,
			&t.Subject, &t.Snippet, &t.MessageCount, &t.LastMessageTs, &t.CreatedTs, &t.UpdatedTs,
		}
	case store.EntityKindClaim:
		c := &store.Claim{}
		return &store.Entity{Kind: kind, Claim: c}, []any{
			&c.ID, &c.UID, &c.AccountID, &c.OrganizationID, &c.MessageID, &c.ThreadID,
			&c.Kind, &c.Text, &c.Confidence, &c.CreatedTs, &c.UpdatedTs,
		}
	}
	return nil, nil
}

func scanEntity(kind store.EntityKind, r rowScanner) (*store.Entity, error) {
	entity, dests := entityDests(kind)
	if entity == nil {
		return nil, errors.Errorf("unknown entity kind: %q", string(kind))
	}
	if err := r.Scan(dests...); err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", string(kind))
	}
	return entity, nil
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	now := time.Now().Unix()
	stmt := `
		INSERT INTO message (uid, account_id, organization_id, thread_id, subject, snippet, body, sent_ts, created_ts, updated_ts)
		VALUES (` + placeholders(10) + `)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.AccountID, create.OrganizationID, create.ThreadID,
		create.Subject, create.Snippet, create.Body, create.SentTs, now, now,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	create.CreatedTs, create.UpdatedTs = now, now
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.ThreadID != nil {
		where, args = append(where, "thread_id = ?"), append(args, *find.ThreadID)
	}
	if find.AccountID != nil {
		where, args = append(where, "account_id = ?"), append(args, *find.AccountID)
	}

	query := `SELECT ` + messageColumns + ` FROM message WHERE ` + strings.Join(where, " AND ") + ` ORDER BY sent_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.UID, &m.AccountID, &m.OrganizationID, &m.ThreadID,
			&m.Subject, &m.Snippet, &m.Body, &m.SentTs, &m.CreatedTs, &m.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

func (d *DB) DeleteMessage(ctx context.Context, id int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete message")
	}
	return nil
}

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	now := time.Now().Unix()
	stmt := `
		INSERT INTO thread (uid, account_id, organization_id, subject, snippet, message_count, last_message_ts, created_ts, updated_ts)
		VALUES (` + placeholders(9) + `)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.AccountID, create.OrganizationID,
		create.Subject, create.Snippet, create.MessageCount, create.LastMessageTs, now, now,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create thread")
	}
	create.CreatedTs, create.UpdatedTs = now, now
	return create, nil
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.AccountID != nil {
		where, args = append(where, "account_id = ?"), append(args, *find.AccountID)
	}

	query := `SELECT ` + threadColumns + ` FROM thread WHERE ` + strings.Join(where, " AND ") + ` ORDER BY last_message_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list threads")
	}
	defer rows.Close()

	list := []*store.Thread{}
	for rows.Next() {
		var t store.Thread
		if err := rows.Scan(&t.ID, &t.UID, &t.AccountID, &t.OrganizationID,
			&t.Subject, &t.Snippet, &t.MessageCount, &t.LastMessageTs, &t.CreatedTs, &t.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan thread")
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (d *DB) DeleteThread(ctx context.Context, id int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM thread WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete thread")
	}
	return nil
}

func (d *DB) CreateClaim(ctx context.Context, create *store.Claim) (*store.Claim, error) {
	now := time.Now().Unix()
	stmt := `
		INSERT INTO claim (uid, account_id, organization_id, message_id, thread_id, kind, text, confidence, created_ts, updated_ts)
		VALUES (` + placeholders(10) + `)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.AccountID, create.OrganizationID, create.MessageID, create.ThreadID,
		string(create.Kind), create.Text, create.Confidence, now, now,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create claim")
	}
	create.CreatedTs, create.UpdatedTs = now, now
	return create, nil
}

func (d *DB) ListClaims(ctx context.Context, find *store.FindClaim) ([]*store.Claim, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.MessageID != nil {
		where, args = append(where, "message_id = ?"), append(args, *find.MessageID)
	}
	if find.ThreadID != nil {
		where, args = append(where, "thread_id = ?"), append(args, *find.ThreadID)
	}
	if find.AccountID != nil {
		where, args = append(where, "account_id = ?"), append(args, *find.AccountID)
	}

	query := `SELECT ` + claimColumns + ` FROM claim WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list claims")
	}
	defer rows.Close()

	list := []*store.Claim{}
	for rows.Next() {
		var c store.Claim
		if err := rows.Scan(&c.ID, &c.UID, &c.AccountID, &c.OrganizationID, &c.MessageID, &c.ThreadID,
			&c.Kind, &c.Text, &c.Confidence, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan claim")
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

func (d *DB) DeleteClaim(ctx context.Context, id int32) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM claim WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete claim")
	}
	return nil
}

func (d *DB) GetEntity(ctx context.Context, kind store.EntityKind, id int32) (*store.Entity, error) {
	query := `SELECT ` + entityColumns(kind, "e") + ` FROM ` + entityTable(kind) + ` e WHERE e.id = ?`
	row := d.db.QueryRowContext(ctx, query, id)
	entity, err := scanEntity(kind, row)
	if err != nil {
		if errors.Is(errors.Cause(err), sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity, nil
}
