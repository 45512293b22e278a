package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/store"
)

// ============================================================================
// SQLITE SUPPORT (Development - Reduced Scale)
// ============================================================================
// SQLite has no pgvector equivalent; vectors are stored JSON-encoded and
// nearest-neighbor queries scan all completed rows, scoring cosine
// similarity in process. Exact and fine for development-sized corpora,
// linear in the number of rows.
//
// Lexical ranking uses FTS5 bm25() when the *_fts tables exist and falls
// back to LIKE matching when they do not.
//
// For production scale, use PostgreSQL.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("sqlite", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// modernc.org/sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent search traffic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 10000; PRAGMA journal_mode = WAL;"); err != nil {
		return nil, errors.Wrap(err, "failed to set pragmas")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var count int
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'message'").Scan(&count); err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return count > 0, nil
}
