package postgres

import (
	"context"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"database/sql"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/store"
)

// ============================================================================
// POSTGRESQL SUPPORT (Production - Full Support)
// ============================================================================
// PostgreSQL is the PRIMARY database for production use.
//
// All retrieval features are fully supported:
// - Vector KNN and similarity search (pgvector extension, cosine distance)
// - Full-text lexical ranking (ts_vector)
// - Hybrid search (vector + lexical with RRF fusion)
// - HNSW indexes on the embedding columns for sub-linear KNN; without them
//   queries fall back to a sequential scan, which stays correct, only slower.
//
// When adding new features, PostgreSQL is the reference implementation.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// Search traffic is read-mostly; keep the pool small.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
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
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_catalog = current_database() AND table_name = 'message' AND table_type = 'BASE TABLE')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}
