package store

import (
	"context"
	"embed"

	"github.com/pkg/errors"
)

//go:embed migration
var migrationFS embed.FS

// Migrate creates the schema on a fresh database. Drivers without a
// sql.DB (the in-memory driver) need no schema and return immediately.
// Existing schemas are left untouched; there is no versioned upgrade path,
// the schema ships whole.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.driver.GetDB()
	if db == nil {
		return nil
	}

	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check migration status")
	}
	if initialized {
		return nil
	}

	buf, err := migrationFS.ReadFile("migration/" + s.profile.Driver + "/LATEST.sql")
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema for driver %q", s.profile.Driver)
	}
	if _, err := db.ExecContext(ctx, string(buf)); err != nil {
		return errors.Wrap(err, "failed to apply latest schema")
	}
	return nil
}
