package db

import (
	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/store"
	"github.com/mailsense/mailsense/store/db/memory"
	"github.com/mailsense/mailsense/store/db/postgres"
	"github.com/mailsense/mailsense/store/db/sqlite"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// PostgreSQL: Full support for production use, including vector search.
// SQLite: Development support; vector search scans in process.
// Memory: Tests and throwaway local runs only, nothing is persisted.
// ============================================================================

// NewDBDriver creates a new db driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "memory":
		driver, err = memory.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: supported drivers are 'postgres', 'sqlite' and 'memory'", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
