package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hrygo/clinote/internal/profile"
	"github.com/hrygo/clinote/store"
	"github.com/hrygo/clinote/store/db"
)

// NewTestingStore opens and migrates a store for the given driver.
func NewTestingStore(ctx context.Context, t *testing.T, driver string) *store.Store {
	t.Helper()

	p := &profile.Profile{Mode: "dev", Driver: driver}
	switch driver {
	case "sqlite":
		p.DSN = filepath.Join(t.TempDir(), "clinote_test.db")
	case "postgres":
		p.DSN = GetPostgresDSN(t)
	default:
		t.Fatalf("unknown driver %q", driver)
	}

	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	ts := store.New(dbDriver, p)
	t.Cleanup(func() { _ = ts.Close() })

	if err := ts.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return ts
}

// forEachDriver runs fn against sqlite and, when available, postgres.
func forEachDriver(t *testing.T, fn func(t *testing.T, ts *store.Store)) {
	for _, driver := range []string{"sqlite", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			ts := NewTestingStore(t.Context(), t, driver)
			fn(t, ts)
		})
	}
}
