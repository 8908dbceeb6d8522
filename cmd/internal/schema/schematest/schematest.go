// Package schematest provisions throwaway migrated schemas for Postgres
// integration tests. Tests skip unless PARLEY_DATABASE_URL is set.
package schematest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/identity/ids"
	"parley/cmd/internal/schema"
)

const EnvDatabaseURL = "PARLEY_DATABASE_URL"

// Open returns a pool whose search_path points at a fresh, fully migrated
// schema, plus that schema's name. Both are cleaned up with t.
func Open(t testing.TB) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	name := "parley_it_" + strings.ToLower(ids.MustULID(time.Now()))

	admin, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		t.Skipf("integration test skipped: postgres unreachable: %v", err)
	}
	if err := schema.Ensure(ctx, admin, name); err != nil {
		admin.Close()
		t.Fatalf("%v", err)
	}

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		admin.Close()
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = name
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		admin.Close()
		t.Fatalf("connect postgres: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_, _ = admin.Exec(dctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{name}.Sanitize()+` CASCADE`)
		admin.Close()
	})

	if err := schema.Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("%v", err)
	}
	return pool, name
}
