package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestParseMigrations_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"sql/migrations/0002_more.down.sql": {Data: []byte("DROP TABLE b;")},
		"sql/migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
	}

	set, err := parseMigrations(fsys)
	if err != nil {
		t.Fatalf("parseMigrations failed: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(set))
	}
	if set[0].Version != 1 || set[0].Name != "init" || set[0].Down != "DROP TABLE a;" {
		t.Fatalf("unexpected first migration: %+v", set[0])
	}
	if set[1].Version != 2 || set[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", set[1])
	}
}

func TestParseMigrations_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			name: "missing down",
			fsys: fstest.MapFS{"sql/migrations/0001_init.up.sql": {Data: []byte("SELECT 1;")}},
			want: "both up and down",
		},
		{
			name: "invalid name",
			fsys: fstest.MapFS{"sql/migrations/not_a_migration.sql": {Data: []byte("SELECT 1;")}},
			want: "invalid migration file name",
		},
		{
			name: "empty body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   {Data: []byte("  \n")},
				"sql/migrations/0001_init.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "empty",
		},
		{
			name: "name conflict",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    {Data: []byte("SELECT 1;")},
				"sql/migrations/0001_other.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "conflicting names",
		},
		{
			name: "no files",
			fsys: fstest.MapFS{},
			want: "no migration files",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseMigrations(tc.fsys)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	set, err := parseMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 embedded migrations, got %d", len(set))
	}
	if !strings.Contains(set[2].Up, "idempotency_keys") || !strings.Contains(set[2].Up, "checkout_timeline") {
		t.Fatal("expected idempotency and timeline tables in the third migration")
	}
	if !strings.Contains(set[0].Up, "shipping_addresses_one_default_uidx") {
		t.Fatal("expected partial unique index on default address")
	}
}

func TestStore_NilGuards(t *testing.T) {
	var store *Store
	if err := store.Ping(t.Context()); err == nil {
		t.Fatal("expected ping error for nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store should not fail: %v", err)
	}
	if err := store.MigrateUp(t.Context(), 0); err == nil {
		t.Fatal("expected migrate error for nil store")
	}
}
