package authstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-freebox/migrations"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "bridge.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

// TestStores runs the same contract against both backends.
func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"file":   func(t *testing.T) Store { return NewFileStore(filepath.Join(t.TempDir(), "auth.json")) },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			empty, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() on empty store error = %v", err)
			}
			if !empty.IsZero() {
				t.Errorf("Load() on empty store = %+v, want zero", empty)
			}

			first := freeboxos.AuthInfo{AppToken: "token-1", TrackID: 12}
			if err := store.Save(ctx, first); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			second := freeboxos.AuthInfo{AppToken: "token-2", TrackID: 13}
			if err := store.Save(ctx, second); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}

			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got != second {
				t.Errorf("Load() = %+v, want %+v", got, second)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if got, _ := store.Load(ctx); !got.IsZero() {
				t.Errorf("Load() after Clear = %+v, want zero", got)
			}
			if err := store.Clear(ctx); err != nil {
				t.Errorf("Clear() twice error = %v", err)
			}
		})
	}
}

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`{"app_token":"abc","track_id":7}`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != (freeboxos.AuthInfo{AppToken: "abc", TrackID: 7}) {
		t.Errorf("Load() = %+v", got)
	}
}

func TestFileStore_Permissions(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "auth.json"))
	if err := store.Save(context.Background(), freeboxos.AuthInfo{AppToken: "abc", TrackID: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestFileStore_DirectoryPath(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	if want := filepath.Join(dir, DefaultFileName); store.Path() != want {
		t.Errorf("Path() = %q, want %q", store.Path(), want)
	}
}

func TestFileStore_InvalidRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(path).Load(context.Background())
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Load() error = %v, want ErrInvalidRecord", err)
	}
}
