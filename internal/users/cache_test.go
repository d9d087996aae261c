package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hgarg/doorlock-core/internal/backend"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		fingerprint_id INTEGER,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_users_fingerprint_id ON users(fingerprint_id);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	return db
}

func intPtr(n int) *int { return &n }

func TestReplaceAllAndList(t *testing.T) {
	cache := NewCache(setupTestDB(t))
	ctx := context.Background()

	err := cache.ReplaceAll(ctx, []User{
		{UserID: "u-2", Name: "Bea", Email: "bea@example.com", FingerprintID: intPtr(3)},
		{UserID: "u-1", Name: "Alice", FingerprintID: intPtr(7)},
	})
	if err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}

	got, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d users, want 2", len(got))
	}
	if got[0].Name != "Alice" || got[1].Name != "Bea" {
		t.Errorf("List() order = %s, %s; want Alice, Bea", got[0].Name, got[1].Name)
	}
	if got[1].Email != "bea@example.com" {
		t.Errorf("Email = %q, want bea@example.com", got[1].Email)
	}

	// A second replace drops users no longer in the directory.
	err = cache.ReplaceAll(ctx, []User{{UserID: "u-1", Name: "Alice"}})
	if err != nil {
		t.Fatalf("second ReplaceAll() error = %v", err)
	}
	n, err := cache.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after replace, want 1", n)
	}
}

func TestByFingerprintID(t *testing.T) {
	cache := NewCache(setupTestDB(t))
	ctx := context.Background()

	err := cache.ReplaceAll(ctx, []User{
		{UserID: "u-1", Name: "Alice", FingerprintID: intPtr(7)},
		{UserID: "u-2", Name: "Bea"},
	})
	if err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}

	u, err := cache.ByFingerprintID(ctx, 7)
	if err != nil {
		t.Fatalf("ByFingerprintID() error = %v", err)
	}
	if u == nil || u.UserID != "u-1" {
		t.Errorf("ByFingerprintID(7) = %+v, want u-1", u)
	}

	u, err = cache.ByFingerprintID(ctx, 99)
	if err != nil {
		t.Fatalf("ByFingerprintID(99) error = %v", err)
	}
	if u != nil {
		t.Errorf("ByFingerprintID(99) = %+v, want nil", u)
	}
}

func TestByName(t *testing.T) {
	cache := NewCache(setupTestDB(t))
	ctx := context.Background()

	err := cache.ReplaceAll(ctx, []User{{UserID: "u-1", Name: "Alice"}})
	if err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}

	u, err := cache.ByName(ctx, "Alice")
	if err != nil {
		t.Fatalf("ByName() error = %v", err)
	}
	if u == nil || u.UserID != "u-1" {
		t.Errorf("ByName(Alice) = %+v, want u-1", u)
	}

	u, err = cache.ByName(ctx, "Nobody")
	if err != nil {
		t.Fatalf("ByName(Nobody) error = %v", err)
	}
	if u != nil {
		t.Errorf("ByName(Nobody) = %+v, want nil", u)
	}
}

// fakeDirectory scripts the backend directory pull.
type fakeDirectory struct {
	users []backend.User
	err   error
	calls int
}

func (f *fakeDirectory) GetUsers(ctx context.Context) ([]backend.User, error) {
	f.calls++
	return f.users, f.err
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}

func TestSyncerRefresh(t *testing.T) {
	cache := NewCache(setupTestDB(t))
	dir := &fakeDirectory{users: []backend.User{
		{UserID: "u-1", Name: "Alice", FingerprintID: intPtr(7)},
	}}
	s := NewSyncer(cache, dir, time.Hour, testLogger{})

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	got, err := cache.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "Alice" {
		t.Errorf("cache = %+v, want Alice", got)
	}
}

func TestSyncerRefreshKeepsCacheOnBackendError(t *testing.T) {
	cache := NewCache(setupTestDB(t))
	ctx := context.Background()

	if err := cache.ReplaceAll(ctx, []User{{UserID: "u-1", Name: "Alice"}}); err != nil {
		t.Fatalf("seed ReplaceAll() error = %v", err)
	}

	dir := &fakeDirectory{err: backend.ErrUnavailable}
	s := NewSyncer(cache, dir, time.Hour, testLogger{})

	if err := s.Refresh(ctx); !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("Refresh() = %v, want ErrUnavailable", err)
	}

	n, err := cache.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after failed refresh, want 1 (cache preserved)", n)
	}
}
