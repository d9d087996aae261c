package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/face"
	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
	"github.com/hgarg/doorlock-core/internal/users"
)

func setupUserDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
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
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func TestListUsers(t *testing.T) {
	h := newTestHarness(t)
	cache := users.NewCache(setupUserDB(t))
	h.server.users = cache

	fpID := 4
	seed := []users.User{
		{UserID: "u-1", Name: "Alice", Email: "alice@example.com", FingerprintID: &fpID},
		{UserID: "u-2", Name: "Bob"},
	}
	if err := cache.ReplaceAll(context.Background(), seed); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/api/v1/users", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Users []users.User `json:"users"`
		Total int          `json:"total"`
	}
	decodeBody(t, rec, &body)
	if body.Total != 2 {
		t.Fatalf("expected 2 users, got %d", body.Total)
	}
	if body.Users[0].Name != "Alice" {
		t.Errorf("expected Alice first, got %s", body.Users[0].Name)
	}
	if body.Users[0].FingerprintID == nil || *body.Users[0].FingerprintID != 4 {
		t.Errorf("expected fingerprint ID 4, got %v", body.Users[0].FingerprintID)
	}
}

func TestModelSync(t *testing.T) {
	model := face.Model{
		Names:     []string{"Alice"},
		Encodings: [][]float64{make([]float64, 128)},
	}
	modelData, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("failed to marshal model: %v", err)
	}

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/trained_model.pkl" {
			//nolint:errcheck // Test server write
			w.Write(modelData)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backendSrv.Close()

	h := newTestHarness(t)

	modelPath := filepath.Join(t.TempDir(), "encodings.json")
	store, err := face.NewStore(modelPath, testLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	h.server.faceStore = store
	h.server.backend = backend.New(config.BackendConfig{
		BaseURL:        backendSrv.URL,
		RequestTimeout: 2,
	}, testLogger())

	rec := h.do(t, http.MethodPost, "/api/v1/model/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["model_faces"] != float64(1) {
		t.Errorf("expected 1 model face, got %v", body["model_faces"])
	}
	if store.Count() != 1 {
		t.Errorf("expected store to hold 1 face, got %d", store.Count())
	}
}

func TestModelSyncBackendDown(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backendSrv.Close()

	h := newTestHarness(t)

	store, err := face.NewStore(filepath.Join(t.TempDir(), "encodings.json"), testLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	h.server.faceStore = store
	h.server.backend = backend.New(config.BackendConfig{
		BaseURL:        backendSrv.URL,
		RequestTimeout: 2,
	}, testLogger())

	rec := h.do(t, http.MethodPost, "/api/v1/model/sync", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}

	if store.Count() != 0 {
		t.Errorf("expected store untouched after failed sync, got %d faces", store.Count())
	}
}
