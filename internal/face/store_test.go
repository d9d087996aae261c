package face

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

type testLogger struct{}

func (testLogger) Info(msg string, args ...any)  {}
func (testLogger) Warn(msg string, args ...any)  {}
func (testLogger) Debug(msg string, args ...any) {}

// testEncoding returns a 128-dim encoding with the given leading value.
func testEncoding(lead float64) []float64 {
	enc := make([]float64, encodingDims)
	enc[0] = lead
	return enc
}

func writeModel(t *testing.T, path string, model Model) {
	t.Helper()
	data, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("marshal model: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
}

func TestNewStoreMissingModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")

	s, err := NewStore(path, testLogger{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
}

func TestNewStoreLoadsModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")
	writeModel(t, path, Model{
		Names:     []string{"Resident", "Guest"},
		Encodings: [][]float64{testEncoding(0.1), testEncoding(0.9)},
	})

	s, err := NewStore(path, testLogger{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
}

func TestReloadBadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")
	os.WriteFile(path, []byte("not json"), 0o600)

	s := &Store{path: path, log: testLogger{}}
	if err := s.Reload(); !errors.Is(err, ErrBadModel) {
		t.Errorf("Reload() error = %v, want ErrBadModel", err)
	}
}

func TestReloadMismatchedModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")
	writeModel(t, path, Model{
		Names:     []string{"Resident"},
		Encodings: [][]float64{testEncoding(0.1), testEncoding(0.2)},
	})

	s := &Store{path: path, log: testLogger{}}
	if err := s.Reload(); !errors.Is(err, ErrBadModel) {
		t.Errorf("Reload() error = %v, want ErrBadModel", err)
	}
}

func TestReloadWrongDims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")
	writeModel(t, path, Model{
		Names:     []string{"Resident"},
		Encodings: [][]float64{{0.1, 0.2}},
	})

	s := &Store{path: path, log: testLogger{}}
	if err := s.Reload(); !errors.Is(err, ErrBadModel) {
		t.Errorf("Reload() error = %v, want ErrBadModel", err)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encodings.json")

	s, err := NewStore(path, testLogger{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Atomic replace-by-rename, as Download does.
	tmp := path + ".tmp"
	writeModel(t, tmp, Model{
		Names:     []string{"Resident"},
		Encodings: [][]float64{testEncoding(0.5)},
	})
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Count() == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not reload model")
}

func TestDownload(t *testing.T) {
	model := Model{
		Names:     []string{"Resident"},
		Encodings: [][]float64{testEncoding(0.3)},
	}
	modelJSON, _ := json.Marshal(model)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(modelJSON)
	}))
	defer srv.Close()

	client := backend.New(config.BackendConfig{BaseURL: srv.URL, RequestTimeout: 2}, testLogger{})

	path := filepath.Join(t.TempDir(), "encodings.json")
	s, err := NewStore(path, testLogger{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := s.Download(context.Background(), client); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d after download, want 1", s.Count())
	}

	// Temp file must not linger.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after download")
	}
}

func TestDownloadBadModelPreservesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted"))
	}))
	defer srv.Close()

	client := backend.New(config.BackendConfig{BaseURL: srv.URL, RequestTimeout: 2}, testLogger{})

	path := filepath.Join(t.TempDir(), "encodings.json")
	writeModel(t, path, Model{
		Names:     []string{"Resident"},
		Encodings: [][]float64{testEncoding(0.3)},
	})
	s, err := NewStore(path, testLogger{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := s.Download(context.Background(), client); !errors.Is(err, ErrBadModel) {
		t.Errorf("Download() error = %v, want ErrBadModel", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, existing model should survive bad download", s.Count())
	}
}
