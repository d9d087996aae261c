// Package face performs face verification against a trained model.
//
// The heavy lifting (detecting a face in a frame and computing its
// 128-dimension encoding) happens in a separate helper process exposed
// over loopback HTTP; dlib has no usable Go bindings and keeping the
// native code out of the daemon means a helper crash cannot take the
// lock down. This package owns the rest: the encodings model on disk,
// hot-reload when the model changes, distance matching, and the
// poll-style adapter the session loop drives.
package face

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hgarg/doorlock-core/internal/backend"
)

// Sentinel errors for model handling.
var (
	// ErrNoModel means no model file exists yet. The device can still run;
	// every scan reports no match until a model is downloaded.
	ErrNoModel = errors.New("face: no model file")

	// ErrBadModel means the model file could not be parsed.
	ErrBadModel = errors.New("face: malformed model file")
)

// encodingDims is the dimensionality of a dlib face encoding.
const encodingDims = 128

// Model is the on-disk encodings file.
//
// One name per encoding; names repeat when a user has several
// enrolment photos.
type Model struct {
	Names     []string    `json:"names"`
	Encodings [][]float64 `json:"encodings"`
}

// Logger is the narrow logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Store holds the current model and reloads it when the file changes.
type Store struct {
	path string
	log  Logger

	mu    sync.RWMutex
	model Model
}

// NewStore loads the model at path if it exists.
//
// A missing model is not an error at startup; the store stays empty
// until a download or an external write lands the file.
func NewStore(path string, log Logger) (*Store, error) {
	s := &Store{path: path, log: log}

	if err := s.Reload(); err != nil {
		if errors.Is(err, ErrNoModel) {
			log.Warn("no face model on disk, matching disabled until download", "path", path)
			return s, nil
		}
		return nil, err
	}
	return s, nil
}

// Reload reads the model file and swaps it in atomically.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoModel
		}
		return fmt.Errorf("face: read model: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return fmt.Errorf("%w: %w", ErrBadModel, err)
	}
	if len(model.Names) != len(model.Encodings) {
		return fmt.Errorf("%w: %d names for %d encodings", ErrBadModel, len(model.Names), len(model.Encodings))
	}
	for i, enc := range model.Encodings {
		if len(enc) != encodingDims {
			return fmt.Errorf("%w: encoding %d has %d dims", ErrBadModel, i, len(enc))
		}
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()

	s.log.Info("face model loaded", "encodings", len(model.Encodings))
	return nil
}

// Snapshot returns the current model. The returned value must not be
// mutated; reloads replace it wholesale.
func (s *Store) Snapshot() Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Count returns the number of loaded encodings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.model.Encodings)
}

// Watch reloads the model whenever its file is written, until ctx is
// cancelled. Watches the directory rather than the file so atomic
// replace-by-rename is seen.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("face: create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("face: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.log.Warn("face model reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("face model watcher error", "error", err)
			}
		}
	}()

	return nil
}

// Download fetches the trained model from the backend and replaces the
// file atomically. The watcher picks up the rename and reloads.
func (s *Store) Download(ctx context.Context, client *backend.Client) error {
	data, err := client.DownloadModel(ctx)
	if err != nil {
		return err
	}

	// Validate before landing the file so a bad download never
	// clobbers a working model.
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return fmt.Errorf("%w: downloaded model: %w", ErrBadModel, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("face: write model: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("face: replace model: %w", err)
	}

	// Reload directly as well; the watcher may not be running yet.
	return s.Reload()
}
