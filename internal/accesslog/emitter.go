package accesslog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hgarg/doorlock-core/internal/backend"
)

// syncBatchSize is how many entries one sync pass pushes at most.
const syncBatchSize = 50

// pushTimeout bounds a single background push to the backend.
const pushTimeout = 10 * time.Second

// BackendSink is the slice of the backend client the emitter needs.
type BackendSink interface {
	LogAccess(ctx context.Context, record backend.AccessRecord) error
}

// Publisher is the slice of the MQTT client the emitter needs.
// Nil-able; the emitter skips publishing when no broker is configured.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// Logger is the narrow logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Emitter records access attempts locally and fans them out.
//
// The local insert is synchronous and is the source of truth. The
// backend push and MQTT publish happen in a goroutine per entry and
// are allowed to fail; the sync loop catches up later.
type Emitter struct {
	repo  Repository
	sink  BackendSink
	pub   Publisher
	topic string
	log   Logger

	syncInterval time.Duration

	// claimMu guards claimed, the set of entry ids with a backend push
	// in progress. The per-entry fanout and the sync loop both claim
	// before pushing; whichever claims first pushes, the other skips.
	claimMu sync.Mutex
	claimed map[string]struct{}
}

// NewEmitter builds an emitter. sink may be nil when no backend is
// configured, pub may be nil when MQTT is disabled.
func NewEmitter(repo Repository, sink BackendSink, pub Publisher, topic string, syncInterval time.Duration, log Logger) *Emitter {
	return &Emitter{
		repo:         repo,
		sink:         sink,
		pub:          pub,
		topic:        topic,
		log:          log,
		syncInterval: syncInterval,
		claimed:      make(map[string]struct{}),
	}
}

func (e *Emitter) tryClaim(id string) bool {
	e.claimMu.Lock()
	defer e.claimMu.Unlock()
	if _, held := e.claimed[id]; held {
		return false
	}
	e.claimed[id] = struct{}{}
	return true
}

func (e *Emitter) unclaim(ids ...string) {
	e.claimMu.Lock()
	defer e.claimMu.Unlock()
	for _, id := range ids {
		delete(e.claimed, id)
	}
}

// Record stores the entry and kicks off best-effort fanout.
//
// Only the local insert can fail the call; fanout failures are logged
// and retried by the sync loop.
func (e *Emitter) Record(ctx context.Context, entry *Entry) error {
	if err := e.repo.Create(ctx, entry); err != nil {
		return err
	}

	// Claim before the goroutine starts so a sync pass that reads the
	// fresh row skips it instead of racing the per-entry push.
	push := e.sink != nil && e.tryClaim(entry.ID)
	go e.fanout(*entry, push)
	return nil
}

// fanout pushes one entry to the backend and announces it over MQTT.
// push is false when the sync loop already owns the backend push.
func (e *Emitter) fanout(entry Entry, push bool) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if push {
		if err := e.sink.LogAccess(ctx, toRecord(entry)); err != nil {
			e.log.Debug("access log push deferred", "id", entry.ID, "error", err)
		} else if err := e.repo.MarkSynced(ctx, []string{entry.ID}); err != nil {
			e.log.Warn("access log sync flag update failed", "id", entry.ID, "error", err)
		}
		e.unclaim(entry.ID)
	}

	if e.pub != nil {
		payload, err := json.Marshal(entry)
		if err != nil {
			return
		}
		if err := e.pub.PublishEvent(e.topic, payload); err != nil {
			e.log.Debug("access event publish failed", "id", entry.ID, "error", err)
		}
	}
}

// Run drains unsynced entries periodically until ctx is cancelled.
//
// Started as a goroutine at daemon startup. Each pass pushes at most
// syncBatchSize entries oldest-first so a long outage drains in order.
func (e *Emitter) Run(ctx context.Context) {
	if e.sink == nil || e.syncInterval <= 0 {
		return
	}

	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncOnce(ctx)
		}
	}
}

// syncOnce pushes one batch of unsynced entries.
func (e *Emitter) syncOnce(ctx context.Context) {
	entries, err := e.repo.Unsynced(ctx, syncBatchSize)
	if err != nil {
		e.log.Warn("access log sync query failed", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var pushed []string
	for _, entry := range entries {
		if !e.tryClaim(entry.ID) {
			// A per-entry fanout is pushing this one right now.
			continue
		}
		if err := e.sink.LogAccess(ctx, toRecord(entry)); err != nil {
			// Backend still unreachable; stop and retry next interval.
			e.unclaim(entry.ID)
			e.log.Debug("access log sync halted", "pushed", len(pushed), "error", err)
			break
		}
		pushed = append(pushed, entry.ID)
	}

	if len(pushed) > 0 {
		if err := e.repo.MarkSynced(ctx, pushed); err != nil {
			e.log.Warn("access log sync flag update failed", "error", err)
		}
		e.unclaim(pushed...)
	}
}

// toRecord converts an entry to the backend wire shape.
func toRecord(entry Entry) backend.AccessRecord {
	return backend.AccessRecord{
		UserID:               entry.UserID,
		AccessType:           string(entry.AccessType),
		AuthenticationMethod: string(entry.AuthenticationMethod),
		ConfidenceScore:      entry.ConfidenceScore,
		Notes:                entry.Notes,
	}
}
