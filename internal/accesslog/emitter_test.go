package accesslog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hgarg/doorlock-core/internal/backend"
)

type emitterLogger struct{}

func (emitterLogger) Debug(msg string, args ...any) {}
func (emitterLogger) Warn(msg string, args ...any)  {}

// mockSink records pushed entries and can simulate an unreachable backend.
type mockSink struct {
	mu      sync.Mutex
	records []backend.AccessRecord
	err     error
}

func (m *mockSink) LogAccess(ctx context.Context, record backend.AccessRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockPub records published payloads.
type mockPub struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (m *mockPub) PublishEvent(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockPub) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRecordFansOut(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	sink := &mockSink{}
	pub := &mockPub{}
	e := NewEmitter(repo, sink, pub, "doorlock/test/event/access", time.Minute, emitterLogger{})

	err := e.Record(context.Background(), &Entry{
		AccessType:           TypeSuccess,
		AuthenticationMethod: MethodCombined,
		UserID:               "u-1",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	waitFor(t, func() bool { return sink.count() == 1 && pub.count() == 1 })

	// Entry should now carry the synced flag.
	waitFor(t, func() bool {
		unsynced, err := repo.Unsynced(context.Background(), 10)
		return err == nil && len(unsynced) == 0
	})
}

func TestRecordBackendDown(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	sink := &mockSink{err: errors.New("connection refused")}
	e := NewEmitter(repo, sink, nil, "", time.Minute, emitterLogger{})

	if err := e.Record(context.Background(), &Entry{
		AccessType:           TypeFailedFace,
		AuthenticationMethod: MethodFace,
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// Local record persists unsynced while the backend is down.
	waitFor(t, func() bool {
		unsynced, err := repo.Unsynced(context.Background(), 10)
		return err == nil && len(unsynced) == 1
	})
}

func TestSyncOnceDrains(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	sink := &mockSink{}
	e := NewEmitter(repo, sink, nil, "", time.Minute, emitterLogger{})

	// Seed entries directly so no per-entry fanout goroutines race the
	// sync pass; this is the state after an outage.
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		entry := &Entry{
			AccessType:           TypeFailedCombined,
			AuthenticationMethod: MethodCombined,
			CreatedAt:            base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	// Backend is back; one sync pass drains the buffer.
	e.syncOnce(ctx)

	if sink.count() != 3 {
		t.Errorf("pushed %d records, want 3", sink.count())
	}
	unsynced, err := repo.Unsynced(ctx, 10)
	if err != nil {
		t.Fatalf("Unsynced() error = %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("unsynced after drain = %d, want 0", len(unsynced))
	}
}

// gateSink blocks every push until released.
type gateSink struct {
	release chan struct{}

	mu      sync.Mutex
	records []backend.AccessRecord
}

func (g *gateSink) LogAccess(ctx context.Context, record backend.AccessRecord) error {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = append(g.records, record)
	return nil
}

func (g *gateSink) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

func TestSyncSkipsEntryBeingFannedOut(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	sink := &gateSink{release: make(chan struct{})}
	e := NewEmitter(repo, sink, nil, "", time.Minute, emitterLogger{})

	ctx := context.Background()
	entry := &Entry{AccessType: TypeSuccess, AuthenticationMethod: MethodCombined, UserID: "u-1"}
	if err := e.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// The per-entry push is still in flight; a sync pass that sees the
	// unsynced row must leave it to the fanout, not push it again.
	e.syncOnce(ctx)
	if sink.count() != 0 {
		t.Fatalf("sync pushed %d records while fanout held the entry", sink.count())
	}

	close(sink.release)
	waitFor(t, func() bool { return sink.count() == 1 })
	waitFor(t, func() bool {
		unsynced, err := repo.Unsynced(ctx, 10)
		return err == nil && len(unsynced) == 0
	})

	// Nothing left to drain; the backend saw the entry exactly once.
	e.syncOnce(ctx)
	if sink.count() != 1 {
		t.Errorf("backend received %d records, want 1", sink.count())
	}
}

func TestSyncOnceStopsOnError(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	sink := &mockSink{err: errors.New("still down")}
	e := NewEmitter(repo, sink, nil, "", time.Minute, emitterLogger{})

	ctx := context.Background()
	entry := &Entry{AccessType: TypeSuccess, AuthenticationMethod: MethodCombined}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	e.syncOnce(ctx)

	unsynced, _ := repo.Unsynced(ctx, 10)
	if len(unsynced) != 1 {
		t.Errorf("unsynced = %d, want 1 while backend down", len(unsynced))
	}
}
