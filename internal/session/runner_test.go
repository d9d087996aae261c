package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hgarg/doorlock-core/internal/face"
	"github.com/hgarg/doorlock-core/internal/hardware/fingerprint"
	"github.com/hgarg/doorlock-core/internal/lease"
)

// fakeKeys replays one key per poll.
type fakeKeys struct {
	script []rune
}

func (f *fakeKeys) Poll(now time.Time) (rune, bool, error) {
	if len(f.script) == 0 {
		return 0, false, nil
	}
	key := f.script[0]
	f.script = f.script[1:]
	return key, true, nil
}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
}

func (f *fakePublisher) PublishRetained(topic string, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func newTestRunner(h *harness, keys KeyPoller, pub StatePublisher, onState func(Snapshot)) *Runner {
	return NewRunner(RunnerDeps{
		Sequencer: h.seq,
		Leases:    h.leases,
		Keypad:    keys,
		Publisher: pub,
		Topic:     "doorlock/test/state/session",
		TickRate:  30,
		Logger:    testLogger{},
		OnState:   onState,
	})
}

func TestRunnerStartRejectsSecondSession(t *testing.T) {
	h := newHarness()
	r := newTestRunner(h, nil, nil, nil)

	snap, err := r.Start(ActionUnlock)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if snap.Step != StepAwaitingCode {
		t.Errorf("Step = %v, want awaiting_code", snap.Step)
	}
	if h.leases.Holder(lease.Keypad) != snap.ID {
		t.Error("keypad lease not held by new session")
	}

	if _, err := r.Start(ActionUnlock); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start() = %v, want ErrSessionActive", err)
	}
}

func TestRunnerStartReplacesTerminalSession(t *testing.T) {
	h := newHarness()
	r := newTestRunner(h, nil, nil, nil)

	first, err := r.Start(ActionUnlock)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	r.step(context.Background(), time.Now())

	snap, ok := r.Current()
	if !ok || snap.Step != StepFailed || snap.Reason != ReasonCancelled {
		t.Fatalf("snapshot = %+v, want failed/cancelled", snap)
	}
	if h.leases.IsHeld(lease.Keypad) {
		t.Error("keypad lease leaked after cancellation")
	}

	second, err := r.Start(ActionUnlock)
	if err != nil {
		t.Fatalf("Start() after terminal error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("new session reused old id")
	}
}

func TestRunnerCancelWithoutSession(t *testing.T) {
	h := newHarness()
	r := newTestRunner(h, nil, nil, nil)

	if err := r.Cancel(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Cancel() = %v, want ErrNoSession", err)
	}
	if err := r.SubmitCode("1234"); !errors.Is(err, ErrNoSession) {
		t.Errorf("SubmitCode() = %v, want ErrNoSession", err)
	}
}

func TestRunnerKeypadEntry(t *testing.T) {
	h := newHarness()
	h.face.script = []faceResult{
		{sig: face.SignalMatch, match: face.MatchResult{Name: "alice", Matched: true}},
	}
	keys := &fakeKeys{script: []rune{'1', '9', '*', '1', '2', '3', '4', '#'}}
	r := newTestRunner(h, keys, nil, nil)

	if _, err := r.Start(ActionUnlock); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := t0
	// Two digits, a clear, four digits. Still awaiting submission.
	for i := 0; i < 7; i++ {
		r.step(context.Background(), now)
		now = now.Add(33 * time.Millisecond)
	}
	snap, _ := r.Current()
	if snap.Step != StepAwaitingCode {
		t.Fatalf("Step = %v before submit, want awaiting_code", snap.Step)
	}
	if snap.CodeDigits != 4 {
		t.Errorf("CodeDigits = %d, want 4", snap.CodeDigits)
	}

	// Submit key lands the code; the same tick advances into face scan.
	r.step(context.Background(), now)
	snap, _ = r.Current()
	if snap.Step != StepFaceScan {
		t.Fatalf("Step = %v after submit, want face_scan", snap.Step)
	}

	r.mu.Lock()
	code := r.session.Code
	r.mu.Unlock()
	if code != "1234" {
		t.Errorf("Code = %q, want 1234 (clear key must drop prior digits)", code)
	}
}

func TestRunnerPublishesStateChanges(t *testing.T) {
	h := newHarness()
	pub := &fakePublisher{}
	var seen []Snapshot
	r := newTestRunner(h, nil, pub, func(s Snapshot) { seen = append(seen, s) })

	if _, err := r.Start(ActionUnlock); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.SubmitCode("1234"); err != nil {
		t.Fatalf("SubmitCode() error = %v", err)
	}

	r.step(context.Background(), t0)

	if len(pub.topics) != 1 || pub.topics[0] != "doorlock/test/state/session" {
		t.Fatalf("published topics = %v, want one session state publish", pub.topics)
	}
	var snap Snapshot
	if err := json.Unmarshal(pub.payloads[0], &snap); err != nil {
		t.Fatalf("payload decode error = %v", err)
	}
	if snap.Step != StepFaceScan {
		t.Errorf("published Step = %v, want face_scan", snap.Step)
	}
	if len(seen) != 1 || seen[0].Step != StepFaceScan {
		t.Errorf("OnState calls = %+v, want one face_scan snapshot", seen)
	}

	// Pending ticks publish nothing.
	r.step(context.Background(), t0.Add(33*time.Millisecond))
	if len(pub.topics) != 1 {
		t.Errorf("pending tick published %d messages", len(pub.topics)-1)
	}
}

func TestRunnerShutdownReleasesLeases(t *testing.T) {
	h := newHarness()
	r := newTestRunner(h, nil, nil, nil)

	if _, err := r.Start(ActionUnlock); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.SubmitCode("1234"); err != nil {
		t.Fatalf("SubmitCode() error = %v", err)
	}
	r.step(context.Background(), t0)
	if !h.leases.IsHeld(lease.Camera) {
		t.Fatal("camera lease expected during face scan")
	}

	r.shutdown()

	if h.leases.IsHeld(lease.Camera) || h.leases.IsHeld(lease.Keypad) {
		t.Error("leases leaked across shutdown")
	}
	snap, _ := r.Current()
	if snap.Step != StepFailed || snap.Reason != ReasonCancelled {
		t.Errorf("snapshot = %+v, want failed/cancelled", snap)
	}
}

func TestRunnerFullSequenceOverTicks(t *testing.T) {
	h := newHarness()
	h.face.script = []faceResult{
		{sig: face.SignalPending},
		{sig: face.SignalMatch, match: face.MatchResult{Name: "alice", Distance: 0.2, Matched: true}},
	}
	h.finger.script = []fingerResult{
		{sig: fingerprint.SignalMatch, match: fingerprint.Match{TemplateID: 7, Score: 96}},
	}
	r := newTestRunner(h, nil, nil, nil)

	if _, err := r.Start(ActionUnlock); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.SubmitCode("1234"); err != nil {
		t.Fatalf("SubmitCode() error = %v", err)
	}

	now := t0
	for i := 0; i < 10; i++ {
		r.step(context.Background(), now)
		now = now.Add(33 * time.Millisecond)
	}

	snap, _ := r.Current()
	if snap.Step != StepCompleted {
		t.Fatalf("Step = %v, want completed", snap.Step)
	}
	if snap.UserName != "Alice" {
		t.Errorf("UserName = %q, want Alice", snap.UserName)
	}
	waitForCycles(t, h.lock, 1)
}
