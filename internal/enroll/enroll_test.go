package enroll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/hardware/fingerprint"
	"github.com/hgarg/doorlock-core/internal/lease"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// fakeSensor replays scripted GetImage results and records protocol
// calls.
type fakeSensor struct {
	mu         sync.Mutex
	imageQueue []error
	convertErr error
	calls      []string
	storedSlot int
	count      int
}

func (f *fakeSensor) GetImage() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetImage")
	if len(f.imageQueue) == 0 {
		return fingerprint.ErrNoFinger
	}
	err := f.imageQueue[0]
	f.imageQueue = f.imageQueue[1:]
	return err
}

func (f *fakeSensor) Image2Tz(buffer byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Image2Tz")
	return f.convertErr
}

func (f *fakeSensor) RegModel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "RegModel")
	return nil
}

func (f *fakeSensor) Store(buffer byte, templateID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Store")
	f.storedSlot = templateID
	return nil
}

func (f *fakeSensor) TemplateCount() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

type fakeCamera struct {
	frame []byte
	err   error
}

func (f *fakeCamera) Capture(ctx context.Context) ([]byte, error) {
	return f.frame, f.err
}

type fakeRegistrar struct {
	mu        sync.Mutex
	addErr    error
	uploadErr error
	uploads   int
	retrained bool
	added     *backend.User
}

func (f *fakeRegistrar) AddUser(ctx context.Context, user backend.User) (*backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	created := user
	created.UserID = "u-new"
	f.added = &created
	return &created, nil
}

func (f *fakeRegistrar) UploadFaceImage(ctx context.Context, userID string, image []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads++
	return nil
}

func (f *fakeRegistrar) RetrainModel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrained = true
	return nil
}

func fastPacing(t *testing.T) {
	t.Helper()
	oldWindow, oldPoll, oldGap := touchWindow, touchPollInterval, faceSampleGap
	touchWindow = 500 * time.Millisecond
	touchPollInterval = 5 * time.Millisecond
	faceSampleGap = 5 * time.Millisecond
	t.Cleanup(func() {
		touchWindow, touchPollInterval, faceSampleGap = oldWindow, oldPoll, oldGap
	})
}

func waitForTerminal(t *testing.T, m *Manager) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.Status()
		if snap.Stage == StageCompleted || snap.Stage == StageFailed {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("enrolment never finished, stage = %v", m.Status().Stage)
	return Snapshot{}
}

func TestEnrolmentHappyPath(t *testing.T) {
	fastPacing(t)

	sensor := &fakeSensor{
		// First touch, finger lift, second touch.
		imageQueue: []error{fingerprint.ErrNoFinger, nil, fingerprint.ErrNoFinger, nil},
		count:      12,
	}
	reg := &fakeRegistrar{}
	leases := lease.NewManager()
	m := NewManager(sensor, &fakeCamera{frame: []byte{0xFF, 0xD8}}, reg, leases, testLogger{})

	snap, err := m.Start(context.Background(), Request{
		Name:    "Bea",
		Email:   "bea@example.com",
		PinCode: "4321",
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if snap.Stage != StageAwaitFirstTouch {
		t.Errorf("initial stage = %v, want await_first_touch", snap.Stage)
	}

	final := waitForTerminal(t, m)
	if final.Stage != StageCompleted {
		t.Fatalf("stage = %v (%s), want completed", final.Stage, final.Error)
	}
	if final.TemplateID != 12 {
		t.Errorf("TemplateID = %d, want 12 (next free slot)", final.TemplateID)
	}
	if final.UserID != "u-new" {
		t.Errorf("UserID = %q, want u-new", final.UserID)
	}
	if final.FaceSamples != faceSampleCount {
		t.Errorf("FaceSamples = %d, want %d", final.FaceSamples, faceSampleCount)
	}

	sensor.mu.Lock()
	if sensor.storedSlot != 12 {
		t.Errorf("stored slot = %d, want 12", sensor.storedSlot)
	}
	sensor.mu.Unlock()

	reg.mu.Lock()
	if reg.uploads != faceSampleCount {
		t.Errorf("uploads = %d, want %d", reg.uploads, faceSampleCount)
	}
	if !reg.retrained {
		t.Error("retrain never triggered")
	}
	if reg.added == nil || reg.added.FingerprintID == nil || *reg.added.FingerprintID != 12 {
		t.Errorf("added user = %+v, want fingerprint id 12", reg.added)
	}
	reg.mu.Unlock()

	if leases.IsHeld(lease.Camera) || leases.IsHeld(lease.FingerprintSensor) {
		t.Error("lease leaked after enrolment")
	}
}

func TestEnrolmentRejectsConcurrentStart(t *testing.T) {
	fastPacing(t)

	sensor := &fakeSensor{} // never a finger; stays waiting
	leases := lease.NewManager()
	m := NewManager(sensor, &fakeCamera{frame: []byte{1}}, &fakeRegistrar{}, leases, testLogger{})

	if _, err := m.Start(context.Background(), Request{Name: "Bea"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := m.Start(context.Background(), Request{Name: "Cal"}); !errors.Is(err, ErrEnrolmentActive) {
		t.Errorf("second Start() = %v, want ErrEnrolmentActive", err)
	}

	m.Cancel() //nolint:errcheck
	final := waitForTerminal(t, m)
	if final.Stage != StageFailed {
		t.Errorf("stage = %v after cancel, want failed", final.Stage)
	}
}

func TestEnrolmentTouchTimeout(t *testing.T) {
	fastPacing(t)

	sensor := &fakeSensor{} // never a finger
	leases := lease.NewManager()
	m := NewManager(sensor, &fakeCamera{frame: []byte{1}}, &fakeRegistrar{}, leases, testLogger{})

	if _, err := m.Start(context.Background(), Request{Name: "Bea"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	final := waitForTerminal(t, m)
	if final.Stage != StageFailed {
		t.Fatalf("stage = %v, want failed", final.Stage)
	}
	if leases.IsHeld(lease.FingerprintSensor) {
		t.Error("sensor lease leaked after timeout")
	}
}

func TestEnrolmentUploadFailure(t *testing.T) {
	fastPacing(t)

	sensor := &fakeSensor{
		imageQueue: []error{nil, fingerprint.ErrNoFinger, nil},
	}
	reg := &fakeRegistrar{uploadErr: backend.ErrUnavailable}
	leases := lease.NewManager()
	m := NewManager(sensor, &fakeCamera{frame: []byte{1}}, reg, leases, testLogger{})

	if _, err := m.Start(context.Background(), Request{Name: "Bea"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	final := waitForTerminal(t, m)
	if final.Stage != StageFailed {
		t.Fatalf("stage = %v, want failed", final.Stage)
	}
	if final.Error == "" {
		t.Error("failed snapshot carries no error message")
	}
	if leases.IsHeld(lease.Camera) {
		t.Error("camera lease leaked after failure")
	}
}
