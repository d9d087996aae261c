// Package enroll registers a new user: a two-pass fingerprint template
// stored on the sensor, a set of face samples uploaded for the next
// model training run, and the user record created on the backend.
//
// Enrolment is an attended admin flow, so it runs as one worker
// goroutine with per-stage deadlines rather than inside the
// authentication tick loop. It still goes through the lease manager and
// holds the fingerprint sensor and the camera in separate stages, never
// together.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/hardware/camera"
	"github.com/hgarg/doorlock-core/internal/hardware/fingerprint"
	"github.com/hgarg/doorlock-core/internal/lease"
)

// Stage is one phase of the enrolment flow.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageAwaitFirstTouch   Stage = "await_first_touch"
	StageAwaitFingerLift   Stage = "await_finger_lift"
	StageAwaitSecondTouch  Stage = "await_second_touch"
	StageStoringTemplate   Stage = "storing_template"
	StageCapturingFace     Stage = "capturing_face"
	StageRegisteringUser   Stage = "registering_user"
	StageTriggeringRetrain Stage = "triggering_retrain"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

var (
	// ErrEnrolmentActive means an enrolment is already in progress.
	ErrEnrolmentActive = errors.New("enroll: enrolment already in progress")

	// ErrTouchTimeout means the user never presented a finger within a
	// stage's window.
	ErrTouchTimeout = errors.New("enroll: timed out waiting for finger")

	// ErrCancelled means the enrolment was cancelled.
	ErrCancelled = errors.New("enroll: cancelled")
)

// faceSampleCount is how many frames are uploaded per user.
const faceSampleCount = 5

// Stage pacing. Vars so tests can shrink the waits.
var (
	// touchWindow bounds each wait-for-finger stage.
	touchWindow = 30 * time.Second

	// touchPollInterval paces sensor polls between touches.
	touchPollInterval = 200 * time.Millisecond

	// faceSampleGap spaces captures so samples vary slightly.
	faceSampleGap = 500 * time.Millisecond

	// leaseWindow bounds waiting for a busy resource before giving up.
	leaseWindow = 10 * time.Second
)

// Sensor is the slice of the fingerprint module enrolment drives.
type Sensor interface {
	GetImage() error
	Image2Tz(buffer byte) error
	RegModel() error
	Store(buffer byte, templateID int) error
	TemplateCount() (int, error)
}

// Registrar is the backend surface enrolment needs.
type Registrar interface {
	AddUser(ctx context.Context, user backend.User) (*backend.User, error)
	UploadFaceImage(ctx context.Context, userID string, image []byte) error
	RetrainModel(ctx context.Context) error
}

// Logger is the narrow logging surface for this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Request describes the user being enrolled.
type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	PinCode string `json:"pin_code"`
}

// Snapshot is the externally visible enrolment state.
type Snapshot struct {
	ID          string `json:"id"`
	Stage       Stage  `json:"stage"`
	UserName    string `json:"user_name,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	TemplateID  int    `json:"template_id"`
	FaceSamples int    `json:"face_samples"`
	Error       string `json:"error,omitempty"`
}

// Manager runs at most one enrolment at a time.
type Manager struct {
	sensor    Sensor
	camera    camera.Device
	registrar Registrar
	leases    *lease.Manager
	log       Logger

	mu      sync.Mutex
	snap    Snapshot
	cancel  context.CancelFunc
	running bool
	onState func(Snapshot)
}

// NewManager builds an enrolment manager.
func NewManager(sensor Sensor, cam camera.Device, registrar Registrar, leases *lease.Manager, log Logger) *Manager {
	return &Manager{
		sensor:    sensor,
		camera:    cam,
		registrar: registrar,
		leases:    leases,
		log:       log,
		snap:      Snapshot{Stage: StageIdle, TemplateID: -1},
	}
}

// Start begins an enrolment. Fails fast when one is already running.
func (m *Manager) Start(ctx context.Context, req Request) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return Snapshot{}, ErrEnrolmentActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.snap = Snapshot{
		ID:         "enr-" + uuid.NewString()[:8],
		Stage:      StageAwaitFirstTouch,
		UserName:   req.Name,
		TemplateID: -1,
	}

	m.log.Info("enrolment started", "enrolment", m.snap.ID, "name", req.Name)
	go m.run(runCtx, req, m.snap.ID)

	return m.snap, nil
}

// SetOnState registers a callback invoked after every snapshot change.
// Set before Start; the websocket state stream hangs off this.
func (m *Manager) SetOnState(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// Cancel aborts the running enrolment, if any.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrCancelled
	}
	m.cancel()
	return nil
}

// Status returns the current enrolment snapshot.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Manager) run(ctx context.Context, req Request, id string) {
	owner := id
	defer func() {
		m.leases.ReleaseAll(owner)
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	templateID, err := m.enrolFingerprint(ctx, owner)
	if err != nil {
		m.failed(id, err)
		return
	}

	frames, err := m.captureFaceSamples(ctx, owner)
	if err != nil {
		m.failed(id, err)
		return
	}

	m.setStage(id, StageRegisteringUser)
	user, err := m.registrar.AddUser(ctx, backend.User{
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		PinCode:       req.PinCode,
		FingerprintID: &templateID,
	})
	if err != nil {
		m.failed(id, fmt.Errorf("creating user: %w", err))
		return
	}
	m.setUser(id, user.UserID)

	for _, frame := range frames {
		if err := m.registrar.UploadFaceImage(ctx, user.UserID, frame); err != nil {
			m.failed(id, fmt.Errorf("uploading face sample: %w", err))
			return
		}
	}

	m.setStage(id, StageTriggeringRetrain)
	if err := m.registrar.RetrainModel(ctx); err != nil {
		// The user exists and samples are uploaded; the next retrain
		// picks them up. Not worth failing the whole enrolment.
		m.log.Warn("retrain trigger failed", "enrolment", id, "error", err)
	}

	m.setStage(id, StageCompleted)
	m.log.Info("enrolment completed",
		"enrolment", id,
		"user", user.UserID,
		"template_id", templateID,
	)
}

// enrolFingerprint captures the same finger twice, merges the passes,
// and stores the template in the next free slot.
func (m *Manager) enrolFingerprint(ctx context.Context, owner string) (int, error) {
	l, err := m.acquire(ctx, lease.FingerprintSensor, owner)
	if err != nil {
		return -1, err
	}
	defer l.Release()

	m.setStage(owner, StageAwaitFirstTouch)
	if err := m.waitForTouch(ctx, true); err != nil {
		return -1, err
	}
	if err := m.sensor.Image2Tz(fingerprint.BufferOne); err != nil {
		return -1, fmt.Errorf("first pass: %w", err)
	}

	m.setStage(owner, StageAwaitFingerLift)
	if err := m.waitForTouch(ctx, false); err != nil {
		return -1, err
	}

	m.setStage(owner, StageAwaitSecondTouch)
	if err := m.waitForTouch(ctx, true); err != nil {
		return -1, err
	}
	if err := m.sensor.Image2Tz(fingerprint.BufferTwo); err != nil {
		return -1, fmt.Errorf("second pass: %w", err)
	}

	m.setStage(owner, StageStoringTemplate)
	if err := m.sensor.RegModel(); err != nil {
		return -1, fmt.Errorf("combining passes: %w", err)
	}

	slot, err := m.sensor.TemplateCount()
	if err != nil {
		return -1, fmt.Errorf("finding free slot: %w", err)
	}
	if err := m.sensor.Store(fingerprint.BufferOne, slot); err != nil {
		return -1, fmt.Errorf("storing template: %w", err)
	}

	m.setTemplate(owner, slot)
	return slot, nil
}

// waitForTouch polls the sensor until a finger is present (or absent,
// for the lift between passes), bounded by the touch window.
func (m *Manager) waitForTouch(ctx context.Context, present bool) error {
	deadline := time.Now().Add(touchWindow)
	ticker := time.NewTicker(touchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return ErrTouchTimeout
		}

		err := m.sensor.GetImage()
		switch {
		case present && err == nil:
			return nil
		case !present && errors.Is(err, fingerprint.ErrNoFinger):
			return nil
		case err != nil && !errors.Is(err, fingerprint.ErrNoFinger) && !errors.Is(err, fingerprint.ErrImageFail):
			return fmt.Errorf("sensor poll: %w", err)
		}
	}
}

// captureFaceSamples takes a handful of frames through the camera
// lease. The sensor lease is already released by the time this runs.
func (m *Manager) captureFaceSamples(ctx context.Context, owner string) ([][]byte, error) {
	l, err := m.acquire(ctx, lease.Camera, owner)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	m.setStage(owner, StageCapturingFace)

	frames := make([][]byte, 0, faceSampleCount)
	for i := 0; i < faceSampleCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ErrCancelled
			case <-time.After(faceSampleGap):
			}
		}

		frame, err := m.camera.Capture(ctx)
		if err != nil {
			return nil, fmt.Errorf("capturing sample %d: %w", i+1, err)
		}
		frames = append(frames, frame)
		m.setSamples(owner, len(frames))
	}
	return frames, nil
}

// acquire retries a busy resource briefly before giving up.
func (m *Manager) acquire(ctx context.Context, res lease.Resource, owner string) (*lease.Lease, error) {
	deadline := time.Now().Add(leaseWindow)
	for {
		l, err := m.leases.TryAcquire(res, owner)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, lease.ErrBusy) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held by %s", lease.ErrBusy, res, m.leases.Holder(res))
		}

		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-time.After(touchPollInterval):
		}
	}
}

func (m *Manager) setStage(id string, stage Stage) {
	m.mu.Lock()
	if m.snap.ID == id {
		m.snap.Stage = stage
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) setTemplate(id string, templateID int) {
	m.mu.Lock()
	if m.snap.ID == id {
		m.snap.TemplateID = templateID
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) setSamples(id string, n int) {
	m.mu.Lock()
	if m.snap.ID == id {
		m.snap.FaceSamples = n
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) setUser(id, userID string) {
	m.mu.Lock()
	if m.snap.ID == id {
		m.snap.UserID = userID
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) failed(id string, err error) {
	m.mu.Lock()
	if m.snap.ID == id {
		m.snap.Stage = StageFailed
		m.snap.Error = err.Error()
	}
	m.mu.Unlock()
	m.log.Warn("enrolment failed", "enrolment", id, "error", err)
	m.notify()
}

// notify invokes the state callback, if set, with a copy of the
// current snapshot. Called outside the lock so the callback may read
// Status() freely.
func (m *Manager) notify() {
	m.mu.Lock()
	snap, fn := m.snap, m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
