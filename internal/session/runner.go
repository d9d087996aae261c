package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hgarg/doorlock-core/internal/hardware/keypad"
	"github.com/hgarg/doorlock-core/internal/infrastructure/influxdb"
	"github.com/hgarg/doorlock-core/internal/lease"
)

// KeyPoller is the debounced keypad surface the runner consumes.
type KeyPoller interface {
	Poll(now time.Time) (key rune, ok bool, err error)
}

// StatePublisher pushes session state to the MQTT broker. Retained so
// a reconnecting panel sees the current state immediately.
type StatePublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Snapshot is the externally visible view of a session, serialized to
// the panel API, the websocket stream, and the MQTT state topic.
type Snapshot struct {
	ID                  string    `json:"id"`
	Action              Action    `json:"action"`
	Step                Step      `json:"step"`
	Reason              Reason    `json:"reason,omitempty"`
	CodeDigits          int       `json:"code_digits"`
	FaceName            string    `json:"face_match,omitempty"`
	FingerprintAttempts int       `json:"fingerprint_attempts"`
	LinkPIN             string    `json:"link_pin,omitempty"`
	UserName            string    `json:"user_name,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// RunnerDeps carries the runner's collaborators. Keypad, publisher,
// metrics, and OnState may be nil or disabled.
type RunnerDeps struct {
	Sequencer *Sequencer
	Leases    *lease.Manager
	Keypad    KeyPoller
	Publisher StatePublisher
	Topic     string
	Metrics   *influxdb.Client
	TickRate  int
	Logger    Logger

	// OnState is invoked after every observable state change, outside
	// the runner's lock. The websocket hub hangs off this.
	OnState func(Snapshot)
}

// Runner owns the tick loop. It is the sole caller of Advance; all
// public methods funnel through one mutex so session state only ever
// changes under tick-loop discipline.
type Runner struct {
	seq     *Sequencer
	leases  *lease.Manager
	keys    KeyPoller
	pub     StatePublisher
	topic   string
	metrics *influxdb.Client
	tick    time.Duration
	log     Logger
	onState func(Snapshot)

	mu      sync.Mutex
	session *Session
	buffer  []rune
}

// NewRunner builds a runner. TickRate below 1 falls back to 30 Hz.
func NewRunner(deps RunnerDeps) *Runner {
	rate := deps.TickRate
	if rate < 1 {
		rate = 30
	}
	return &Runner{
		seq:     deps.Sequencer,
		leases:  deps.Leases,
		keys:    deps.Keypad,
		pub:     deps.Publisher,
		topic:   deps.Topic,
		metrics: deps.Metrics,
		tick:    time.Second / time.Duration(rate),
		log:     deps.Logger,
		onState: deps.OnState,
	}
}

// Start creates a fresh session for the given action. Fails when a
// non-terminal session exists or the keypad is leased elsewhere.
func (r *Runner) Start(action Action) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && !r.session.Terminal() {
		return Snapshot{}, ErrSessionActive
	}

	now := time.Now()
	s := NewSession(action, now)

	l, err := r.leases.TryAcquire(lease.Keypad, s.ID)
	if err != nil {
		return Snapshot{}, err
	}
	s.keypadLease = l

	r.session = s
	r.buffer = r.buffer[:0]
	r.log.Info("session started", "session", s.ID, "action", action)
	return r.snapshotLocked(now), nil
}

// SubmitCode feeds a code into the active session, for UIs without a
// physical keypad.
func (r *Runner) SubmitCode(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return ErrNoSession
	}
	return r.seq.SubmitCode(r.session, code)
}

// Cancel requests termination of the active session. Processed on the
// next tick; leases are released before the tick returns.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return ErrNoSession
	}
	if r.session.Terminal() {
		return ErrSessionTerminal
	}
	r.session.Cancel()
	return nil
}

// Current returns the active session's snapshot.
func (r *Runner) Current() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return Snapshot{}, false
	}
	return r.snapshotLocked(time.Now()), true
}

// Run drives the tick loop until the context ends. An in-flight
// session is cancelled and given one final tick so its leases release.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.log.Info("sequencer loop running", "tick", r.tick)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case now := <-ticker.C:
			r.step(ctx, now)
		}
	}
}

// step executes one tick.
func (r *Runner) step(ctx context.Context, now time.Time) {
	r.mu.Lock()

	s := r.session
	if s == nil {
		r.mu.Unlock()
		return
	}

	r.pollKeypad(now)

	prevStep := s.Step
	entered := s.StepEnteredAt
	changed := r.seq.Advance(ctx, s, now)

	var snap Snapshot
	if changed {
		snap = r.snapshotLocked(now)
	}
	r.mu.Unlock()

	if !changed {
		return
	}

	if snap.Step != prevStep {
		r.recordStepMetrics(s, prevStep, now.Sub(entered))
	}
	r.publish(snap)
}

// pollKeypad consumes at most one debounced key per tick. Digits fill
// the code buffer, '*' clears it, '#' submits. Caller holds the lock.
func (r *Runner) pollKeypad(now time.Time) {
	s := r.session
	if r.keys == nil || s.Step != StepAwaitingCode || s.Code != "" {
		return
	}

	key, ok, err := r.keys.Poll(now)
	if err != nil {
		r.log.Warn("keypad scan failed", "error", err)
		return
	}
	if !ok {
		return
	}

	switch {
	case key == keypad.KeyClear:
		r.buffer = r.buffer[:0]
	case key == keypad.KeySubmit:
		if len(r.buffer) == 0 {
			return
		}
		code := string(r.buffer)
		r.buffer = r.buffer[:0]
		if err := r.seq.SubmitCode(s, code); err != nil {
			if errors.Is(err, ErrInvalidCode) {
				r.log.Debug("keypad code rejected", "digits", len(code))
				return
			}
			r.log.Warn("code submission failed", "error", err)
		}
	case key >= '0' && key <= '9':
		if len(r.buffer) < r.seq.policy.CodeLength {
			r.buffer = append(r.buffer, key)
		}
	default:
		// A-D function keys are unassigned.
	}
}

// shutdown cancels any live session so hardware leases release before
// the daemon exits.
func (r *Runner) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil || s.Terminal() {
		return
	}

	s.Cancel()
	r.seq.Advance(context.Background(), s, time.Now())
	r.log.Info("sequencer loop stopped", "session", s.ID)
}

func (r *Runner) snapshotLocked(now time.Time) Snapshot {
	s := r.session
	snap := Snapshot{
		ID:                  s.ID,
		Action:              s.Action,
		Step:                s.Step,
		Reason:              s.Reason,
		CodeDigits:          len(r.buffer),
		FaceName:            s.FaceName,
		FingerprintAttempts: s.FingerprintAttempts,
		LinkPIN:             s.LinkPIN,
		StartedAt:           s.StartedAt,
		UpdatedAt:           now,
	}
	if s.Code != "" {
		snap.CodeDigits = len(s.Code)
	}
	if s.User != nil {
		snap.UserName = s.User.Name
	}
	return snap
}

func (r *Runner) publish(snap Snapshot) {
	if r.onState != nil {
		r.onState(snap)
	}

	if r.pub == nil || r.topic == "" {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := r.pub.PublishRetained(r.topic, payload); err != nil {
		r.log.Debug("session state publish failed", "error", err)
	}
}

// recordStepMetrics writes per-step and terminal measurements. The
// influx client tolerates nil and disconnected states.
func (r *Runner) recordStepMetrics(s *Session, prev Step, dur time.Duration) {
	succeeded := s.Step != StepFailed
	r.metrics.WriteStepDuration(string(prev), dur, succeeded)

	switch prev {
	case StepFaceScan:
		r.metrics.WriteFaceDistance(s.FaceDistance, s.FaceName != "")
	case StepFingerprintScan:
		matched := s.FingerprintID >= 0
		attempts := s.FingerprintAttempts
		if matched {
			// Failed attempts plus the one that landed.
			attempts++
		}
		r.metrics.WriteFingerprintAttempts(attempts, matched)
	}

	if s.Terminal() {
		outcome := "completed"
		if s.Step == StepFailed {
			outcome = string(s.Reason)
		}
		r.metrics.WriteSessionOutcome(outcome, string(s.Action), time.Since(s.StartedAt))
	}
}
