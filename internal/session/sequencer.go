package session

import (
	"context"
	"errors"
	"time"

	"github.com/hgarg/doorlock-core/internal/accesslog"
	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/face"
	"github.com/hgarg/doorlock-core/internal/hardware/fingerprint"
	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
	"github.com/hgarg/doorlock-core/internal/lease"
)

// FaceScanner polls the camera-and-encoder pipeline for an identity.
type FaceScanner interface {
	Poll(ctx context.Context) (face.Signal, face.MatchResult, error)
	Reset()
}

// FingerprintScanner polls the sensor's capture-convert-search sequence.
type FingerprintScanner interface {
	Poll() (fingerprint.Signal, fingerprint.Match, error)
	Reset()
}

// Verifier is the remote credential check plus link-PIN issuance.
type Verifier interface {
	VerifyUser(ctx context.Context, req backend.VerifyRequest) (*backend.User, error)
	GenerateLinkPIN(ctx context.Context, userID string) (*backend.LinkPIN, error)
}

// LockCycler runs one unlock-hold-relock cycle.
type LockCycler interface {
	Cycle(ctx context.Context) error
}

// Recorder appends an access log entry. Best effort from the
// sequencer's point of view.
type Recorder interface {
	Record(ctx context.Context, entry *accesslog.Entry) error
}

// Logger is the narrow logging surface the sequencer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Policy holds the sequence's timeout and retry budgets.
type Policy struct {
	CodeLength                int
	FaceWindow                time.Duration
	FingerprintAttemptTimeout time.Duration
	FingerprintMaxAttempts    int

	// CodeEntryWindow bounds how long a session may sit without a code.
	// Zero leaves entry unlimited.
	CodeEntryWindow time.Duration
}

// PolicyFromConfig converts the auth config section's second-granular
// fields into durations.
func PolicyFromConfig(cfg config.AuthConfig) Policy {
	return Policy{
		CodeLength:                cfg.CodeLength,
		FaceWindow:                time.Duration(cfg.FaceWindow) * time.Second,
		FingerprintAttemptTimeout: time.Duration(cfg.FingerprintAttemptTimeout) * time.Second,
		FingerprintMaxAttempts:    cfg.FingerprintMaxAttempts,
		CodeEntryWindow:           cfg.CodeEntryDuration(),
	}
}

// Deps carries the sequencer's collaborators. Recorder may be nil.
type Deps struct {
	Leases      *lease.Manager
	Face        FaceScanner
	Fingerprint FingerprintScanner
	Verifier    Verifier
	Lock        LockCycler
	Recorder    Recorder
	Policy      Policy
	Logger      Logger
}

// Sequencer advances sessions through the authentication sequence, one
// non-blocking increment per call.
type Sequencer struct {
	leases   *lease.Manager
	face     FaceScanner
	finger   FingerprintScanner
	verifier Verifier
	lock     LockCycler
	recorder Recorder
	policy   Policy
	log      Logger
}

// NewSequencer builds a sequencer from its dependencies.
func NewSequencer(deps Deps) *Sequencer {
	return &Sequencer{
		leases:   deps.Leases,
		face:     deps.Face,
		finger:   deps.Fingerprint,
		verifier: deps.Verifier,
		lock:     deps.Lock,
		recorder: deps.Recorder,
		policy:   deps.Policy,
		log:      deps.Logger,
	}
}

// SubmitCode validates and records the session's code. The code is
// immutable once accepted; validation failures leave the session in
// AwaitingCode for another try.
func (q *Sequencer) SubmitCode(s *Session, code string) error {
	if s.Terminal() {
		return ErrSessionTerminal
	}
	if s.Code != "" {
		return ErrCodeAlreadySet
	}
	if len(code) != q.policy.CodeLength {
		return ErrInvalidCode
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return ErrInvalidCode
		}
	}
	s.Code = code
	return nil
}

// Advance makes at most one increment of progress.
//
// Returns:
//   - bool: true when observable session state changed this tick
func (q *Sequencer) Advance(ctx context.Context, s *Session, now time.Time) bool {
	if s == nil || s.Terminal() {
		return false
	}

	if s.cancelled {
		q.fail(ctx, s, ReasonCancelled, now)
		return true
	}

	switch s.Step {
	case StepAwaitingCode:
		return q.advanceAwaitingCode(ctx, s, now)
	case StepFaceScan:
		return q.advanceFaceScan(ctx, s, now)
	case StepFingerprintScan:
		return q.advanceFingerprintScan(ctx, s, now)
	case StepRemoteVerify:
		return q.advanceRemoteVerify(ctx, s, now)
	case StepActuating:
		return q.advanceActuating(ctx, s, now)
	default:
		return false
	}
}

func (q *Sequencer) advanceAwaitingCode(ctx context.Context, s *Session, now time.Time) bool {
	if s.Code == "" {
		// An abandoned session at the door expires like a walk-away.
		if q.policy.CodeEntryWindow > 0 && now.Sub(s.StartedAt) >= q.policy.CodeEntryWindow {
			q.fail(ctx, s, ReasonCancelled, now)
			return true
		}
		return false
	}

	l, err := q.leases.TryAcquire(lease.Camera, s.ID)
	if err != nil {
		if errors.Is(err, lease.ErrBusy) {
			// Contention is transient; try again next tick.
			q.log.Debug("camera busy", "session", s.ID, "holder", q.leases.Holder(lease.Camera))
			return false
		}
		q.fail(ctx, s, ReasonResourceUnavailable, now)
		return true
	}
	s.cameraLease = l
	q.face.Reset()
	q.enterStep(s, StepFaceScan, now, q.policy.FaceWindow)
	return true
}

func (q *Sequencer) advanceFaceScan(ctx context.Context, s *Session, now time.Time) bool {
	if s.FaceName == "" {
		if now.After(s.StepDeadline) {
			q.fail(ctx, s, ReasonFaceTimeout, now)
			return true
		}

		sig, match, err := q.face.Poll(ctx)
		switch sig {
		case face.SignalMatch:
			s.FaceName = match.Name
			s.FaceDistance = match.Distance
			s.cameraLease.Release()
			s.cameraLease = nil
			q.log.Info("face matched",
				"session", s.ID,
				"name", match.Name,
				"distance", match.Distance,
			)
			// Fall through to sensor acquisition below.
		case face.SignalNoMatch:
			// A stranger in frame is not terminal; the window keeps
			// re-evaluating every tick. The session only carries the
			// distance of a match, so a no-match poll changes nothing.
			q.log.Debug("face below threshold",
				"session", s.ID,
				"distance", match.Distance,
			)
			return false
		case face.SignalError:
			q.log.Warn("face capture failed", "session", s.ID, "error", err)
			q.fail(ctx, s, ReasonResourceUnavailable, now)
			return true
		default:
			return false
		}
	}

	// The camera is released before the sensor is requested; the two
	// are never held together.
	l, err := q.leases.TryAcquire(lease.FingerprintSensor, s.ID)
	if err != nil {
		if errors.Is(err, lease.ErrBusy) {
			if now.After(s.StepDeadline) {
				q.fail(ctx, s, ReasonResourceUnavailable, now)
				return true
			}
			return false
		}
		q.fail(ctx, s, ReasonResourceUnavailable, now)
		return true
	}
	s.fingerLease = l
	s.FingerprintAttempts = 0
	q.finger.Reset()
	q.enterStep(s, StepFingerprintScan, now, q.policy.FingerprintAttemptTimeout)
	return true
}

func (q *Sequencer) advanceFingerprintScan(ctx context.Context, s *Session, now time.Time) bool {
	sig, match, err := q.finger.Poll()
	switch sig {
	case fingerprint.SignalMatch:
		s.FingerprintID = match.TemplateID
		s.FingerprintScore = match.Score
		q.finger.Reset()
		s.fingerLease.Release()
		s.fingerLease = nil
		q.log.Info("fingerprint matched",
			"session", s.ID,
			"template_id", match.TemplateID,
			"score", match.Score,
		)
		q.enterStep(s, StepRemoteVerify, now, 0)
		return true
	case fingerprint.SignalNoMatch:
		return q.fingerprintAttemptFailed(ctx, s, now, "mismatch")
	case fingerprint.SignalError:
		q.log.Warn("fingerprint sensor error", "session", s.ID, "error", err)
		q.fail(ctx, s, ReasonResourceUnavailable, now)
		return true
	default:
		if now.After(s.StepDeadline) {
			return q.fingerprintAttemptFailed(ctx, s, now, "timeout")
		}
		return false
	}
}

func (q *Sequencer) fingerprintAttemptFailed(ctx context.Context, s *Session, now time.Time, cause string) bool {
	s.FingerprintAttempts++
	if s.FingerprintAttempts >= q.policy.FingerprintMaxAttempts {
		q.fail(ctx, s, ReasonFingerprintExhausted, now)
		return true
	}

	q.log.Debug("fingerprint attempt failed",
		"session", s.ID,
		"cause", cause,
		"attempt", s.FingerprintAttempts,
	)
	q.finger.Reset()
	s.StepDeadline = now.Add(q.policy.FingerprintAttemptTimeout)
	return true
}

// advanceRemoteVerify issues the session's single blocking call,
// bounded by the backend client's request timeout.
func (q *Sequencer) advanceRemoteVerify(ctx context.Context, s *Session, now time.Time) bool {
	req := backend.VerifyRequest{
		PinCode:       s.Code,
		FingerprintID: s.FingerprintID,
		FaceMatch:     s.FaceName,
	}

	user, err := q.verifier.VerifyUser(ctx, req)
	switch {
	case err == nil:
		s.User = user
	case errors.Is(err, backend.ErrRejected):
		q.fail(ctx, s, ReasonCredentialsRejected, now)
		return true
	default:
		q.log.Warn("verification service unreachable", "session", s.ID, "error", err)
		q.fail(ctx, s, ReasonRemoteUnavailable, now)
		return true
	}

	if s.Action == ActionLinkAccount {
		pin, err := q.verifier.GenerateLinkPIN(ctx, s.User.UserID)
		if err != nil {
			q.log.Warn("link PIN request failed", "session", s.ID, "error", err)
			q.fail(ctx, s, ReasonRemoteUnavailable, now)
			return true
		}
		s.LinkPIN = pin.TempPIN
		q.complete(ctx, s, now)
		return true
	}

	q.enterStep(s, StepActuating, now, 0)
	return true
}

// advanceActuating fires the lock cycle exactly once and completes.
// Mechanical errors are logged, never session-failing: the
// authentication decision already succeeded.
func (q *Sequencer) advanceActuating(ctx context.Context, s *Session, now time.Time) bool {
	id := s.ID
	go func() {
		if err := q.lock.Cycle(ctx); err != nil {
			q.log.Error("lock cycle failed", "session", id, "error", err)
		}
	}()

	q.complete(ctx, s, now)
	return true
}

func (q *Sequencer) enterStep(s *Session, step Step, now time.Time, window time.Duration) {
	s.Step = step
	s.StepEnteredAt = now
	if window > 0 {
		s.StepDeadline = now.Add(window)
	} else {
		s.StepDeadline = time.Time{}
	}
}

func (q *Sequencer) complete(ctx context.Context, s *Session, now time.Time) {
	q.releaseAll(s)
	s.Step = StepCompleted
	s.StepEnteredAt = now
	q.log.Info("session completed",
		"session", s.ID,
		"action", s.Action,
		"duration", now.Sub(s.StartedAt),
	)
	q.record(ctx, s)
}

func (q *Sequencer) fail(ctx context.Context, s *Session, reason Reason, now time.Time) {
	q.releaseAll(s)
	q.face.Reset()
	q.finger.Reset()
	s.Step = StepFailed
	s.Reason = reason
	s.StepEnteredAt = now
	q.log.Info("session failed",
		"session", s.ID,
		"action", s.Action,
		"reason", reason,
	)
	q.record(ctx, s)
}

func (q *Sequencer) releaseAll(s *Session) {
	q.leases.ReleaseAll(s.ID)
	s.cameraLease = nil
	s.fingerLease = nil
	s.keypadLease = nil
}

// record maps the terminal state to an access log entry. Cancelled
// sessions are not access decisions and leave no record.
func (q *Sequencer) record(ctx context.Context, s *Session) {
	if q.recorder == nil {
		return
	}

	entry := &accesslog.Entry{}

	switch {
	case s.Step == StepCompleted:
		entry.AccessType = accesslog.TypeSuccess
		entry.AuthenticationMethod = accesslog.MethodCombined
		if s.User != nil {
			entry.UserID = s.User.UserID
		}
		score := float64(s.FingerprintScore)
		entry.ConfidenceScore = &score
		if s.Action == ActionLinkAccount {
			entry.Notes = "telegram link PIN issued"
		}
	case s.Reason == ReasonCancelled:
		return
	case s.Reason == ReasonFaceTimeout:
		entry.AccessType = accesslog.TypeFailedFace
		entry.AuthenticationMethod = accesslog.MethodFace
	case s.Reason == ReasonFingerprintExhausted:
		entry.AccessType = accesslog.TypeFailedFingerprint
		entry.AuthenticationMethod = accesslog.MethodFingerprint
	case s.Reason == ReasonCredentialsRejected:
		entry.AccessType = accesslog.TypeFailedCombined
		entry.AuthenticationMethod = accesslog.MethodCombined
	case s.Reason == ReasonRemoteUnavailable:
		entry.AccessType = accesslog.TypeFailedCombined
		entry.AuthenticationMethod = accesslog.MethodCombined
		entry.Notes = "verification service unreachable"
	default:
		entry.AccessType = accesslog.TypeFailedCombined
		entry.AuthenticationMethod = accesslog.MethodCombined
		entry.Notes = "hardware unavailable"
	}

	if err := q.recorder.Record(ctx, entry); err != nil {
		q.log.Error("access log write failed", "session", s.ID, "error", err)
	}
}
