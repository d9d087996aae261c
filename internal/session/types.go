package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/lease"
)

// Step is one stage of the authentication sequence.
type Step string

// Sequence steps. AwaitingCode is initial; Completed and Failed are
// terminal sinks.
const (
	StepAwaitingCode    Step = "awaiting_code"
	StepFaceScan        Step = "face_scan"
	StepFingerprintScan Step = "fingerprint_scan"
	StepRemoteVerify    Step = "remote_verify"
	StepActuating       Step = "actuating"
	StepCompleted       Step = "completed"
	StepFailed          Step = "failed"
)

// Reason explains a failed session. Each is user-visible; the panel
// shows it as a short message and offers a fresh session.
type Reason string

const (
	ReasonFaceTimeout          Reason = "face_timeout"
	ReasonFingerprintExhausted Reason = "fingerprint_exhausted"
	ReasonCredentialsRejected  Reason = "credentials_rejected"
	ReasonRemoteUnavailable    Reason = "remote_unavailable"
	ReasonCancelled            Reason = "cancelled"
	ReasonResourceUnavailable  Reason = "resource_unavailable"
)

// Action is what a successful session performs.
type Action string

const (
	// ActionUnlock runs the lock's unlock-hold-relock cycle.
	ActionUnlock Action = "unlock"

	// ActionLinkAccount issues a short-lived Telegram link PIN instead
	// of actuating. Same authentication sequence, different ending.
	ActionLinkAccount Action = "link_account"
)

// Session is one authentication attempt's mutable state. Only the
// Sequencer mutates it, and only from the Runner's tick loop.
type Session struct {
	ID     string
	Action Action
	Step   Step
	Reason Reason

	// Code is immutable once set; exactly four decimal digits.
	Code string

	FaceName     string
	FaceDistance float64

	// FingerprintID is the sensor's template slot, -1 until matched.
	FingerprintID       int
	FingerprintScore    int
	FingerprintAttempts int

	// StepDeadline bounds the current step. During the fingerprint step
	// it is the running attempt's deadline and resets per attempt.
	StepDeadline time.Time

	// User is set on remote accept.
	User *backend.User

	// LinkPIN is set for completed link sessions.
	LinkPIN string

	StartedAt     time.Time
	StepEnteredAt time.Time

	cancelled bool

	cameraLease *lease.Lease
	fingerLease *lease.Lease
	keypadLease *lease.Lease
}

// NewSession creates a session in AwaitingCode.
func NewSession(action Action, now time.Time) *Session {
	return &Session{
		ID:            "ses-" + uuid.NewString()[:8],
		Action:        action,
		Step:          StepAwaitingCode,
		FingerprintID: -1,
		StartedAt:     now,
		StepEnteredAt: now,
	}
}

// Terminal reports whether the session reached a sink state.
func (s *Session) Terminal() bool {
	return s.Step == StepCompleted || s.Step == StepFailed
}

// Cancel marks the session for termination. The Sequencer observes the
// flag on its next Advance, releases all leases, and fails the session
// with ReasonCancelled.
func (s *Session) Cancel() {
	s.cancelled = true
}
