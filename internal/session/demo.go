package session

import (
	"context"

	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/face"
	"github.com/hgarg/doorlock-core/internal/hardware/fingerprint"
)

// Demo adapters stand in for absent hardware on bench setups. They are
// wired only when auth.demo_mode is set, and the daemon logs a
// prominent warning at startup. Never an automatic fallback: a missing
// sensor on a production unit fails the session instead of silently
// matching a fixed identity.

// demoSettleTicks is how many polls a demo adapter stays pending
// before producing its fixed result, roughly a second at 30 Hz.
const demoSettleTicks = 30

// DemoFace reports a fixed identity after a short pending phase.
type DemoFace struct {
	polls int
}

func (d *DemoFace) Poll(ctx context.Context) (face.Signal, face.MatchResult, error) {
	d.polls++
	if d.polls < demoSettleTicks {
		return face.SignalPending, face.MatchResult{}, nil
	}
	return face.SignalMatch, face.MatchResult{
		Name:     "demo-resident",
		Distance: 0.1,
		Matched:  true,
	}, nil
}

func (d *DemoFace) Reset() {
	d.polls = 0
}

// DemoFingerprint reports a fixed template match after a short pending
// phase.
type DemoFingerprint struct {
	polls int
}

func (d *DemoFingerprint) Poll() (fingerprint.Signal, fingerprint.Match, error) {
	d.polls++
	if d.polls < demoSettleTicks {
		return fingerprint.SignalPending, fingerprint.Match{}, nil
	}
	return fingerprint.SignalMatch, fingerprint.Match{TemplateID: 1, Score: 100}, nil
}

func (d *DemoFingerprint) Reset() {
	d.polls = 0
}

// DemoVerifier accepts any credential triple with a fixed user, for
// bench setups with no backend configured.
type DemoVerifier struct{}

func (DemoVerifier) VerifyUser(ctx context.Context, req backend.VerifyRequest) (*backend.User, error) {
	return &backend.User{
		UserID: "demo-user",
		Name:   "Demo Resident",
		Email:  "demo@example.invalid",
	}, nil
}

func (DemoVerifier) GenerateLinkPIN(ctx context.Context, userID string) (*backend.LinkPIN, error) {
	return &backend.LinkPIN{TempPIN: "0000", ExpiresAt: ""}, nil
}
