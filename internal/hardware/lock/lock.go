// Package lock drives the deadbolt servo.
//
// The servo expects a 50Hz PWM signal where pulse width selects the
// horn position. Two positions matter: fully locked and fully unlocked.
// An unlock is always a complete cycle (unlock, hold, relock) so the
// door can never be left open by a crashed caller; the relock runs even
// when the context is cancelled mid-hold.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hgarg/doorlock-core/internal/hardware/gpio"
	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

// servoPeriodNs is the 50Hz servo frame period.
const servoPeriodNs = 20000000

// State of the physical lock.
type State string

// Lock states.
const (
	StateLocked   State = "locked"
	StateUnlocked State = "unlocked"
)

// ErrCycleInProgress is returned when Cycle is called while a previous
// cycle has not finished. The lock never interleaves actuations.
var ErrCycleInProgress = errors.New("lock: cycle already in progress")

// Actuator is the interface the sequencer drives.
//
// Cycle performs a full unlock-hold-relock pass and blocks until the
// bolt is locked again. Callers run it in a goroutine; State and the
// OnState callback provide progress without blocking.
type Actuator interface {
	Cycle(ctx context.Context) error
	State() State
	Close() error
}

// Logger is the narrow logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Servo actuates the deadbolt through a hardware PWM channel.
type Servo struct {
	pwm *gpio.PWM
	cfg config.LockConfig
	log Logger

	mu      sync.Mutex
	state   State
	busy    bool
	onState func(State)
}

// NewServo opens the PWM channel and drives the bolt to the locked
// position so the daemon always starts from a known state.
func NewServo(cfg config.LockConfig, log Logger) (*Servo, error) {
	pwm, err := gpio.OpenPWM(cfg.PWMChip, cfg.PWMChannel)
	if err != nil {
		return nil, fmt.Errorf("lock: open pwm: %w", err)
	}

	if err := pwm.SetPeriod(servoPeriodNs); err != nil {
		pwm.Close()
		return nil, err
	}

	s := &Servo{pwm: pwm, cfg: cfg, log: log, state: StateLocked}
	if err := s.move(cfg.LockedPulseNs); err != nil {
		pwm.Close()
		return nil, err
	}
	// Let the horn reach the locked position, then stop holding so the
	// servo does not buzz against the bolt.
	time.Sleep(time.Duration(cfg.SettleSeconds) * time.Second)
	_ = pwm.Disable()

	return s, nil
}

// SetOnState registers a callback invoked on every state change.
// Used to publish retained lock state over MQTT.
func (s *Servo) SetOnState(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the current bolt position.
func (s *Servo) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cycle unlocks the door, holds it open for the configured duration,
// and locks it again.
//
// Cancelling the context shortens the hold but never skips the relock.
// Returns ErrCycleInProgress if another cycle is still running.
func (s *Servo) Cycle(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrCycleInProgress
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	if err := s.move(s.cfg.UnlockedPulseNs); err != nil {
		return err
	}
	s.setState(StateUnlocked)
	s.log.Info("door unlocked", "hold_seconds", s.cfg.HoldSeconds)

	select {
	case <-time.After(time.Duration(s.cfg.HoldSeconds) * time.Second):
	case <-ctx.Done():
		s.log.Warn("unlock hold cut short", "reason", ctx.Err())
	}

	if err := s.move(s.cfg.LockedPulseNs); err != nil {
		// Bolt position is unknown; keep reporting unlocked so the
		// fault is visible.
		return fmt.Errorf("lock: relock failed: %w", err)
	}
	time.Sleep(time.Duration(s.cfg.SettleSeconds) * time.Second)
	_ = s.pwm.Disable()

	s.setState(StateLocked)
	s.log.Info("door locked")
	return nil
}

// move drives the servo to the given pulse width and enables output.
func (s *Servo) move(pulseNs int) error {
	if err := s.pwm.SetDutyCycle(pulseNs); err != nil {
		return err
	}
	return s.pwm.Enable()
}

// setState updates the state and fires the callback outside the lock.
func (s *Servo) setState(state State) {
	s.mu.Lock()
	s.state = state
	fn := s.onState
	s.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

// Close drives the bolt to the locked position and releases the PWM channel.
func (s *Servo) Close() error {
	_ = s.move(s.cfg.LockedPulseNs)
	time.Sleep(time.Duration(s.cfg.SettleSeconds) * time.Second)
	return s.pwm.Close()
}
