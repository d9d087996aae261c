package lock

import (
	"context"
	"sync"
	"time"
)

// Demo is an Actuator with no hardware behind it.
//
// Used when demo mode is explicitly enabled in config, typically for
// bench development away from the Pi. Every cycle is logged loudly so
// a misconfigured production unit is obvious.
type Demo struct {
	hold time.Duration
	log  Logger

	mu    sync.Mutex
	state State
	busy  bool
}

// NewDemo returns a demo actuator that simulates the configured hold time.
func NewDemo(holdSeconds int, log Logger) *Demo {
	return &Demo{
		hold:  time.Duration(holdSeconds) * time.Second,
		log:   log,
		state: StateLocked,
	}
}

// Cycle simulates an unlock-hold-relock pass.
func (d *Demo) Cycle(ctx context.Context) error {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return ErrCycleInProgress
	}
	d.busy = true
	d.state = StateUnlocked
	d.mu.Unlock()

	d.log.Warn("DEMO MODE: simulated unlock, no servo driven")

	select {
	case <-time.After(d.hold):
	case <-ctx.Done():
	}

	d.mu.Lock()
	d.state = StateLocked
	d.busy = false
	d.mu.Unlock()

	d.log.Warn("DEMO MODE: simulated relock")
	return nil
}

// State returns the simulated bolt position.
func (d *Demo) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Close is a no-op for the demo actuator.
func (d *Demo) Close() error {
	return nil
}
