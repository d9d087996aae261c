package face

import (
	"context"
	"errors"
	"sync"

	"github.com/hgarg/doorlock-core/internal/hardware/camera"
)

// Signal is the adapter's report for one poll.
type Signal int

// Poll outcomes.
const (
	// SignalPending means a frame is still being captured or encoded.
	SignalPending Signal = iota
	// SignalMatch means a known identity was found. The MatchResult is valid.
	SignalMatch
	// SignalNoMatch means the frame held a face nobody recognised.
	SignalNoMatch
	// SignalError means the capability failed (camera or encoder down).
	SignalError
)

// frameEncoder is the slice of Encoder the adapter needs.
type frameEncoder interface {
	Encode(ctx context.Context, frame []byte) ([]float64, error)
}

// Scan captures frames and classifies them without blocking the caller.
//
// A capture-and-encode job takes on the order of a second, far longer
// than one tick, so Poll starts the job in a goroutine and reports
// Pending until it lands. At most one job is in flight; a finished
// job's outcome is consumed by exactly one Poll.
//
// Not safe for concurrent use; the camera lease guarantees one caller.
type Scan struct {
	camera    camera.Device
	encoder   frameEncoder
	store     *Store
	threshold float64

	// ioMu serializes jobs on the camera. There is one capture pipeline;
	// an abandoned job must finish its exposure before the next job
	// opens the device.
	ioMu sync.Mutex

	mu       sync.Mutex
	inFlight bool
	gen      int
	outcome  *scanOutcome
}

type scanOutcome struct {
	match MatchResult
	err   error
}

// NewScan builds the face scan adapter.
func NewScan(cam camera.Device, encoder frameEncoder, store *Store, threshold float64) *Scan {
	return &Scan{
		camera:    cam,
		encoder:   encoder,
		store:     store,
		threshold: threshold,
	}
}

// Poll advances the scan by one increment.
//
// Returns:
//   - Signal: Pending, Match, NoMatch, or Error
//   - MatchResult: Valid for Match and NoMatch signals
//   - error: Set for SignalError
func (s *Scan) Poll(ctx context.Context) (Signal, MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != nil {
		out := s.outcome
		s.outcome = nil

		switch {
		case out.err == nil:
			if out.match.Matched {
				return SignalMatch, out.match, nil
			}
			return SignalNoMatch, out.match, nil
		case errors.Is(out.err, ErrNoFace):
			// Nobody in frame yet; keep scanning.
			return SignalPending, MatchResult{}, nil
		default:
			return SignalError, MatchResult{}, out.err
		}
	}

	if !s.inFlight {
		s.inFlight = true
		gen := s.gen
		go s.run(ctx, gen)
	}

	return SignalPending, MatchResult{}, nil
}

// run executes one capture-and-encode job.
func (s *Scan) run(ctx context.Context, gen int) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	var out scanOutcome

	frame, err := s.camera.Capture(ctx)
	if err != nil {
		out.err = err
	} else {
		encoding, err := s.encoder.Encode(ctx, frame)
		if err != nil {
			out.err = err
		} else {
			out.match = Match(s.store.Snapshot(), encoding, s.threshold)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A Reset invalidates jobs started before it.
	if s.gen != gen {
		return
	}
	s.inFlight = false
	s.outcome = &out
}

// Reset abandons any in-flight job and clears unconsumed outcomes.
// Called when the face step ends for any reason.
func (s *Scan) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.inFlight = false
	s.outcome = nil
}
