package fingerprint

import (
	"errors"
	"sync"
)

// Signal is the outcome of one Poll.
type Signal int

// Poll outcomes.
const (
	SignalPending Signal = iota
	SignalMatch
	SignalNoMatch
	SignalError
)

// Match is a successful template search result.
type Match struct {
	TemplateID int
	Score      int
}

// searcher is the slice of Sensor the adapter needs.
type searcher interface {
	GetImage() error
	Image2Tz(buffer byte) error
	Search(buffer byte) (templateID int, score int, err error)
}

// Scan runs the capture-convert-search sequence off the caller's
// goroutine. Serial round trips take longer than a tick, so each Poll
// either consumes a finished job's outcome or makes sure one is running.
// Reset abandons in-flight work; a stale job's outcome never lands.
type Scan struct {
	sensor searcher

	// ioMu serializes jobs on the wire. The sensor is a single serial
	// conversation; an abandoned job must finish its exchange before
	// the next job writes.
	ioMu sync.Mutex

	mu       sync.Mutex
	inFlight bool
	gen      int
	outcome  *scanOutcome
}

type scanOutcome struct {
	match Match
	err   error
}

// NewScan wraps a sensor in poll semantics.
func NewScan(sensor searcher) *Scan {
	return &Scan{sensor: sensor}
}

// Poll advances the scan by one increment.
//
// Returns:
//   - SignalPending while no finger is present or a job is running
//   - SignalMatch with the stored template id and confidence
//   - SignalNoMatch when a captured print matched no template
//   - SignalError with the sensor error
func (s *Scan) Poll() (Signal, Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != nil {
		out := s.outcome
		s.outcome = nil

		switch {
		case out.err == nil:
			return SignalMatch, out.match, nil
		case errors.Is(out.err, ErrNoFinger):
			// Nothing on the window yet; keep polling.
			return SignalPending, Match{}, nil
		case errors.Is(out.err, ErrNotFound), errors.Is(out.err, ErrImageFail):
			// Captured a print but could not place it. ImageFail counts
			// as a mismatch too: a smeared press should cost an attempt,
			// not kill the session.
			return SignalNoMatch, Match{}, nil
		default:
			return SignalError, Match{}, out.err
		}
	}

	if !s.inFlight {
		s.inFlight = true
		gen := s.gen
		go s.run(gen)
	}

	return SignalPending, Match{}, nil
}

// run executes one capture-convert-search job.
func (s *Scan) run(gen int) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	var out scanOutcome

	if err := s.sensor.GetImage(); err != nil {
		out.err = err
	} else if err := s.sensor.Image2Tz(BufferOne); err != nil {
		out.err = err
	} else {
		id, score, err := s.sensor.Search(BufferOne)
		if err != nil {
			out.err = err
		} else {
			out.match = Match{TemplateID: id, Score: score}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	s.inFlight = false
	s.outcome = &out
}

// Reset abandons any in-flight job and clears unconsumed outcomes.
// Called between attempts and when the fingerprint step ends.
func (s *Scan) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.inFlight = false
	s.outcome = nil
}
