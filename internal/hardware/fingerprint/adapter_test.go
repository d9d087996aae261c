package fingerprint

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSearcher replays scripted stage results.
type fakeSearcher struct {
	mu         sync.Mutex
	imageErr   error
	convertErr error
	searchID   int
	searchScr  int
	searchErr  error
}

func (f *fakeSearcher) GetImage() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageErr
}

func (f *fakeSearcher) Image2Tz(buffer byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convertErr
}

func (f *fakeSearcher) Search(buffer byte) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchID, f.searchScr, f.searchErr
}

func (f *fakeSearcher) set(imageErr, searchErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageErr = imageErr
	f.searchErr = searchErr
}

func settleScan(t *testing.T, s *Scan) (Signal, Match, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sig, match, err := s.Poll()
		if sig != SignalPending {
			return sig, match, err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scan never settled")
	return SignalPending, Match{}, nil
}

func TestScanMatch(t *testing.T) {
	s := NewScan(&fakeSearcher{searchID: 7, searchScr: 96})

	sig, _, err := s.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if sig != SignalPending {
		t.Errorf("first Poll() = %v, want pending", sig)
	}

	sig, match, err := settleScan(t, s)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if sig != SignalMatch {
		t.Fatalf("Poll() = %v, want match", sig)
	}
	if match.TemplateID != 7 || match.Score != 96 {
		t.Errorf("match = %+v, want template 7 score 96", match)
	}
}

func TestScanNoFingerStaysPending(t *testing.T) {
	s := NewScan(&fakeSearcher{imageErr: ErrNoFinger})

	for i := 0; i < 5; i++ {
		sig, _, err := s.Poll()
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if sig != SignalPending {
			t.Fatalf("Poll() = %v, want pending", sig)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScanNotFoundIsNoMatch(t *testing.T) {
	s := NewScan(&fakeSearcher{searchErr: ErrNotFound})

	sig, _, err := settleScan(t, s)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if sig != SignalNoMatch {
		t.Errorf("Poll() = %v, want no-match", sig)
	}
}

func TestScanImageFailIsNoMatch(t *testing.T) {
	s := NewScan(&fakeSearcher{imageErr: ErrImageFail})

	sig, _, err := settleScan(t, s)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if sig != SignalNoMatch {
		t.Errorf("Poll() = %v, want no-match", sig)
	}
}

func TestScanProtocolError(t *testing.T) {
	s := NewScan(&fakeSearcher{imageErr: ErrProtocol})

	sig, _, err := settleScan(t, s)
	if sig != SignalError {
		t.Fatalf("Poll() = %v, want error", sig)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Poll() error = %v, want ErrProtocol", err)
	}
}

func TestScanResetDiscardsInFlight(t *testing.T) {
	fake := &fakeSearcher{searchErr: ErrNotFound}
	s := NewScan(fake)

	s.Poll()
	s.Reset()

	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	stale := s.outcome != nil
	s.mu.Unlock()
	if stale {
		t.Error("outcome from pre-reset job survived Reset()")
	}

	// Fresh jobs after the reset see the new script.
	fake.set(nil, nil)
	sig, _, err := settleScan(t, s)
	if err != nil {
		t.Fatalf("Poll() after reset error = %v", err)
	}
	if sig != SignalMatch {
		t.Errorf("Poll() after reset = %v, want match", sig)
	}
}
