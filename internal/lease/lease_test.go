package lease

import (
	"errors"
	"sync"
	"testing"
)

func TestTryAcquire(t *testing.T) {
	m := NewManager()

	l, err := m.TryAcquire(Camera, "session-1")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if l.Resource() != Camera {
		t.Errorf("Resource() = %s, want camera", l.Resource())
	}
	if l.Owner() != "session-1" {
		t.Errorf("Owner() = %s, want session-1", l.Owner())
	}
	if !m.IsHeld(Camera) {
		t.Error("IsHeld() = false after acquire, want true")
	}
}

func TestTryAcquireBusy(t *testing.T) {
	m := NewManager()

	if _, err := m.TryAcquire(Camera, "session-1"); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	_, err := m.TryAcquire(Camera, "session-2")
	if !errors.Is(err, ErrBusy) {
		t.Errorf("TryAcquire() error = %v, want ErrBusy", err)
	}
}

func TestTryAcquireIdempotentForSameOwner(t *testing.T) {
	m := NewManager()

	first, err := m.TryAcquire(Keypad, "session-1")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	second, err := m.TryAcquire(Keypad, "session-1")
	if err != nil {
		t.Fatalf("TryAcquire() same owner error = %v", err)
	}
	if first != second {
		t.Error("re-acquire by same owner returned a different lease")
	}
}

func TestTryAcquireUnknownResource(t *testing.T) {
	m := NewManager()

	_, err := m.TryAcquire(Resource("toaster"), "session-1")
	if !errors.Is(err, ErrUnknownResource) {
		t.Errorf("TryAcquire() error = %v, want ErrUnknownResource", err)
	}
}

func TestRelease(t *testing.T) {
	m := NewManager()

	l, err := m.TryAcquire(Camera, "session-1")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	l.Release()
	if m.IsHeld(Camera) {
		t.Error("IsHeld() = true after release, want false")
	}

	// Resource is acquirable by another owner now.
	if _, err := m.TryAcquire(Camera, "session-2"); err != nil {
		t.Errorf("TryAcquire() after release error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := NewManager()

	l, _ := m.TryAcquire(Camera, "session-1")
	l.Release()
	l.Release() // must not panic or disturb state

	// A stale double-release must not free a lease issued to someone else.
	l2, _ := m.TryAcquire(Camera, "session-2")
	l.Release()
	if !m.IsHeld(Camera) {
		t.Error("stale release freed another owner's lease")
	}
	l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lease
	l.Release() // no-op
}

func TestReleaseAll(t *testing.T) {
	m := NewManager()

	m.TryAcquire(Camera, "session-1")
	m.TryAcquire(FingerprintSensor, "session-1")
	m.TryAcquire(Keypad, "session-2")

	m.ReleaseAll("session-1")

	if m.IsHeld(Camera) {
		t.Error("camera still held after ReleaseAll")
	}
	if m.IsHeld(FingerprintSensor) {
		t.Error("fingerprint sensor still held after ReleaseAll")
	}
	if !m.IsHeld(Keypad) {
		t.Error("ReleaseAll released another owner's lease")
	}
	if m.Holder(Keypad) != "session-2" {
		t.Errorf("Holder() = %s, want session-2", m.Holder(Keypad))
	}
}

func TestReleaseAllNoLeases(t *testing.T) {
	m := NewManager()
	m.ReleaseAll("session-unknown") // no-op
}

func TestConcurrentAcquire(t *testing.T) {
	m := NewManager()

	const goroutines = 16
	var wg sync.WaitGroup
	acquired := make(chan *Lease, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if l, err := m.TryAcquire(Camera, string(rune('a'+id))); err == nil {
				acquired <- l
			}
		}(i)
	}
	wg.Wait()
	close(acquired)

	count := 0
	for range acquired {
		count++
	}
	if count != 1 {
		t.Errorf("concurrent TryAcquire granted %d leases, want 1", count)
	}
}
