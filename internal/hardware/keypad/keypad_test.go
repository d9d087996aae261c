package keypad

import (
	"errors"
	"testing"
	"time"

	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

// fakeScanner replays a scripted sequence of scan results.
type fakeScanner struct {
	keys []rune // 0 means no key down
	err  error
	pos  int
}

func (f *fakeScanner) Scan() (rune, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	if f.pos >= len(f.keys) {
		return 0, false, nil
	}
	key := f.keys[f.pos]
	f.pos++
	if key == 0 {
		return 0, false, nil
	}
	return key, true, nil
}

func testKeypadConfig() config.KeypadConfig {
	return config.KeypadConfig{
		Enabled:        true,
		RowPins:        []int{5, 6, 13, 19},
		ColumnPins:     []int{12, 16, 20, 21},
		DebounceMillis: 300,
	}
}

func TestPollNoKey(t *testing.T) {
	d := NewDebounced(&fakeScanner{keys: []rune{0}}, testKeypadConfig())

	_, ok, err := d.Poll(time.Now())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ok {
		t.Error("Poll() reported a key with nothing pressed")
	}
}

func TestPollDebounceSameKey(t *testing.T) {
	d := NewDebounced(&fakeScanner{keys: []rune{'5', '5', '5'}}, testKeypadConfig())
	now := time.Now()

	key, ok, _ := d.Poll(now)
	if !ok || key != '5' {
		t.Fatalf("first Poll() = %q, %v; want '5', true", key, ok)
	}

	// Same key 33ms later (one tick at 30Hz) is contact bounce.
	_, ok, _ = d.Poll(now.Add(33 * time.Millisecond))
	if ok {
		t.Error("Poll() accepted same key inside debounce interval")
	}

	// Same key after the interval is a deliberate repeat.
	key, ok, _ = d.Poll(now.Add(400 * time.Millisecond))
	if !ok || key != '5' {
		t.Errorf("Poll() after interval = %q, %v; want '5', true", key, ok)
	}
}

func TestPollDifferentKeyImmediate(t *testing.T) {
	d := NewDebounced(&fakeScanner{keys: []rune{'1', '2'}}, testKeypadConfig())
	now := time.Now()

	key, ok, _ := d.Poll(now)
	if !ok || key != '1' {
		t.Fatalf("first Poll() = %q, %v; want '1', true", key, ok)
	}

	// A different key is accepted with no debounce delay.
	key, ok, _ = d.Poll(now.Add(10 * time.Millisecond))
	if !ok || key != '2' {
		t.Errorf("second Poll() = %q, %v; want '2', true", key, ok)
	}
}

func TestPollScanError(t *testing.T) {
	scanErr := errors.New("gpio gone")
	d := NewDebounced(&fakeScanner{err: scanErr}, testKeypadConfig())

	_, _, err := d.Poll(time.Now())
	if !errors.Is(err, scanErr) {
		t.Errorf("Poll() error = %v, want scan error", err)
	}
}

func TestLayout(t *testing.T) {
	// Spot-check the corners and the control keys.
	if layout[0][0] != '1' || layout[0][3] != 'A' {
		t.Error("top row layout wrong")
	}
	if layout[3][0] != KeyClear || layout[3][2] != KeySubmit || layout[3][3] != 'D' {
		t.Error("bottom row layout wrong")
	}
}
