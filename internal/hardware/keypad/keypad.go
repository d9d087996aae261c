// Package keypad reads a 4x4 matrix keypad over GPIO.
//
// The matrix is scanned by driving one row high at a time and reading
// the column lines. A raw scan reports whatever key is currently down;
// the Debounced wrapper turns that into discrete key presses the
// session loop can consume once per tick.
//
// Key layout:
//
//	1 2 3 A
//	4 5 6 B
//	7 8 9 C
//	* 0 # D
//
// '#' submits the entered code and '*' clears it; the letters are
// unused by the door lock but reported anyway.
package keypad

import (
	"fmt"
	"time"

	"github.com/hgarg/doorlock-core/internal/hardware/gpio"
	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

// Control keys.
const (
	KeySubmit = '#'
	KeyClear  = '*'
)

// layout maps [row][column] to the printed key cap.
var layout = [4][4]rune{
	{'1', '2', '3', 'A'},
	{'4', '5', '6', 'B'},
	{'7', '8', '9', 'C'},
	{'*', '0', '#', 'D'},
}

// Scanner reports the key currently held down, if any.
// Implemented by Matrix; swapped for a fake in tests.
type Scanner interface {
	Scan() (rune, bool, error)
}

// Matrix is the physical keypad wired to row and column GPIO lines.
type Matrix struct {
	rows []*gpio.Line
	cols []*gpio.Line
}

// NewMatrix opens the configured row pins as outputs and column pins
// as inputs.
func NewMatrix(cfg config.KeypadConfig) (*Matrix, error) {
	m := &Matrix{}

	for _, pin := range cfg.RowPins {
		line, err := gpio.Open(pin, gpio.Out)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("keypad: open row pin %d: %w", pin, err)
		}
		if err := line.Write(false); err != nil {
			m.Close()
			return nil, fmt.Errorf("keypad: init row pin %d: %w", pin, err)
		}
		m.rows = append(m.rows, line)
	}

	for _, pin := range cfg.ColumnPins {
		line, err := gpio.Open(pin, gpio.In)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("keypad: open column pin %d: %w", pin, err)
		}
		m.cols = append(m.cols, line)
	}

	return m, nil
}

// Scan drives each row in turn and reads the columns.
//
// Returns the first key found held down. Multiple simultaneous keys
// are not supported; the scan order wins.
func (m *Matrix) Scan() (rune, bool, error) {
	for r, row := range m.rows {
		if err := row.Write(true); err != nil {
			return 0, false, err
		}

		for c, col := range m.cols {
			high, err := col.Read()
			if err != nil {
				row.Write(false)
				return 0, false, err
			}
			if high {
				if err := row.Write(false); err != nil {
					return 0, false, err
				}
				return layout[r][c], true, nil
			}
		}

		if err := row.Write(false); err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// Close releases all GPIO lines.
func (m *Matrix) Close() error {
	var firstErr error
	for _, line := range append(m.rows, m.cols...) {
		if err := line.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Debounced filters raw scans into discrete key presses.
//
// A key repeat is accepted only after the debounce interval; a
// different key is accepted immediately. This matches how people
// actually type on these pads: distinct digits arrive fast, contact
// bounce repeats the same key within milliseconds.
type Debounced struct {
	scanner  Scanner
	interval time.Duration

	lastKey  rune
	lastTime time.Time
}

// NewDebounced wraps a scanner with the configured debounce interval.
func NewDebounced(scanner Scanner, cfg config.KeypadConfig) *Debounced {
	return &Debounced{
		scanner:  scanner,
		interval: time.Duration(cfg.DebounceMillis) * time.Millisecond,
	}
}

// Poll scans once and reports a key press if one should be accepted.
//
// Called once per tick by the session runner. Never blocks.
func (d *Debounced) Poll(now time.Time) (rune, bool, error) {
	key, down, err := d.scanner.Scan()
	if err != nil {
		return 0, false, err
	}
	if !down {
		return 0, false, nil
	}

	if key == d.lastKey && now.Sub(d.lastTime) < d.interval {
		return 0, false, nil
	}

	d.lastKey = key
	d.lastTime = now
	return key, true, nil
}
