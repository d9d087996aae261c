// Package gpio provides minimal access to Raspberry Pi GPIO and PWM
// through the kernel's sysfs interfaces.
//
// Only the primitives the door lock needs are implemented: digital
// lines for the keypad matrix and one hardware PWM channel for the
// servo. Lines are exported on open and unexported on close so a crash
// mid-session never leaves pins claimed across restarts (the daemon
// re-exports on startup regardless).
package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// gpioRoot is the sysfs GPIO class directory. Package variable so tests
// can point it at a fake sysfs tree.
var gpioRoot = "/sys/class/gpio"

// exportSettle is how long to wait after exporting a pin before the
// kernel creates its attribute files. Observed up to 50ms on Pi OS.
const exportSettle = 100 * time.Millisecond

// Direction of a GPIO line.
type Direction string

// Line directions.
const (
	In  Direction = "in"
	Out Direction = "out"
)

// ErrNotExported is returned when a line operation races an unexport.
var ErrNotExported = errors.New("gpio: line not exported")

// Line is one exported GPIO pin.
type Line struct {
	pin       int
	dir       Direction
	valuePath string
}

// Open exports a GPIO pin and sets its direction.
//
// Parameters:
//   - pin: BCM pin number (e.g., 18 for GPIO18)
//   - dir: In for reads, Out for writes
//
// Returns:
//   - *Line: Ready for Read/Write calls
//   - error: If sysfs is unavailable or the pin cannot be exported
func Open(pin int, dir Direction) (*Line, error) {
	pinDir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))

	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := writeSysfs(filepath.Join(gpioRoot, "export"), strconv.Itoa(pin)); err != nil {
			return nil, fmt.Errorf("gpio: export pin %d: %w", pin, err)
		}
		// Give udev time to create and chown the attribute files.
		time.Sleep(exportSettle)
	}

	if err := writeSysfs(filepath.Join(pinDir, "direction"), string(dir)); err != nil {
		return nil, fmt.Errorf("gpio: set direction pin %d: %w", pin, err)
	}

	return &Line{
		pin:       pin,
		dir:       dir,
		valuePath: filepath.Join(pinDir, "value"),
	}, nil
}

// Pin returns the BCM pin number.
func (l *Line) Pin() int {
	return l.pin
}

// Write drives the line high (true) or low (false).
func (l *Line) Write(high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	if err := writeSysfs(l.valuePath, v); err != nil {
		return fmt.Errorf("gpio: write pin %d: %w", l.pin, err)
	}
	return nil
}

// Read returns the current level of the line.
func (l *Line) Read() (bool, error) {
	data, err := os.ReadFile(l.valuePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, ErrNotExported
		}
		return false, fmt.Errorf("gpio: read pin %d: %w", l.pin, err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// Close unexports the pin. Safe to call more than once.
func (l *Line) Close() error {
	pinDir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", l.pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		return nil
	}
	if err := writeSysfs(filepath.Join(gpioRoot, "unexport"), strconv.Itoa(l.pin)); err != nil {
		return fmt.Errorf("gpio: unexport pin %d: %w", l.pin, err)
	}
	return nil
}

// writeSysfs writes a value to a sysfs attribute file.
func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		return err
	}
	return nil
}
