package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// pwmRoot is the sysfs PWM class directory. Package variable so tests
// can point it at a fake sysfs tree.
var pwmRoot = "/sys/class/pwm"

// PWM drives one hardware PWM channel through sysfs.
//
// On the Pi, pwmchip0 channel 0 maps to GPIO18 when the dtoverlay is
// enabled. The servo expects a 50Hz signal with the position encoded
// in the pulse width.
type PWM struct {
	chipPath string
	chanPath string
	channel  int
}

// OpenPWM exports a PWM channel and returns it disabled.
//
// Parameters:
//   - chip: PWM chip number (usually 0)
//   - channel: Channel on the chip (usually 0)
func OpenPWM(chip, channel int) (*PWM, error) {
	chipPath := filepath.Join(pwmRoot, fmt.Sprintf("pwmchip%d", chip))
	chanPath := filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel))

	if _, err := os.Stat(chipPath); err != nil {
		return nil, fmt.Errorf("gpio: pwm chip %d unavailable: %w", chip, err)
	}

	if _, err := os.Stat(chanPath); os.IsNotExist(err) {
		if err := writeSysfs(filepath.Join(chipPath, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("gpio: export pwm channel %d: %w", channel, err)
		}
		time.Sleep(exportSettle)
	}

	return &PWM{chipPath: chipPath, chanPath: chanPath, channel: channel}, nil
}

// SetPeriod sets the PWM period in nanoseconds.
// For a 50Hz servo signal this is 20000000.
func (p *PWM) SetPeriod(ns int) error {
	if err := writeSysfs(filepath.Join(p.chanPath, "period"), strconv.Itoa(ns)); err != nil {
		return fmt.Errorf("gpio: set pwm period: %w", err)
	}
	return nil
}

// SetDutyCycle sets the active pulse width in nanoseconds.
// Must be less than or equal to the period.
func (p *PWM) SetDutyCycle(ns int) error {
	if err := writeSysfs(filepath.Join(p.chanPath, "duty_cycle"), strconv.Itoa(ns)); err != nil {
		return fmt.Errorf("gpio: set pwm duty cycle: %w", err)
	}
	return nil
}

// Enable starts output on the channel.
func (p *PWM) Enable() error {
	if err := writeSysfs(filepath.Join(p.chanPath, "enable"), "1"); err != nil {
		return fmt.Errorf("gpio: enable pwm: %w", err)
	}
	return nil
}

// Disable stops output. The servo stops holding position, which avoids
// buzzing against the lock mechanism between actuations.
func (p *PWM) Disable() error {
	if err := writeSysfs(filepath.Join(p.chanPath, "enable"), "0"); err != nil {
		return fmt.Errorf("gpio: disable pwm: %w", err)
	}
	return nil
}

// Close disables output and unexports the channel.
func (p *PWM) Close() error {
	_ = p.Disable()
	if _, err := os.Stat(p.chanPath); os.IsNotExist(err) {
		return nil
	}
	if err := writeSysfs(filepath.Join(p.chipPath, "unexport"), strconv.Itoa(p.channel)); err != nil {
		return fmt.Errorf("gpio: unexport pwm channel %d: %w", p.channel, err)
	}
	return nil
}
