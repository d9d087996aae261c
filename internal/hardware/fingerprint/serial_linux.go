package fingerprint

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// ErrReadTimeout is returned when the sensor does not answer within
// the configured read timeout.
var ErrReadTimeout = errors.New("fingerprint: serial read timeout")

// baudRates maps config values to termios speed constants.
var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// serialPort is a raw termios serial device.
//
// The port is configured raw (no echo, no line discipline) with VTIME
// based reads so every exchange is bounded without deadline bookkeeping
// in the callers.
type serialPort struct {
	fd int
}

// openSerial opens and configures a serial device.
//
// Parameters:
//   - path: Device path (e.g., /dev/serial0)
//   - baud: Line speed, must be a supported rate
//   - readTimeoutMs: Per-read timeout in milliseconds (rounded to 100ms)
func openSerial(path string, baud int, readTimeoutMs int) (io.ReadWriteCloser, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("fingerprint: unsupported baud rate %d", baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: open %s: %w", path, err)
	}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fingerprint: get termios %s: %w", path, err)
	}

	// Raw 8N1 mode.
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	tio.Ispeed = speed
	tio.Ospeed = speed

	// VTIME reads: block up to the timeout, return whatever arrived.
	vtime := readTimeoutMs / 100
	if vtime < 1 {
		vtime = 1
	}
	if vtime > 255 {
		vtime = 255
	}
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = uint8(vtime)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fingerprint: set termios %s: %w", path, err)
	}

	// Switch to blocking mode now that VTIME bounds reads.
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fingerprint: set blocking %s: %w", path, err)
	}

	// Drop any stale bytes from a previous session.
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)

	return &serialPort{fd: fd}, nil
}

// Read returns ErrReadTimeout when VTIME expires with no data, so
// io.ReadFull callers fail instead of spinning.
func (p *serialPort) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrReadTimeout
	}
	return n, nil
}

func (p *serialPort) Write(b []byte) (int, error) {
	return unix.Write(p.fd, b)
}

func (p *serialPort) Close() error {
	return unix.Close(p.fd)
}
