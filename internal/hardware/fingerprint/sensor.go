package fingerprint

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
)

// Template buffer slots on the module.
const (
	// BufferOne and BufferTwo are the module's two character buffers.
	// Verification uses BufferOne; enrolment captures into both and
	// merges them.
	BufferOne = 0x01
	BufferTwo = 0x02

	// searchPageCount covers the module's full template library.
	searchPageCount = 0x00A3
)

// Logger is the narrow logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Sensor is one connected EF01 module.
//
// Methods issue a single command exchange each and block for at most
// the port's read timeout. Not safe for concurrent use; the session's
// lease discipline guarantees a single caller.
type Sensor struct {
	port io.ReadWriteCloser
	path string
}

// Open probes the configured serial ports in order and returns a
// sensor on the first port that answers the password handshake.
//
// Pi models expose the UART under different device names depending on
// model and boot config, so a fixed path cannot work across units.
func Open(cfg config.FingerprintConfig, log Logger) (*Sensor, error) {
	for _, path := range cfg.Ports {
		port, err := openSerial(path, cfg.BaudRate, cfg.ReadTimeout)
		if err != nil {
			log.Debug("fingerprint port unavailable", "port", path, "error", err)
			continue
		}

		s := &Sensor{port: port, path: path}
		if err := s.verifyPassword(); err != nil {
			log.Debug("fingerprint handshake failed", "port", path, "error", err)
			port.Close()
			continue
		}

		log.Info("fingerprint sensor connected", "port", path)
		return s, nil
	}

	return nil, fmt.Errorf("%w: tried %v", ErrNoSensor, cfg.Ports)
}

// Path returns the serial device the sensor answered on.
func (s *Sensor) Path() string {
	return s.path
}

// exchange writes one command and reads its ack payload.
func (s *Sensor) exchange(payload []byte) ([]byte, error) {
	if _, err := s.port.Write(buildCommand(payload)); err != nil {
		return nil, fmt.Errorf("%w: write: %w", ErrProtocol, err)
	}

	ack, err := readAck(s.port)
	if err != nil {
		return nil, err
	}
	if len(ack) == 0 {
		return nil, fmt.Errorf("%w: empty ack", ErrProtocol)
	}
	if err := ackError(ack[0]); err != nil {
		return nil, err
	}
	return ack, nil
}

// verifyPassword performs the module handshake with the default password.
func (s *Sensor) verifyPassword() error {
	_, err := s.exchange([]byte{cmdVerifyPassword, 0x00, 0x00, 0x00, 0x00})
	return err
}

// GetImage captures a frame from the optical window.
//
// Returns ErrNoFinger when the window is empty, which callers treat as
// "poll again next tick" rather than a failure.
func (s *Sensor) GetImage() error {
	_, err := s.exchange([]byte{cmdGetImage})
	return err
}

// Image2Tz converts the captured image into a character file in the
// given buffer.
func (s *Sensor) Image2Tz(buffer byte) error {
	_, err := s.exchange([]byte{cmdImage2Tz, buffer})
	return err
}

// Search matches the character file in the buffer against the whole
// template library.
//
// Returns:
//   - templateID: Flash page of the matching template
//   - score: Match confidence as reported by the module
//   - error: ErrNotFound if nothing matched
func (s *Sensor) Search(buffer byte) (templateID int, score int, err error) {
	payload := []byte{
		cmdSearch, buffer,
		0x00, 0x00, // start page
		searchPageCount >> 8, searchPageCount & 0xFF,
	}

	ack, err := s.exchange(payload)
	if err != nil {
		return 0, 0, err
	}
	if len(ack) < 5 {
		return 0, 0, fmt.Errorf("%w: short search ack", ErrProtocol)
	}

	templateID = int(binary.BigEndian.Uint16(ack[1:3]))
	score = int(binary.BigEndian.Uint16(ack[3:5]))
	return templateID, score, nil
}

// RegModel merges the character files in both buffers into one template.
// Both captures must be of the same finger or the module refuses.
func (s *Sensor) RegModel() error {
	_, err := s.exchange([]byte{cmdRegModel})
	return err
}

// Store writes the merged template to the given flash page.
func (s *Sensor) Store(buffer byte, templateID int) error {
	payload := []byte{
		cmdStore, buffer,
		byte(templateID >> 8), byte(templateID & 0xFF),
	}
	_, err := s.exchange(payload)
	return err
}

// Delete removes one stored template.
func (s *Sensor) Delete(templateID int) error {
	payload := []byte{
		cmdDeleteChar,
		byte(templateID >> 8), byte(templateID & 0xFF),
		0x00, 0x01, // delete one template
	}
	_, err := s.exchange(payload)
	return err
}

// Empty wipes the entire template library. Used when re-provisioning a unit.
func (s *Sensor) Empty() error {
	_, err := s.exchange([]byte{cmdEmpty})
	return err
}

// TemplateCount returns the number of enrolled templates.
func (s *Sensor) TemplateCount() (int, error) {
	ack, err := s.exchange([]byte{cmdTemplateCount})
	if err != nil {
		return 0, err
	}
	if len(ack) < 3 {
		return 0, fmt.Errorf("%w: short template count ack", ErrProtocol)
	}
	return int(binary.BigEndian.Uint16(ack[1:3])), nil
}

// Close releases the serial port.
func (s *Sensor) Close() error {
	return s.port.Close()
}
