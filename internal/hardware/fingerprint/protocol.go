// Package fingerprint talks to an EF01-family optical fingerprint
// sensor (ZFM-20 / R307 / "AS608") over a serial line.
//
// The sensor stores enrolled templates in its own flash and performs
// matching on-module; the host only drives the capture-convert-search
// command sequence and reads back a template ID. Wire framing, the
// command set, and confirmation codes follow the EF01 datasheet.
package fingerprint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire framing constants.
const (
	headerWord = 0xEF01
	// defaultAddress is the broadcast module address.
	defaultAddress = 0xFFFFFFFF

	// Packet identifiers.
	pidCommand = 0x01
	pidAck     = 0x07

	// maxPayload bounds ack payloads; command acks are tiny.
	maxPayload = 64
)

// Command codes.
const (
	cmdGetImage       = 0x01
	cmdImage2Tz       = 0x02
	cmdSearch         = 0x04
	cmdRegModel       = 0x05
	cmdStore          = 0x06
	cmdDeleteChar     = 0x0C
	cmdEmpty          = 0x0D
	cmdVerifyPassword = 0x13
	cmdTemplateCount  = 0x1D
)

// Confirmation codes returned in the first ack payload byte.
const (
	ackOK          = 0x00
	ackPacketError = 0x01
	ackNoFinger    = 0x02
	ackImageFail   = 0x03
	ackFeatureFail = 0x06
	ackTooFewPoint = 0x07
	ackNotFound    = 0x09
	ackBadPassword = 0x13
)

// Sentinel errors surfaced to callers.
var (
	// ErrNoFinger means no finger was on the window. Transient; poll again.
	ErrNoFinger = errors.New("fingerprint: no finger detected")

	// ErrImageFail means the capture was too smudged to use. Transient.
	ErrImageFail = errors.New("fingerprint: image capture failed")

	// ErrNotFound means the print did not match any enrolled template.
	ErrNotFound = errors.New("fingerprint: no matching template")

	// ErrBadPassword means the module rejected the handshake password.
	ErrBadPassword = errors.New("fingerprint: module password rejected")

	// ErrProtocol covers malformed frames and unexpected codes.
	ErrProtocol = errors.New("fingerprint: protocol error")

	// ErrNoSensor means no candidate serial port answered the handshake.
	ErrNoSensor = errors.New("fingerprint: no sensor found")
)

// buildCommand frames a command payload for the wire.
//
// Frame: header(2) address(4) pid(1) length(2) payload(n) checksum(2)
// where length counts payload plus checksum and checksum sums pid,
// length, and payload bytes.
func buildCommand(payload []byte) []byte {
	length := len(payload) + 2

	frame := make([]byte, 0, 9+length)
	frame = binary.BigEndian.AppendUint16(frame, headerWord)
	frame = binary.BigEndian.AppendUint32(frame, defaultAddress)
	frame = append(frame, pidCommand)
	frame = binary.BigEndian.AppendUint16(frame, uint16(length))
	frame = append(frame, payload...)

	var sum uint16 = pidCommand
	sum += uint16(length >> 8)
	sum += uint16(length & 0xFF)
	for _, b := range payload {
		sum += uint16(b)
	}
	frame = binary.BigEndian.AppendUint16(frame, sum)

	return frame
}

// readAck reads one ack frame and returns its payload (confirmation
// code followed by any result bytes).
func readAck(r io.Reader) ([]byte, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrProtocol, err)
	}

	if binary.BigEndian.Uint16(header[0:2]) != headerWord {
		return nil, fmt.Errorf("%w: bad header %x", ErrProtocol, header[0:2])
	}
	if header[6] != pidAck {
		return nil, fmt.Errorf("%w: unexpected packet id %#x", ErrProtocol, header[6])
	}

	length := int(binary.BigEndian.Uint16(header[7:9]))
	if length < 2 || length > maxPayload {
		return nil, fmt.Errorf("%w: implausible length %d", ErrProtocol, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrProtocol, err)
	}

	payload := body[:length-2]
	wantSum := binary.BigEndian.Uint16(body[length-2:])

	var sum uint16 = pidAck
	sum += uint16(length >> 8)
	sum += uint16(length & 0xFF)
	for _, b := range payload {
		sum += uint16(b)
	}
	if sum != wantSum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrProtocol)
	}

	return payload, nil
}

// ackError maps a non-OK confirmation code to a sentinel error.
func ackError(code byte) error {
	switch code {
	case ackOK:
		return nil
	case ackNoFinger:
		return ErrNoFinger
	case ackImageFail, ackFeatureFail, ackTooFewPoint:
		return ErrImageFail
	case ackNotFound:
		return ErrNotFound
	case ackBadPassword:
		return ErrBadPassword
	default:
		return fmt.Errorf("%w: confirmation code %#x", ErrProtocol, code)
	}
}
