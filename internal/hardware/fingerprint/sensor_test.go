package fingerprint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// fakePort queues scripted ack frames and records written commands.
type fakePort struct {
	written bytes.Buffer
	replies bytes.Buffer
	closed  bool
}

func (f *fakePort) Read(b []byte) (int, error)  { return f.replies.Read(b) }
func (f *fakePort) Write(b []byte) (int, error) { return f.written.Write(b) }
func (f *fakePort) Close() error                { f.closed = true; return nil }

// queueAck appends one well-formed ack frame with the given payload.
func (f *fakePort) queueAck(payload ...byte) {
	length := len(payload) + 2

	frame := make([]byte, 0, 9+length)
	frame = binary.BigEndian.AppendUint16(frame, headerWord)
	frame = binary.BigEndian.AppendUint32(frame, defaultAddress)
	frame = append(frame, pidAck)
	frame = binary.BigEndian.AppendUint16(frame, uint16(length))
	frame = append(frame, payload...)

	var sum uint16 = pidAck
	sum += uint16(length >> 8)
	sum += uint16(length & 0xFF)
	for _, b := range payload {
		sum += uint16(b)
	}
	frame = binary.BigEndian.AppendUint16(frame, sum)

	f.replies.Write(frame)
}

func testSensor(port *fakePort) *Sensor {
	return &Sensor{port: port, path: "/dev/fake0"}
}

func TestBuildCommand(t *testing.T) {
	frame := buildCommand([]byte{cmdGetImage})

	want := []byte{
		0xEF, 0x01, // header
		0xFF, 0xFF, 0xFF, 0xFF, // address
		0x01,       // command pid
		0x00, 0x03, // length: payload(1) + checksum(2)
		0x01,       // GetImage
		0x00, 0x05, // checksum: pid + length + payload
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("buildCommand() = % x, want % x", frame, want)
	}
}

func TestGetImage(t *testing.T) {
	port := &fakePort{}
	port.queueAck(ackOK)
	s := testSensor(port)

	if err := s.GetImage(); err != nil {
		t.Fatalf("GetImage() error = %v", err)
	}

	// The GetImage command frame should be on the wire.
	if got := port.written.Bytes(); got[9] != cmdGetImage {
		t.Errorf("command byte = %#x, want %#x", got[9], cmdGetImage)
	}
}

func TestGetImageNoFinger(t *testing.T) {
	port := &fakePort{}
	port.queueAck(ackNoFinger)
	s := testSensor(port)

	err := s.GetImage()
	if !errors.Is(err, ErrNoFinger) {
		t.Errorf("GetImage() error = %v, want ErrNoFinger", err)
	}
}

func TestSearch(t *testing.T) {
	port := &fakePort{}
	port.queueAck(ackOK, 0x00, 0x07, 0x00, 0x60) // template 7, score 96
	s := testSensor(port)

	id, score, err := s.Search(BufferOne)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if id != 7 {
		t.Errorf("templateID = %d, want 7", id)
	}
	if score != 96 {
		t.Errorf("score = %d, want 96", score)
	}
}

func TestSearchNotFound(t *testing.T) {
	port := &fakePort{}
	port.queueAck(ackNotFound)
	s := testSensor(port)

	_, _, err := s.Search(BufferOne)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Search() error = %v, want ErrNotFound", err)
	}
}

func TestTemplateCount(t *testing.T) {
	port := &fakePort{}
	port.queueAck(ackOK, 0x00, 0x0C)
	s := testSensor(port)

	count, err := s.TemplateCount()
	if err != nil {
		t.Fatalf("TemplateCount() error = %v", err)
	}
	if count != 12 {
		t.Errorf("TemplateCount() = %d, want 12", count)
	}
}

func TestBadChecksum(t *testing.T) {
	port := &fakePort{}
	port.queueAck(ackOK)
	// Corrupt the checksum byte at the end of the queued frame.
	frame := port.replies.Bytes()
	frame[len(frame)-1] ^= 0xFF
	s := testSensor(port)

	err := s.GetImage()
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("GetImage() error = %v, want ErrProtocol", err)
	}
}

func TestBadHeader(t *testing.T) {
	port := &fakePort{}
	port.replies.Write(bytes.Repeat([]byte{0xAA}, 12))
	s := testSensor(port)

	err := s.GetImage()
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("GetImage() error = %v, want ErrProtocol", err)
	}
}

func TestStoreEncodesTemplateID(t *testing.T) {
	port := &fakePort{}
	port.queueAck(ackOK)
	s := testSensor(port)

	if err := s.Store(BufferOne, 0x0102); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got := port.written.Bytes()
	// payload starts at offset 9: cmd, buffer, pageHi, pageLo
	if got[9] != cmdStore || got[10] != BufferOne || got[11] != 0x01 || got[12] != 0x02 {
		t.Errorf("Store payload = % x", got[9:13])
	}
}

func TestAckErrorMapping(t *testing.T) {
	tests := []struct {
		code byte
		want error
	}{
		{ackOK, nil},
		{ackNoFinger, ErrNoFinger},
		{ackImageFail, ErrImageFail},
		{ackFeatureFail, ErrImageFail},
		{ackNotFound, ErrNotFound},
		{ackBadPassword, ErrBadPassword},
		{0x42, ErrProtocol},
	}

	for _, tt := range tests {
		err := ackError(tt.code)
		if tt.want == nil {
			if err != nil {
				t.Errorf("ackError(%#x) = %v, want nil", tt.code, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("ackError(%#x) = %v, want %v", tt.code, err, tt.want)
		}
	}
}
