package transport

import (
	"errors"
	"time"

	"go.bug.st/serial"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
)

// DefaultBaudRate is used when ConnParams.BaudRate is left zero.
const DefaultBaudRate = 115200

// Serial is the point-to-point transport backend: a plain UART link
// to a single bootloader, no addressing on the wire. Raw frames are
// emitted byte-for-byte.
type Serial struct {
	port    serial.Port
	mode    Mode
	timeout time.Duration
}

// NewSerial constructs an unopened Serial transport.
func NewSerial() *Serial {
	return &Serial{mode: SpecificMode(0), timeout: time.Second}
}

func (s *Serial) Open(params ConnParams) error {
	baud := params.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(params.SerialPort, &serial.Mode{BaudRate: baud})
	if err != nil {
		return &TransportError{Backend: "serial", Op: "open", Err: err}
	}
	if err := port.SetReadTimeout(s.timeout); err != nil {
		return &TransportError{Backend: "serial", Op: "open", Err: err}
	}
	s.port = port
	return nil
}

func (s *Serial) IsNetwork() bool { return false }

// SetMode rejects Broadcast: a point-to-point link has no addressing
// and only ever talks to the one device at the other end.
func (s *Serial) SetMode(mode Mode) error {
	if mode.NodeID().IsBroadcast() {
		return &TransportError{
			Backend: "serial",
			Op:      "set_mode",
			Err:     errors.New("broadcast mode is not valid on a point-to-point transport"),
		}
	}
	s.mode = mode
	return nil
}

func (s *Serial) SetTimeout(d time.Duration) error {
	s.timeout = d
	if s.port != nil {
		if err := s.port.SetReadTimeout(d); err != nil {
			return &TransportError{Backend: "serial", Op: "set_timeout", Err: err}
		}
	}
	return nil
}

func (s *Serial) GetTimeout() time.Duration { return s.timeout }

func (s *Serial) Send(msg protocol.Message) error {
	raw := protocol.ToRaw(msg)
	if _, err := s.port.Write(raw[:]); err != nil {
		return &TransportError{Backend: "serial", Op: "send", Err: err}
	}
	return nil
}

// Recv reads exactly one 8-byte frame within the configured timeout.
// go.bug.st/serial's Read returns fewer bytes than requested (and no
// error) once the per-read deadline elapses rather than surfacing a
// timeout error, so short reads are retried against an overall
// deadline until the frame is complete or that deadline passes.
func (s *Serial) Recv() (protocol.Message, error) {
	buf := make([]byte, protocol.RawSize)
	got := 0
	deadline := time.Now().Add(s.timeout)
	for got < protocol.RawSize {
		n, err := s.port.Read(buf[got:])
		if err != nil {
			return protocol.Message{}, &TransportError{Backend: "serial", Op: "recv", Err: err}
		}
		got += n
		if got == protocol.RawSize {
			break
		}
		if n == 0 && time.Now().After(deadline) {
			return protocol.Message{}, ErrNoResponse
		}
	}
	var raw [protocol.RawSize]byte
	copy(raw[:], buf)
	return protocol.FromRaw(raw)
}

// ScanNetwork is not callable on a point-to-point transport: there is
// no addressing on the wire, so there is nothing to discover.
func (s *Serial) ScanNetwork() ([]uint8, error) {
	return nil, &TransportError{
		Backend: "serial",
		Op:      "scan_network",
		Err:     errors.New("discovery is not supported on a point-to-point transport"),
	}
}
