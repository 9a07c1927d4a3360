package protocol

import "fmt"

// RawSize is the length in bytes of a Message on the wire.
const RawSize = 8

// Payload is the opaque 4-byte data field of a Message, addressable
// either as four bytes or as a single little-endian 32-bit word.
type Payload [4]byte

// WordFromPayload decodes p as an unsigned, LSB-first 32-bit word:
// word = b0 | (b1<<8) | (b2<<16) | (b3<<24).
func WordFromPayload(p Payload) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

// PayloadFromWord is the inverse of WordFromPayload.
func PayloadFromWord(word uint32) Payload {
	return Payload{
		byte(word),
		byte(word >> 8),
		byte(word >> 16),
		byte(word >> 24),
	}
}

// Message is a fixed, flat record exchanged with a bootloader: a
// request kind, the response kind the device reports (RespNone on
// requests), a packet id echoed by the device, and a 4-byte payload.
// Messages are value types with no lifetime beyond a single exchange.
type Message struct {
	Request  RequestKind
	Response ResponseKind
	PacketID uint8
	Payload  Payload
}

// NewRequest builds a request frame: response kind is always RespNone
// on a request.
func NewRequest(kind RequestKind, packetID uint8, payload Payload) Message {
	return Message{
		Request:  kind,
		Response: RespNone,
		PacketID: packetID,
		Payload:  payload,
	}
}

// NewStdRequest builds a request with packet id 0 and a zero payload,
// the form used for device-info reads and discovery pings.
func NewStdRequest(kind RequestKind) Message {
	return NewRequest(kind, 0, Payload{})
}

// ToRaw encodes m into the 8-byte wire layout:
//
//	[0..2) request code, u16 little-endian
//	[2..3) response code, u8
//	[3..4) packet id, u8
//	[4..8) payload, natural byte order
func ToRaw(m Message) [RawSize]byte {
	var raw [RawSize]byte
	code := m.Request.ToU16()
	raw[0] = byte(code)
	raw[1] = byte(code >> 8)
	raw[2] = m.Response.ToU8()
	raw[3] = m.PacketID
	copy(raw[4:8], m.Payload[:])
	return raw
}

// FromRaw decodes an 8-byte wire frame into a Message. Unknown
// request or response codes are reported as a *DecodeError rather
// than panicking: frames received from hardware can be malformed and
// callers must be able to recover.
func FromRaw(raw [RawSize]byte) (Message, error) {
	code := uint16(raw[0]) | uint16(raw[1])<<8
	request, err := RequestKindFromU16(code)
	if err != nil {
		return Message{}, err
	}
	response, err := ResponseKindFromU8(raw[2])
	if err != nil {
		return Message{}, err
	}
	var payload Payload
	copy(payload[:], raw[4:8])
	return Message{
		Request:  request,
		Response: response,
		PacketID: raw[3],
		Payload:  payload,
	}, nil
}

// MismatchError reports a well-formed exchange whose semantics
// disagree with what was expected: the echoed request kind differs,
// or the response kind is not Ack. It carries both observed kinds for
// diagnostics.
type MismatchError struct {
	WantRequest  RequestKind
	GotRequest   RequestKind
	GotResponse  ResponseKind
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf(
		"protocol: unexpected response: sent request %s, got request %s response %s",
		e.WantRequest, e.GotRequest, e.GotResponse,
	)
}

// IsResponseOk reports whether response is a valid Ack to request:
// the response's request kind must echo the request's kind and its
// response kind must be RespAck. Any other combination is returned as
// a *MismatchError, distinguishable from a transport-level failure.
func IsResponseOk(request, response Message) error {
	if response.Request != request.Request || response.Response != RespAck {
		return &MismatchError{
			WantRequest: request.Request,
			GotRequest:  response.Request,
			GotResponse: response.Response,
		}
	}
	return nil
}
