// Package device builds the typed device-attribute inventory from
// protocol exchanges and sequences the read pass a flash session
// starts with.
package device

import (
	"errors"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
	"github.com/franc0r/frankly-fw-update-cli/transport"
)

// Entry is a named protocol attribute populated by a single
// round-trip. It is created empty and becomes "known" on first
// successful read; re-reads overwrite.
type Entry struct {
	name    string
	request protocol.RequestKind
	value   *uint32
}

// NewEntry constructs an unread entry for request.
func NewEntry(name string, request protocol.RequestKind) *Entry {
	return &Entry{name: name, request: request}
}

func (e *Entry) Name() string                    { return e.name }
func (e *Entry) Request() protocol.RequestKind   { return e.request }

// Value reports the last read value and whether one is known.
func (e *Entry) Value() (uint32, bool) {
	if e.value == nil {
		return 0, false
	}
	return *e.value, true
}

// ReadFromDevice performs one round-trip against t and returns one of
// four outcomes:
//
//   - (true, nil): response echoed the request with Ack; value is set.
//   - (false, nil): receive timed out. This is recoverable, never an
//     error; the attribute is simply unknown, and value is cleared.
//   - (false, *protocol.MismatchError): a response arrived but
//     disagreed with the request; value is cleared.
//   - (false, err): a transport error, propagated unchanged; value is
//     cleared.
func (e *Entry) ReadFromDevice(t transport.Transport) (bool, error) {
	req := protocol.NewStdRequest(e.request)

	if err := t.Send(req); err != nil {
		e.value = nil
		return false, err
	}

	resp, err := t.Recv()
	if err != nil {
		e.value = nil
		if errors.Is(err, transport.ErrNoResponse) {
			return false, nil
		}
		return false, err
	}

	if err := protocol.IsResponseOk(req, resp); err != nil {
		e.value = nil
		return false, err
	}

	word := protocol.WordFromPayload(resp.Payload)
	e.value = &word
	return true, nil
}
