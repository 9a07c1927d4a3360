package transport

import (
	"errors"
	"sort"
	"time"

	"github.com/brutella/can"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
)

// CAN identifier scheme: broadcast uses a reserved id; requests to a
// specific node and that node's responses live in disjoint ranges so
// a responder's node id can always be recovered from the identifier
// it answers on.
const (
	canBroadcastID  uint32 = 0x000
	canRequestBase  uint32 = 0x100
	canResponseBase uint32 = 0x200

	// scanWindow bounds how long ScanNetwork collects Ack responses
	// for before declaring discovery complete.
	scanWindow = 500 * time.Millisecond
)

func canRequestID(node uint8) uint32  { return canRequestBase + uint32(node) }
func canResponseID(node uint8) uint32 { return canResponseBase + uint32(node) }

// CAN is the multi-drop transport backend for a SocketCAN interface.
// The 8-byte message is carried verbatim as the CAN payload.
type CAN struct {
	bus     *can.Bus
	inbox   chan can.Frame
	mode    Mode
	timeout time.Duration
}

// NewCAN constructs an unopened CAN transport.
func NewCAN() *CAN {
	return &CAN{mode: SpecificMode(0), timeout: time.Second}
}

func (c *CAN) Open(params ConnParams) error {
	bus, err := can.NewBusForInterfaceWithName(params.CANInterface)
	if err != nil {
		return &TransportError{Backend: "can", Op: "open", Err: err}
	}
	c.bus = bus
	c.inbox = make(chan can.Frame, 64)
	bus.SubscribeFunc(func(frm can.Frame) {
		select {
		case c.inbox <- frm:
		default:
			// Receiver not keeping up; drop rather than block the
			// bus's own read loop.
		}
	})
	go bus.ConnectAndPublish()
	return nil
}

func (c *CAN) IsNetwork() bool { return true }

func (c *CAN) SetMode(mode Mode) error {
	c.mode = mode
	return nil
}

func (c *CAN) SetTimeout(d time.Duration) error {
	c.timeout = d
	return nil
}

func (c *CAN) GetTimeout() time.Duration { return c.timeout }

func (c *CAN) Send(msg protocol.Message) error {
	var id uint32
	if node, ok := c.mode.NodeID().Node(); ok {
		id = canRequestID(node)
	} else {
		id = canBroadcastID
	}

	raw := protocol.ToRaw(msg)
	frame := can.Frame{ID: id, Length: uint8(len(raw))}
	copy(frame.Data[:], raw[:])

	if err := c.bus.Publish(frame); err != nil {
		return &TransportError{Backend: "can", Op: "send", Err: err}
	}
	return nil
}

func (c *CAN) Recv() (protocol.Message, error) {
	node, ok := c.mode.NodeID().Node()
	if !ok {
		return protocol.Message{}, &TransportError{
			Backend: "can", Op: "recv",
			Err: errors.New("recv requires a specific-node mode"),
		}
	}
	wantID := canResponseID(node)
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()

	for {
		select {
		case frm := <-c.inbox:
			if frm.ID != wantID {
				continue
			}
			var raw [protocol.RawSize]byte
			copy(raw[:], frm.Data[:])
			return protocol.FromRaw(raw)
		case <-deadline.C:
			return protocol.Message{}, ErrNoResponse
		}
	}
}

// ScanNetwork broadcasts a Ping on the reserved broadcast identifier
// and collects Ack responses for a fixed window, recovering
// each responder's node id from its response identifier.
func (c *CAN) ScanNetwork() ([]uint8, error) {
	ping := protocol.NewStdRequest(protocol.ReqPing)
	raw := protocol.ToRaw(ping)
	frame := can.Frame{ID: canBroadcastID, Length: uint8(len(raw))}
	copy(frame.Data[:], raw[:])
	if err := c.bus.Publish(frame); err != nil {
		return nil, &TransportError{Backend: "can", Op: "scan_network", Err: err}
	}

	seen := map[uint8]bool{}
	window := time.NewTimer(scanWindow)
	defer window.Stop()

	for {
		select {
		case frm := <-c.inbox:
			if frm.ID < canResponseBase || frm.ID >= canResponseBase+0x100 {
				continue
			}
			var raw [protocol.RawSize]byte
			copy(raw[:], frm.Data[:])
			resp, err := protocol.FromRaw(raw)
			if err != nil {
				continue
			}
			if protocol.IsResponseOk(ping, resp) == nil {
				seen[uint8(frm.ID-canResponseBase)] = true
			}
		case <-window.C:
			ids := make([]uint8, 0, len(seen))
			for id := range seen {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			return ids, nil
		}
	}
}
