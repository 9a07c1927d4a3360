// Package transport abstracts the link a Device talks over: serial,
// CAN, a simulated in-process bus, or (reserved, unimplemented)
// Ethernet. Every backend satisfies the same Transport contract; the
// flash orchestrator and device registry depend only on that
// contract, never on a concrete backend.
package transport

import (
	"fmt"
	"time"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
)

// NodeID addresses either every node on a multi-drop bus (Broadcast)
// or exactly one (Specific). Keep this a tagged variant rather than
// smuggling broadcast in as a reserved byte value.
type NodeID struct {
	broadcast bool
	node      uint8
}

// Broadcast addresses every node on a network transport. Only valid
// for discovery.
func Broadcast() NodeID { return NodeID{broadcast: true} }

// Specific addresses exactly one node.
func Specific(node uint8) NodeID { return NodeID{node: node} }

// IsBroadcast reports whether id addresses every node.
func (id NodeID) IsBroadcast() bool { return id.broadcast }

// Node returns the addressed node and true, or (0, false) if id is
// Broadcast.
func (id NodeID) Node() (uint8, bool) {
	if id.broadcast {
		return 0, false
	}
	return id.node, true
}

func (id NodeID) String() string {
	if id.broadcast {
		return "broadcast"
	}
	return fmt.Sprintf("node(%d)", id.node)
}

// Mode is the addressing mode a Transport is currently switched to.
type Mode struct {
	id NodeID
}

// BroadcastMode switches a transport to address every node.
func BroadcastMode() Mode { return Mode{id: Broadcast()} }

// SpecificMode switches a transport to address a single node.
func SpecificMode(node uint8) Mode { return Mode{id: Specific(node)} }

// NodeID returns the addressee implied by this mode.
func (m Mode) NodeID() NodeID { return m.id }

// Kind enumerates the recognized ConnParams variants.
type Kind int

const (
	KindSerial Kind = iota
	KindCAN
	KindSim
	KindEthernet // reserved: no backend implements this Kind
)

// ConnParams is a tagged configuration for Transport.Open. Only the
// fields matching Kind are meaningful.
type ConnParams struct {
	Kind Kind

	// KindSerial
	SerialPort string
	BaudRate   int

	// KindCAN
	CANInterface string
}

func ForSerial(port string, baud int) ConnParams {
	return ConnParams{Kind: KindSerial, SerialPort: port, BaudRate: baud}
}

func ForCAN(iface string) ConnParams {
	return ConnParams{Kind: KindCAN, CANInterface: iface}
}

func ForSim() ConnParams {
	return ConnParams{Kind: KindSim}
}

// TransportError wraps a link or OS-level failure: the backend's
// open, send, or receive call itself failed. Fatal to the current
// session.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport(%s): %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrNoResponse signals a receive timeout: recoverable during
// device-entry reads (the attribute is simply unknown) and during
// broadcast discovery (end of collection window); fatal everywhere
// else. It carries no payload; callers distinguish it with errors.Is.
var ErrNoResponse = fmt.Errorf("transport: no response")

// Transport is the capability set every backend satisfies. The flash
// orchestrator and device registry depend on this interface only;
// discovery additionally depends on IsNetwork/ScanNetwork. The CLI
// dispatcher branches on IsNetwork (a capability, not the backend's
// identity); flash.Orchestrator calls neither.
type Transport interface {
	// Open binds this instance to a named endpoint.
	Open(params ConnParams) error

	// IsNetwork is constant per backend: true for multi-drop buses
	// (CAN, Sim), false for point-to-point (Serial). Determines
	// whether discovery may be run.
	IsNetwork() bool

	// SetMode switches the current addressee. SetMode(BroadcastMode())
	// is rejected on a non-network transport.
	SetMode(mode Mode) error

	SetTimeout(d time.Duration) error
	GetTimeout() time.Duration

	// Send transmits one frame to the addressee implied by the
	// current mode. Returns a *TransportError on link failure.
	Send(msg protocol.Message) error

	// Recv reads at most one frame for the current addressee within
	// the timeout. Returns ErrNoResponse on timeout.
	Recv() (protocol.Message, error)

	// ScanNetwork broadcasts a Ping and collects all distinct Ack
	// responses within a bounded window. Only callable when
	// IsNetwork() is true.
	ScanNetwork() ([]uint8, error)
}
