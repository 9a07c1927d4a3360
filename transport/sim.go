package transport

import (
	"errors"
	"hash/crc32"
	"sort"
	"sync"
	"time"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
)

var errSimModeNotSupported = errors.New("sim: mode not supported")

// SimDevice is a virtual bootloader node living on the process-wide
// simulated bus. It answers protocol exchanges the same way a real
// device firmware would: it owns a flash image and a page buffer and
// mutates them in response to erase/write/CRC requests. Tests
// configure a SimDevice's attribute values and failure modes, then
// drive a real Device/flash.Orchestrator against it through the Sim
// transport.
//
// Global process-wide state is unavoidable here: it is confined to
// this file and reset explicitly by ResetNetwork at the start of
// every test that needs it. Serial and CAN carry no such state.
type SimDevice struct {
	mu sync.Mutex

	bootloaderVersion uint32
	bootloaderCRC     uint32
	vid, pid, prd, uid uint32

	startAddr uint32
	pageSize  uint32
	numPages  uint32
	appPageIdx uint32

	flash      []byte
	pageBuffer []byte
	bufCursor  int

	appCRCStored uint32

	pending         *protocol.Message
	sendErr         error
	recvErr         error
	recvTimeout     bool
	forcedResponse  *protocol.Message
	forceCRCFail    bool

	writeWordResponses []protocol.ResponseKind
}

// NewSimDevice constructs a device with a plausible default flash
// geometry (64-byte pages, 8 pages, app area starting at page 2),
// satisfying the Init invariants out of the box.
func NewSimDevice() *SimDevice {
	const pageSize, numPages, appPageIdx = 64, 8, 2
	d := &SimDevice{
		bootloaderVersion: 0x00010203,
		startAddr:         0x08000000,
		pageSize:          pageSize,
		numPages:          numPages,
		appPageIdx:        appPageIdx,
		flash:             make([]byte, pageSize*numPages),
		pageBuffer:        make([]byte, pageSize),
	}
	for i := range d.flash {
		d.flash[i] = 0xFF
	}
	d.bootloaderCRC = crc32.ChecksumIEEE(d.flash[:pageSize*appPageIdx])
	return d
}

// SetDevInfo overrides the device-info payload fields returned to
// ReqDevInfo* requests.
func (d *SimDevice) SetDevInfo(vid, pid, prd, uid uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vid, d.pid, d.prd, d.uid = vid, pid, prd, uid
}

// SetBootloaderVersion overrides the payload returned to
// ReqDevInfoBootloaderVersion.
func (d *SimDevice) SetBootloaderVersion(v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bootloaderVersion = v
}

// FlashBytes returns a copy of the app area [appPageIdx*pageSize,
// numPages*pageSize) for test assertions.
func (d *SimDevice) FlashBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := d.appPageIdx * d.pageSize
	out := make([]byte, len(d.flash)-int(start))
	copy(out, d.flash[start:])
	return out
}

// SetSendError makes the next Send addressed to this device fail with
// a *TransportError wrapping err.
func (d *SimDevice) SetSendError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendErr = err
}

// SetRecvError makes the next Recv addressed to this device fail with
// a *TransportError wrapping err.
func (d *SimDevice) SetRecvError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recvErr = err
}

// SetRecvTimeout makes the next Recv addressed to this device report
// ErrNoResponse, as if the device had not answered in time.
func (d *SimDevice) SetRecvTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recvTimeout = true
}

// SetForcedResponse makes the device answer the next request with msg
// verbatim instead of its normal computed response, regardless of
// what was actually asked. Used to exercise protocol-mismatch
// handling (an echoed request kind or response kind the caller did
// not expect) without needing a second real device.
func (d *SimDevice) SetForcedResponse(msg protocol.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forcedResponse = &msg
}

// SetForceCRCFailOnce makes the next PageBufferCalcCRC answer
// ErrCRCInvld regardless of whether the buffer actually matches,
// exercising a caller's retry-then-succeed path without needing a
// genuinely corrupted page buffer.
func (d *SimDevice) SetForceCRCFailOnce() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceCRCFail = true
}

// WriteWordResponses returns the response kind the device gave to
// each PageBufferWriteWord request since the last PageBufferClear, in
// order.
func (d *SimDevice) WriteWordResponses() []protocol.ResponseKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.ResponseKind, len(d.writeWordResponses))
	copy(out, d.writeWordResponses)
	return out
}

// handle computes the device's response to req, mutating flash/page
// buffer state as a real bootloader firmware would.
func (d *SimDevice) handle(req protocol.Message) protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.forcedResponse != nil {
		resp := *d.forcedResponse
		d.forcedResponse = nil
		return resp
	}

	ack := func(word uint32) protocol.Message {
		return protocol.Message{
			Request:  req.Request,
			Response: protocol.RespAck,
			PacketID: req.PacketID,
			Payload:  protocol.PayloadFromWord(word),
		}
	}
	respond := func(kind protocol.ResponseKind, word uint32) protocol.Message {
		return protocol.Message{
			Request:  req.Request,
			Response: kind,
			PacketID: req.PacketID,
			Payload:  protocol.PayloadFromWord(word),
		}
	}

	switch req.Request {
	case protocol.ReqPing:
		return ack(d.bootloaderVersion)
	case protocol.ReqResetDevice, protocol.ReqStartApp:
		return ack(0)

	case protocol.ReqDevInfoBootloaderVersion:
		return ack(d.bootloaderVersion)
	case protocol.ReqDevInfoBootloaderCRC:
		return ack(d.bootloaderCRC)
	case protocol.ReqDevInfoVID:
		return ack(d.vid)
	case protocol.ReqDevInfoPID:
		return ack(d.pid)
	case protocol.ReqDevInfoPRD:
		return ack(d.prd)
	case protocol.ReqDevInfoUID:
		return ack(d.uid)

	case protocol.ReqFlashInfoStartAddr:
		return ack(d.startAddr)
	case protocol.ReqFlashInfoPageSize:
		return ack(d.pageSize)
	case protocol.ReqFlashInfoNumPages:
		return ack(d.numPages)

	case protocol.ReqAppInfoPageIdx:
		return ack(d.appPageIdx)
	case protocol.ReqAppInfoCRCCalc:
		start := d.appPageIdx * d.pageSize
		return ack(crc32.ChecksumIEEE(d.flash[start:]))
	case protocol.ReqAppInfoCRCStrd:
		return ack(d.appCRCStored)

	case protocol.ReqFlashReadWord:
		addr := protocol.WordFromPayload(req.Payload)
		off := addr - d.startAddr
		if int(off)+4 > len(d.flash) {
			return respond(protocol.RespErrInvldArg, 0)
		}
		word := uint32(d.flash[off]) | uint32(d.flash[off+1])<<8 |
			uint32(d.flash[off+2])<<16 | uint32(d.flash[off+3])<<24
		return ack(word)

	case protocol.ReqPageBufferClear:
		for i := range d.pageBuffer {
			d.pageBuffer[i] = 0xFF
		}
		d.bufCursor = 0
		d.writeWordResponses = nil
		return ack(0)

	case protocol.ReqPageBufferWriteWord:
		if d.bufCursor+4 > len(d.pageBuffer) {
			d.writeWordResponses = append(d.writeWordResponses, protocol.RespErrPageFull)
			return respond(protocol.RespErrPageFull, 0)
		}
		word := protocol.WordFromPayload(req.Payload)
		d.pageBuffer[d.bufCursor] = byte(word)
		d.pageBuffer[d.bufCursor+1] = byte(word >> 8)
		d.pageBuffer[d.bufCursor+2] = byte(word >> 16)
		d.pageBuffer[d.bufCursor+3] = byte(word >> 24)
		d.bufCursor += 4
		if d.bufCursor == len(d.pageBuffer) {
			d.writeWordResponses = append(d.writeWordResponses, protocol.RespAckPageFull)
			return respond(protocol.RespAckPageFull, 0)
		}
		d.writeWordResponses = append(d.writeWordResponses, protocol.RespAck)
		return ack(0)

	case protocol.ReqPageBufferReadWord:
		idx := int(protocol.WordFromPayload(req.Payload))
		if idx < 0 || idx+4 > len(d.pageBuffer) {
			return respond(protocol.RespErrInvldArg, 0)
		}
		word := uint32(d.pageBuffer[idx]) | uint32(d.pageBuffer[idx+1])<<8 |
			uint32(d.pageBuffer[idx+2])<<16 | uint32(d.pageBuffer[idx+3])<<24
		return ack(word)

	case protocol.ReqPageBufferCalcCRC:
		if d.forceCRCFail {
			d.forceCRCFail = false
			return respond(protocol.RespErrCRCInvld, 0)
		}
		expected := protocol.WordFromPayload(req.Payload)
		got := crc32.ChecksumIEEE(d.pageBuffer)
		if got != expected {
			return respond(protocol.RespErrCRCInvld, 0)
		}
		return ack(got)

	case protocol.ReqPageBufferWriteToFlash:
		page := protocol.WordFromPayload(req.Payload)
		start := page * d.pageSize
		if int(start)+len(d.pageBuffer) > len(d.flash) {
			return respond(protocol.RespErrInvldArg, 0)
		}
		copy(d.flash[start:], d.pageBuffer)
		return ack(0)

	case protocol.ReqFlashWriteErasePage:
		page := protocol.WordFromPayload(req.Payload)
		start := page * d.pageSize
		if int(start)+int(d.pageSize) > len(d.flash) {
			return respond(protocol.RespErrInvldArg, 0)
		}
		for i := start; i < start+d.pageSize; i++ {
			d.flash[i] = 0xFF
		}
		return ack(0)

	case protocol.ReqFlashWriteAppCRC:
		d.appCRCStored = protocol.WordFromPayload(req.Payload)
		return ack(d.appCRCStored)

	default:
		return respond(protocol.RespUnknownReq, 0)
	}
}

// network is the process-wide registry of simulated nodes, analogous
// to the Rust sim_api module's global network state.
var network = struct {
	mu    sync.Mutex
	nodes map[uint8]*SimDevice
}{nodes: map[uint8]*SimDevice{}}

// ResetNetwork clears every configured simulated node. Call at the
// start of every test that uses the simulated bus.
func ResetNetwork() {
	network.mu.Lock()
	defer network.mu.Unlock()
	network.nodes = map[uint8]*SimDevice{}
}

// AddNode registers a new SimDevice at node id and returns it so the
// caller can configure attribute values or failure modes.
func AddNode(id uint8) *SimDevice {
	network.mu.Lock()
	defer network.mu.Unlock()
	d := NewSimDevice()
	network.nodes[id] = d
	return d
}

func lookupNode(id uint8) (*SimDevice, bool) {
	network.mu.Lock()
	defer network.mu.Unlock()
	d, ok := network.nodes[id]
	return d, ok
}

// Sim is the Transport backend for the simulated bus: a multi-drop
// network used for tests and dry-runs, backed entirely by the
// process-wide registry above.
type Sim struct {
	mode    Mode
	timeout time.Duration
}

// NewSim constructs an unopened Sim transport.
func NewSim() *Sim {
	return &Sim{mode: SpecificMode(0), timeout: time.Second}
}

func (s *Sim) Open(params ConnParams) error {
	// Port name is ignored: the simulated bus is process-wide, not
	// bound to a named endpoint.
	return nil
}

func (s *Sim) IsNetwork() bool { return true }

func (s *Sim) SetMode(mode Mode) error {
	s.mode = mode
	return nil
}

func (s *Sim) SetTimeout(d time.Duration) error {
	s.timeout = d
	return nil
}

func (s *Sim) GetTimeout() time.Duration { return s.timeout }

func (s *Sim) Send(msg protocol.Message) error {
	node, ok := s.mode.NodeID().Node()
	if !ok {
		// Broadcast sends outside of ScanNetwork are not part of the
		// normal flashing flow; nothing to do.
		return nil
	}
	dev, found := lookupNode(node)
	if !found {
		return nil
	}
	dev.mu.Lock()
	sendErr := dev.sendErr
	dev.sendErr = nil
	dev.mu.Unlock()
	if sendErr != nil {
		return &TransportError{Backend: "sim", Op: "send", Err: sendErr}
	}
	resp := dev.handle(msg)
	dev.mu.Lock()
	dev.pending = &resp
	dev.mu.Unlock()
	return nil
}

func (s *Sim) Recv() (protocol.Message, error) {
	node, ok := s.mode.NodeID().Node()
	if !ok {
		return protocol.Message{}, &TransportError{Backend: "sim", Op: "recv", Err: errSimModeNotSupported}
	}
	dev, found := lookupNode(node)
	if !found {
		return protocol.Message{}, ErrNoResponse
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.recvErr != nil {
		err := dev.recvErr
		dev.recvErr = nil
		return protocol.Message{}, &TransportError{Backend: "sim", Op: "recv", Err: err}
	}
	if dev.recvTimeout {
		dev.recvTimeout = false
		return protocol.Message{}, ErrNoResponse
	}
	if dev.pending == nil {
		return protocol.Message{}, ErrNoResponse
	}
	resp := *dev.pending
	dev.pending = nil
	return resp, nil
}

// ScanNetwork broadcasts a Ping across every registered node and
// returns the sorted, deduplicated set of node ids that would Ack it.
// Implemented directly against the registry (not via Send/Recv): the
// generic addressing model has no notion of "which node answered",
// only a network backend itself can report that.
func (s *Sim) ScanNetwork() ([]uint8, error) {
	network.mu.Lock()
	ids := make([]uint8, 0, len(network.nodes))
	for id, dev := range network.nodes {
		ping := protocol.NewStdRequest(protocol.ReqPing)
		resp := dev.handle(ping)
		if protocol.IsResponseOk(ping, resp) == nil {
			ids = append(ids, id)
		}
	}
	network.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
