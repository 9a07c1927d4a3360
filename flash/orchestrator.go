// Package flash implements the page-oriented flashing state machine:
// init/erase/write/verify sequencing against one Device, driven
// entirely by protocol Acks.
package flash

import (
	"errors"
	"fmt"
	"hash/crc32"
	"log"

	"github.com/franc0r/frankly-fw-update-cli/device"
	"github.com/franc0r/frankly-fw-update-cli/image"
	"github.com/franc0r/frankly-fw-update-cli/protocol"
	"github.com/franc0r/frankly-fw-update-cli/transport"
)

// State is one node of the session state machine: Init -> Ready ->
// Erasing -> Writing -> Verifying -> Done, with a single Failed sink.
type State int

const (
	StateInit State = iota
	StateReady
	StateErasing
	StateWriting
	StateVerifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateErasing:
		return "erasing"
	case StateWriting:
		return "writing"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Orchestrator sequences one end-to-end flashing session against a
// single Device. It does not itself issue StartApp or ResetDevice;
// those are separate operations exposed for the CLI.
type Orchestrator struct {
	dev      *device.Device
	tr       transport.Transport
	state    State
	packetID uint8

	// Logger, if non-nil, receives advisory notices (packet id
	// mismatches, page CRC retries). The protocol core itself does
	// not log; this is nil unless a caller, typically the CLI
	// dispatcher, opts in.
	Logger *log.Logger
}

// New builds an Orchestrator around dev. dev's transport must already
// be open and addressed to the target node.
func New(dev *device.Device) *Orchestrator {
	return &Orchestrator{dev: dev, tr: dev.Transport(), state: StateInit}
}

func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

func (o *Orchestrator) fail(err error) error {
	o.state = StateFailed
	return err
}

func (o *Orchestrator) nextPacketID() uint8 {
	id := o.packetID
	o.packetID++
	return id
}

// exchange sends one request and waits for its response, incrementing
// the packet id per outgoing message. Every request/response pair in
// a session is issued strictly half-duplex: this method never returns
// before the response (or a failure) arrives.
func (o *Orchestrator) exchange(kind protocol.RequestKind, payload protocol.Payload) (protocol.Message, error) {
	req := protocol.NewRequest(kind, o.nextPacketID(), payload)
	if err := o.tr.Send(req); err != nil {
		return protocol.Message{}, err
	}
	resp, err := o.tr.Recv()
	if err != nil {
		if errors.Is(err, transport.ErrNoResponse) {
			return protocol.Message{}, fmt.Errorf("flash: no response to %s: %w", kind, err)
		}
		return protocol.Message{}, err
	}
	if resp.PacketID != req.PacketID {
		o.logf("flash: packet id mismatch on %s: sent %d, device echoed %d (advisory)",
			kind, req.PacketID, resp.PacketID)
	}
	return resp, nil
}

// requireAck sends a request and requires the device answer with Ack
// echoing the same request kind.
func (o *Orchestrator) requireAck(kind protocol.RequestKind, payload protocol.Payload) error {
	resp, err := o.exchange(kind, payload)
	if err != nil {
		return err
	}
	return protocol.IsResponseOk(protocol.Message{Request: kind}, resp)
}

// Init reads the device's full attribute inventory and validates the
// flash geometry invariants that must hold before anything else may
// proceed.
func (o *Orchestrator) Init() error {
	if err := o.dev.Init(); err != nil {
		return o.fail(fmt.Errorf("flash: init: %w", err))
	}
	o.state = StateReady
	return nil
}

// Erase erases every page in the app area, in ascending order. Erase
// is idempotent and carries no CRC check.
func (o *Orchestrator) Erase() error {
	o.state = StateErasing
	n, a := o.dev.NumPages(), o.dev.AppPageIdx()
	for k := a; k < n; k++ {
		if err := o.requireAck(protocol.ReqFlashWriteErasePage, protocol.PayloadFromWord(k)); err != nil {
			return o.fail(fmt.Errorf("flash: erase page %d: %w", k, err))
		}
	}
	o.state = StateReady
	return nil
}

// appAreaLen returns the byte length of the app area [A, N) in pages
// of size P.
func (o *Orchestrator) appAreaLen() uint32 {
	return (o.dev.NumPages() - o.dev.AppPageIdx()) * o.dev.PageSize()
}

// pageBytes renders the pageSize bytes of img starting at image
// offset imgOffset, padding with 0xFF fill past the image's own
// length, in address order.
func pageBytes(img image.Image, imgOffset, pageSize uint32) ([]byte, error) {
	buf := make([]byte, pageSize)
	for off := uint32(0); off < pageSize; off += 4 {
		w, err := img.WordAt(imgOffset + off)
		if err != nil {
			return nil, err
		}
		p := protocol.PayloadFromWord(w)
		copy(buf[off:off+4], p[:])
	}
	return buf, nil
}

func pageHasContent(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return true
		}
	}
	return false
}

// Write partitions img into device pages and programs every page
// whose range holds at least one non-fill byte, plus unconditionally
// the page containing the image's last byte.
func (o *Orchestrator) Write(img image.Image) error {
	o.state = StateWriting
	p, n, a, s := o.dev.PageSize(), o.dev.NumPages(), o.dev.AppPageIdx(), o.dev.StartAddr()

	endPage := a
	if imgLen := uint32(img.LenBytes()); imgLen > 0 {
		endPage = a + (imgLen-1)/p
	}

	for pageIdx := a; pageIdx < n; pageIdx++ {
		imgOffset := (pageIdx - a) * p
		buf, err := pageBytes(img, imgOffset, p)
		if err != nil {
			return o.fail(fmt.Errorf("flash: page %d: %w", pageIdx, err))
		}
		if !pageHasContent(buf) && pageIdx != endPage {
			continue
		}
		addr := s + pageIdx*p
		if err := o.writePage(pageIdx, addr, buf); err != nil {
			return o.fail(fmt.Errorf("flash: page %d: %w", pageIdx, err))
		}
	}
	return nil
}

// writePage performs one page-programming transaction: clear, write
// every word, check the page CRC, then commit to flash. It retries
// once on a CRC mismatch with a fresh Clear and full rewrite; a
// second failure is fatal.
func (o *Orchestrator) writePage(pageIdx, addr uint32, buf []byte) error {
	const maxAttempts = 2
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := o.requireAck(protocol.ReqPageBufferClear, protocol.Payload{}); err != nil {
			return fmt.Errorf("clear: %w", err)
		}

		wordCount := uint32(len(buf)) / 4
		for i := uint32(0); i < wordCount; i++ {
			var p protocol.Payload
			copy(p[:], buf[i*4:i*4+4])
			resp, err := o.exchange(protocol.ReqPageBufferWriteWord, p)
			if err != nil {
				return fmt.Errorf("write word %d: %w", i, err)
			}
			if resp.Request != protocol.ReqPageBufferWriteWord {
				return &protocol.MismatchError{
					WantRequest: protocol.ReqPageBufferWriteWord,
					GotRequest:  resp.Request,
					GotResponse: resp.Response,
				}
			}
			isLast := i == wordCount-1
			switch {
			case isLast && resp.Response == protocol.RespAckPageFull:
				// expected: page buffer reports full on the last word
			case !isLast && resp.Response == protocol.RespAck:
				// expected: room remains
			case resp.Response == protocol.RespErrPageFull:
				return fmt.Errorf("page buffer reported full before the last word (page size mismatch)")
			default:
				return fmt.Errorf("unexpected response %s to write word %d", resp.Response, i)
			}
		}

		crc := crc32.ChecksumIEEE(buf)
		crcResp, err := o.exchange(protocol.ReqPageBufferCalcCRC, protocol.PayloadFromWord(crc))
		if err != nil {
			return fmt.Errorf("calc crc: %w", err)
		}
		if crcResp.Request != protocol.ReqPageBufferCalcCRC {
			return &protocol.MismatchError{
				WantRequest: protocol.ReqPageBufferCalcCRC,
				GotRequest:  crcResp.Request,
				GotResponse: crcResp.Response,
			}
		}
		switch crcResp.Response {
		case protocol.RespAck:
			// buffer verified, fall through to commit
		case protocol.RespErrCRCInvld:
			if attempt < maxAttempts {
				o.logf("flash: page %d CRC mismatch on attempt %d, retrying with fresh clear+rewrite", pageIdx, attempt)
				continue
			}
			return fmt.Errorf("page CRC mismatch after retry")
		default:
			return fmt.Errorf("unexpected response %s to calc crc", crcResp.Response)
		}

		if err := o.requireAck(protocol.ReqPageBufferWriteToFlash, protocol.PayloadFromWord(pageIdx)); err != nil {
			return fmt.Errorf("write to flash: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted retries")
}

// Verify computes the CRC of the full application area and confirms
// the device agrees, both freshly computed and as stored.
func (o *Orchestrator) Verify(img image.Image) error {
	o.state = StateVerifying

	buf, err := pageBytes(img, 0, o.appAreaLen())
	if err != nil {
		return o.fail(fmt.Errorf("flash: verify: %w", err))
	}
	crc := crc32.ChecksumIEEE(buf)

	if err := o.requireAck(protocol.ReqFlashWriteAppCRC, protocol.PayloadFromWord(crc)); err != nil {
		return o.fail(fmt.Errorf("flash: verify: write app crc: %w", err))
	}

	calcResp, err := o.exchange(protocol.ReqAppInfoCRCCalc, protocol.Payload{})
	if err != nil {
		return o.fail(fmt.Errorf("flash: verify: app crc calc: %w", err))
	}
	if err := protocol.IsResponseOk(protocol.Message{Request: protocol.ReqAppInfoCRCCalc}, calcResp); err != nil {
		return o.fail(fmt.Errorf("flash: verify: app crc calc: %w", err))
	}
	if got := protocol.WordFromPayload(calcResp.Payload); got != crc {
		return o.fail(fmt.Errorf("flash: verify: app crc calc mismatch: want 0x%08x got 0x%08x", crc, got))
	}

	strdResp, err := o.exchange(protocol.ReqAppInfoCRCStrd, protocol.Payload{})
	if err != nil {
		return o.fail(fmt.Errorf("flash: verify: app crc stored: %w", err))
	}
	if err := protocol.IsResponseOk(protocol.Message{Request: protocol.ReqAppInfoCRCStrd}, strdResp); err != nil {
		return o.fail(fmt.Errorf("flash: verify: app crc stored: %w", err))
	}
	if got := protocol.WordFromPayload(strdResp.Payload); got != crc {
		return o.fail(fmt.Errorf("flash: verify: app crc stored mismatch: want 0x%08x got 0x%08x", crc, got))
	}

	o.state = StateDone
	return nil
}

// Flash runs the full erase/write/verify sequence. Init must already
// have succeeded.
func (o *Orchestrator) Flash(img image.Image) error {
	if err := o.Erase(); err != nil {
		return err
	}
	if err := o.Write(img); err != nil {
		return err
	}
	return o.Verify(img)
}

// Run is the full session: Init, then Flash.
func (o *Orchestrator) Run(img image.Image) error {
	if err := o.Init(); err != nil {
		return err
	}
	return o.Flash(img)
}

// StartApp asks the device to exit the bootloader and start the
// application. Not part of Run: exposed separately for the CLI.
func (o *Orchestrator) StartApp() error {
	return o.requireAck(protocol.ReqStartApp, protocol.Payload{})
}

// ResetDevice asks the device to perform a hardware reset. Not part
// of Run: exposed separately for the CLI.
func (o *Orchestrator) ResetDevice() error {
	return o.requireAck(protocol.ReqResetDevice, protocol.Payload{})
}
