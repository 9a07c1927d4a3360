package device

import (
	"fmt"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
	"github.com/franc0r/frankly-fw-update-cli/transport"
)

// Entry names, used both as map keys on Device and as the human names
// shown in Entry.Name().
const (
	EntryBootloaderVersion = "bootloader_version"
	EntryBootloaderCRC     = "bootloader_crc"
	EntryVID               = "vid"
	EntryPID               = "pid"
	EntryPRD               = "prd"
	EntryUID               = "uid"
	EntryFlashStartAddr    = "flash_start_addr"
	EntryFlashPageSize     = "flash_page_size"
	EntryFlashNumPages     = "flash_num_pages"
	EntryAppPageIdx        = "app_page_idx"
	EntryAppCRCCalc        = "app_crc_calc"
	EntryAppCRCStored      = "app_crc_stored"
)

// Device owns a transport instance and the registry of entries
// covering its bootloader version, CRCs, flash geometry and app
// area. A Device lives for the duration of one flashing session and
// owns its transport exclusively.
type Device struct {
	transport transport.Transport
	entries   map[string]*Entry
	order     []string
}

// New builds a Device around an already-constructed, unopened-or-open
// transport. Callers are expected to have opened and addressed t
// before calling Init.
func New(t transport.Transport) *Device {
	d := &Device{transport: t, entries: map[string]*Entry{}}
	d.register(EntryBootloaderVersion, protocol.ReqDevInfoBootloaderVersion)
	d.register(EntryBootloaderCRC, protocol.ReqDevInfoBootloaderCRC)
	d.register(EntryVID, protocol.ReqDevInfoVID)
	d.register(EntryPID, protocol.ReqDevInfoPID)
	d.register(EntryPRD, protocol.ReqDevInfoPRD)
	d.register(EntryUID, protocol.ReqDevInfoUID)
	d.register(EntryFlashStartAddr, protocol.ReqFlashInfoStartAddr)
	d.register(EntryFlashPageSize, protocol.ReqFlashInfoPageSize)
	d.register(EntryFlashNumPages, protocol.ReqFlashInfoNumPages)
	d.register(EntryAppPageIdx, protocol.ReqAppInfoPageIdx)
	d.register(EntryAppCRCCalc, protocol.ReqAppInfoCRCCalc)
	d.register(EntryAppCRCStored, protocol.ReqAppInfoCRCStrd)
	return d
}

func (d *Device) register(name string, req protocol.RequestKind) {
	d.entries[name] = NewEntry(name, req)
	d.order = append(d.order, name)
}

// Transport returns the transport this Device owns.
func (d *Device) Transport() transport.Transport { return d.transport }

// Entry returns the named registry entry.
func (d *Device) Entry(name string) (*Entry, bool) {
	e, ok := d.entries[name]
	return e, ok
}

// Entries returns every registered entry in registration order.
func (d *Device) Entries() []*Entry {
	out := make([]*Entry, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.entries[name])
	}
	return out
}

// Init reads every entry in the registry, then checks the flash
// geometry invariants that must hold before any erase or write can be
// trusted: flash page size is non-zero and a multiple of 4; app page
// index is strictly between 0 and the number of pages; the start
// address is page-aligned. Failure of any read, or of any invariant,
// is fatal.
func (d *Device) Init() error {
	for _, name := range d.order {
		entry := d.entries[name]
		ok, err := entry.ReadFromDevice(d.transport)
		if err != nil {
			return fmt.Errorf("device: init: reading %s: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("device: init: reading %s: no response", name)
		}
	}
	return d.checkInvariants()
}

func (d *Device) value(name string) uint32 {
	v, _ := d.entries[name].Value()
	return v
}

func (d *Device) checkInvariants() error {
	pageSize := d.PageSize()
	numPages := d.NumPages()
	appPageIdx := d.AppPageIdx()
	startAddr := d.StartAddr()

	if pageSize == 0 || pageSize%4 != 0 {
		return fmt.Errorf("device: invariant violated: flash page size %d is not a non-zero multiple of 4", pageSize)
	}
	if !(appPageIdx > 0 && appPageIdx < numPages) {
		return fmt.Errorf("device: invariant violated: app page index %d is not within (0, %d)", appPageIdx, numPages)
	}
	if startAddr%pageSize != 0 {
		return fmt.Errorf("device: invariant violated: start address 0x%x is not aligned to page size %d", startAddr, pageSize)
	}
	return nil
}

// Typed accessors over the registry, valid once Init has succeeded.

func (d *Device) BootloaderVersion() uint32 { return d.value(EntryBootloaderVersion) }
func (d *Device) BootloaderCRC() uint32     { return d.value(EntryBootloaderCRC) }
func (d *Device) VID() uint32               { return d.value(EntryVID) }
func (d *Device) PID() uint32               { return d.value(EntryPID) }
func (d *Device) PRD() uint32               { return d.value(EntryPRD) }
func (d *Device) UID() uint32               { return d.value(EntryUID) }
func (d *Device) StartAddr() uint32         { return d.value(EntryFlashStartAddr) }
func (d *Device) PageSize() uint32          { return d.value(EntryFlashPageSize) }
func (d *Device) NumPages() uint32          { return d.value(EntryFlashNumPages) }
func (d *Device) AppPageIdx() uint32        { return d.value(EntryAppPageIdx) }
func (d *Device) AppCRCCalc() uint32        { return d.value(EntryAppCRCCalc) }
func (d *Device) AppCRCStored() uint32      { return d.value(EntryAppCRCStored) }

// String renders a short inventory summary, used by the CLI
// dispatcher after a successful Init.
func (d *Device) String() string {
	return fmt.Sprintf(
		"bootloader=0x%08x vid=0x%08x pid=0x%08x uid=0x%08x flash=[start=0x%08x page=%d pages=%d app_idx=%d]",
		d.BootloaderVersion(), d.VID(), d.PID(), d.UID(),
		d.StartAddr(), d.PageSize(), d.NumPages(), d.AppPageIdx(),
	)
}
