package device_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franc0r/frankly-fw-update-cli/device"
	"github.com/franc0r/frankly-fw-update-cli/protocol"
	"github.com/franc0r/frankly-fw-update-cli/transport"
)

func newSimAddressedAt(t *testing.T, node uint8) (*transport.SimDevice, transport.Transport) {
	t.Helper()
	transport.ResetNetwork()
	dev := transport.AddNode(node)
	sim := transport.NewSim()
	require.NoError(t, sim.Open(transport.ForSim()))
	require.NoError(t, sim.SetMode(transport.SpecificMode(node)))
	return dev, sim
}

func TestEntryNew(t *testing.T) {
	e := device.NewEntry("Bootloader Version", protocol.ReqDevInfoBootloaderVersion)
	assert.Equal(t, "Bootloader Version", e.Name())
	assert.Equal(t, protocol.ReqDevInfoBootloaderVersion, e.Request())
	_, known := e.Value()
	assert.False(t, known)
}

func TestEntryReadFromDevice(t *testing.T) {
	sim, tr := newSimAddressedAt(t, 1)
	sim.SetBootloaderVersion(0x01020304)

	e := device.NewEntry("Bootloader Version", protocol.ReqDevInfoBootloaderVersion)
	ok, err := e.ReadFromDevice(tr)
	require.NoError(t, err)
	assert.True(t, ok)
	v, known := e.Value()
	require.True(t, known)
	assert.Equal(t, uint32(0x01020304), v)
}

func TestEntryReadSendError(t *testing.T) {
	sim, tr := newSimAddressedAt(t, 1)
	sim.SetSendError(errors.New("Send error"))

	e := device.NewEntry("Bootloader Version", protocol.ReqDevInfoBootloaderVersion)
	ok, err := e.ReadFromDevice(tr)
	require.Error(t, err)
	assert.False(t, ok)
	_, known := e.Value()
	assert.False(t, known)
}

func TestEntryReadRecvTimeout(t *testing.T) {
	sim, tr := newSimAddressedAt(t, 1)
	sim.SetRecvTimeout()

	e := device.NewEntry("Bootloader Version", protocol.ReqDevInfoBootloaderVersion)
	ok, err := e.ReadFromDevice(tr)
	require.NoError(t, err)
	assert.False(t, ok)
	_, known := e.Value()
	assert.False(t, known)
}

func TestEntryReadProtocolMismatch(t *testing.T) {
	sim, tr := newSimAddressedAt(t, 1)
	sim.SetForcedResponse(protocol.Message{
		Request:  protocol.ReqDevInfoVID,
		Response: protocol.RespAck,
	})

	e := device.NewEntry("Bootloader Version", protocol.ReqDevInfoBootloaderVersion)
	ok, err := e.ReadFromDevice(tr)
	require.Error(t, err)
	assert.False(t, ok)

	var mismatch *protocol.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, protocol.ReqDevInfoBootloaderVersion, mismatch.WantRequest)
	assert.Equal(t, protocol.ReqDevInfoVID, mismatch.GotRequest)

	_, known := e.Value()
	assert.False(t, known)
}
