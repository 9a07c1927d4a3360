package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
)

func TestScanNetworkFindsAllNodesSortedDeduplicated(t *testing.T) {
	ResetNetwork()
	for _, id := range []uint8{1, 20, 3, 52} {
		AddNode(id)
	}

	sim := NewSim()
	require.NoError(t, sim.Open(ForSim()))

	found, err := sim.ScanNetwork()
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 3, 20, 52}, found)
}

func TestSimAttributeRead(t *testing.T) {
	ResetNetwork()
	dev := AddNode(9)
	dev.SetBootloaderVersion(0x01020304)

	sim := NewSim()
	require.NoError(t, sim.Open(ForSim()))
	require.NoError(t, sim.SetMode(SpecificMode(9)))

	req := protocol.NewStdRequest(protocol.ReqDevInfoBootloaderVersion)
	require.NoError(t, sim.Send(req))
	resp, err := sim.Recv()
	require.NoError(t, err)
	require.NoError(t, protocol.IsResponseOk(req, resp))
	assert.Equal(t, uint32(0x01020304), protocol.WordFromPayload(resp.Payload))
}

func TestSimSendError(t *testing.T) {
	ResetNetwork()
	dev := AddNode(1)
	dev.SetSendError(errors.New("Send error"))

	sim := NewSim()
	require.NoError(t, sim.Open(ForSim()))
	require.NoError(t, sim.SetMode(SpecificMode(1)))

	req := protocol.NewStdRequest(protocol.ReqDevInfoBootloaderVersion)
	err := sim.Send(req)
	require.Error(t, err)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestSimRecvTimeout(t *testing.T) {
	ResetNetwork()
	dev := AddNode(1)
	dev.SetRecvTimeout()

	sim := NewSim()
	require.NoError(t, sim.Open(ForSim()))
	require.NoError(t, sim.SetMode(SpecificMode(1)))

	req := protocol.NewStdRequest(protocol.ReqDevInfoBootloaderVersion)
	require.NoError(t, sim.Send(req))
	_, err := sim.Recv()
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestSimRecvOnUnknownNodeTimesOut(t *testing.T) {
	ResetNetwork()
	sim := NewSim()
	require.NoError(t, sim.Open(ForSim()))
	require.NoError(t, sim.SetMode(SpecificMode(200)))

	_, err := sim.Recv()
	require.ErrorIs(t, err, ErrNoResponse)
}
