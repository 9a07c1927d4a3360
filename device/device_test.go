package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franc0r/frankly-fw-update-cli/device"
	"github.com/franc0r/frankly-fw-update-cli/transport"
)

func TestDeviceInitReadsEveryEntry(t *testing.T) {
	transport.ResetNetwork()
	transport.AddNode(5)
	sim := transport.NewSim()
	require.NoError(t, sim.Open(transport.ForSim()))
	require.NoError(t, sim.SetMode(transport.SpecificMode(5)))

	d := device.New(sim)
	require.NoError(t, d.Init())

	assert.NotZero(t, d.PageSize())
	assert.Greater(t, d.NumPages(), uint32(0))
	assert.Greater(t, d.AppPageIdx(), uint32(0))
	assert.Less(t, d.AppPageIdx(), d.NumPages())
	assert.Zero(t, d.StartAddr()%d.PageSize())
}

func TestDeviceInitFailsOnTimeout(t *testing.T) {
	transport.ResetNetwork()
	sim := transport.NewSim()
	require.NoError(t, sim.Open(transport.ForSim()))
	require.NoError(t, sim.SetMode(transport.SpecificMode(9))) // node never added

	d := device.New(sim)
	err := d.Init()
	require.Error(t, err)
}

func TestDeviceStringSummary(t *testing.T) {
	transport.ResetNetwork()
	transport.AddNode(1)
	sim := transport.NewSim()
	require.NoError(t, sim.Open(transport.ForSim()))
	require.NoError(t, sim.SetMode(transport.SpecificMode(1)))

	d := device.New(sim)
	require.NoError(t, d.Init())
	assert.Contains(t, d.String(), "flash=")
}
