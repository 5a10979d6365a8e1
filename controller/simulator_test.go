package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"repairedge/config"
)

func TestSimulatorHandshake(t *testing.T) {
	addrs, err := NewAddressMap(config.Defaults().Controller.Addresses)
	require.NoError(t, err)
	sim := NewSimulator(addrs, 20*time.Millisecond, 20*time.Millisecond)

	tr, closer, err := sim.Dial(context.Background())
	require.NoError(t, err)
	defer closer.Close()
	a := NewAdapter()
	a.Attach(tr)

	at := func(name string) bool {
		ad, _ := addrs.Lookup(name)
		return sim.Coil(ad.Offset)
	}

	require.NoError(t, a.WriteCoil("M100", true))
	require.NoError(t, a.WriteRegister("D100", 120))
	require.Eventually(t, func() bool { return at(ControllerAtItem) }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint16(120), sim.Register(100))

	require.NoError(t, a.WriteCoil("M101", true))
	require.Eventually(t, func() bool { return at(ActuatorDone) }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.WriteCoil("M101", false))
	require.False(t, at(ActuatorDone))
	require.False(t, at(ControllerAtItem))

	require.NoError(t, a.WriteCoil("M102", true))
	require.Eventually(t, func() bool { return at(ControllerAtHandoff) }, time.Second, 5*time.Millisecond)
	require.NoError(t, a.WriteCoil("M102", false))
	require.False(t, at(ControllerAtHandoff))
}

func TestSimulatorIgnoresPositionWithoutMover(t *testing.T) {
	addrs, err := NewAddressMap(config.Defaults().Controller.Addresses)
	require.NoError(t, err)
	sim := NewSimulator(addrs, 5*time.Millisecond, 5*time.Millisecond)
	a := NewAdapter()
	a.Attach(sim)

	require.NoError(t, a.WriteRegister("D100", 7))
	time.Sleep(30 * time.Millisecond)
	require.False(t, sim.Coil(110))
}

func TestSimulatorDown(t *testing.T) {
	addrs, err := NewAddressMap(config.Defaults().Controller.Addresses)
	require.NoError(t, err)
	sim := NewSimulator(addrs, time.Millisecond, time.Millisecond)
	sim.SetDown(true)

	_, _, err = sim.Dial(context.Background())
	require.Error(t, err)
	_, err = sim.ReadCoils(110, 3)
	require.Error(t, err)
}
