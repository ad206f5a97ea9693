package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/hwport/virtual"
	"github.com/sercos3/cosema/phase"
	"github.com/sercos3/cosema/svc"
	"github.com/sercos3/cosema/telegram"
)

func newTestInstance(t *testing.T) (*Instance, *virtual.Port) {
	t.Helper()
	port := virtual.New(1) // one hardware SVC container, slave 1 is software
	cfg := Config{
		ProjectedAddrs:   []uint16{0x10, 0x11},
		HWContainerCount: 1,
		CycleTimeNs:      1_000_000,
		MaxNbrTelErr:     10,
		SVC:              svc.DefaultConfig(),
	}
	in, err := New(port, cfg)
	require.NoError(t, err)
	return in, port
}

func driveToCP1(t *testing.T, in *Instance) {
	t.Helper()
	in.BeginPhase0()
	var st phase.FuncState
	for i := 0; i < 101; i++ {
		st = in.StepPhase0([]uint16{0x10, 0x11}, []uint16{0x10, 0x11}, 1000, 1000)
		if st.Step != phase.StepRunning {
			break
		}
	}
	require.Equal(t, phase.StepFinished, st.Step)
	require.Equal(t, cosema.PhaseCP0, in.Phase())

	in.BeginPhase1()
	st = in.StepPhase1()
	require.Equal(t, phase.StepFinished, st.Step)
	require.Equal(t, cosema.PhaseCP1, in.Phase())
	require.Len(t, in.Slaves(), 2)
}

func TestInstanceRejectsBlacklistedHardware(t *testing.T) {
	port := virtual.New(0)
	port.SetVersionForTest(hwport.VersionInfo{HardwareVersion: 0xBAD, FirmwareVersion: 1})
	hwport.BlacklistedVersions[0xBAD] = true
	defer delete(hwport.BlacklistedVersions, 0xBAD)

	_, err := New(port, Config{ProjectedAddrs: []uint16{1}, CycleTimeNs: 1_000_000})
	assert.Error(t, err)
}

func TestInstancePhaseProgressionThroughCP2(t *testing.T) {
	in, _ := newTestInstance(t)
	driveToCP1(t, in)

	in.AddConnection(telegram.ConnectionRequest{ConnectionNumber: 1, Telegram: cosema.MDT, ProducerIsMaster: true, Length: 2}, 0, 0)
	in.AddConnection(telegram.ConnectionRequest{ConnectionNumber: 2, Telegram: cosema.AT, ProducerIsMaster: false, Length: 2}, 1, 1)

	in.BeginPhase2()
	st, err := in.StepPhase2()
	require.NoError(t, err)
	require.Equal(t, phase.StepFinished, st.Step)
	require.Equal(t, cosema.PhaseCP2, in.Phase())

	assert.NotNil(t, in.Producer(1))
	assert.NotNil(t, in.Consumer(2))
}

func TestInstanceRunCycleAfterCP4(t *testing.T) {
	in, port := newTestInstance(t)
	driveToCP1(t, in)
	in.AddConnection(telegram.ConnectionRequest{ConnectionNumber: 1, Telegram: cosema.MDT, ProducerIsMaster: true, Length: 2}, 0, 0)
	in.BeginPhase2()
	_, err := in.StepPhase2()
	require.NoError(t, err)

	// CP3/CP4 transition-check macros never complete against a bare
	// virtual port with no slave responding; directly force the phase
	// forward the way a fully-driven cyclic loop eventually would, to
	// exercise RunCycle's post-CP4 wiring in isolation.
	in.phaseEngine.BeginPhase3(nil)
	st := in.StepPhase3(0, 0)
	require.Equal(t, phase.StepFinished, st.Step)

	in.phaseEngine.BeginPhase4(nil)
	st = in.StepPhase4()
	require.Equal(t, phase.StepFinished, st.Step)
	assert.Equal(t, cosema.PhaseCP4, in.Phase())

	port.SetNewestRxBufferForTest(hwport.Port1, 0, 1)
	res := in.RunCycle()
	assert.True(t, res.OK)
}

func TestInstanceHotPlugOnboardsSlave(t *testing.T) {
	in, _ := newTestInstance(t)
	driveToCP1(t, in)

	// 0x11 is projected but not yet recognized; an Active slave would be
	// rejected as already recognized.
	in.slaveByAddress(0x11).Activity = cosema.Inactive
	require.NoError(t, in.HotPlug([]uint16{0x11}))
	var st phase.FuncState
	for i := 0; i < 3 && st.Step != phase.StepFinished; i++ {
		st = in.StepHotPlug([]uint16{0x11})
		require.NotEqual(t, phase.StepFailed, st.Step)
	}
	assert.Equal(t, phase.StepFinished, st.Step)
	assert.Equal(t, cosema.Active, in.slaveByAddress(0x11).Activity)
}
