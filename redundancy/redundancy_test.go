package redundancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/hwport/virtual"
	"github.com/sercos3/cosema/phase"
)

func TestClassifyRing(t *testing.T) {
	assert.Equal(t, TopologyRing, classify(
		hwport.LinkStatus{Link: true, Line: true},
		hwport.LinkStatus{Link: true, Line: true}))
}

func TestClassifyBrokenRing(t *testing.T) {
	assert.Equal(t, TopologyBrokenRing, classify(
		hwport.LinkStatus{Link: true, Line: false},
		hwport.LinkStatus{Link: true, Line: true}))
}

func TestClassifyNoLink(t *testing.T) {
	assert.Equal(t, TopologyNoLink, classify(
		hwport.LinkStatus{}, hwport.LinkStatus{}))
}

func TestObserveReportsChange(t *testing.T) {
	port := virtual.New(0)
	port.SetLineStatusForTest(hwport.Port1, hwport.LinkStatus{Link: true, Line: true})
	port.SetLineStatusForTest(hwport.Port2, hwport.LinkStatus{Link: true, Line: true})
	m := New(port)
	require.Equal(t, TopologyRing, m.Current())

	_, changed := m.Observe()
	assert.False(t, changed)

	port.SetLineStatusForTest(hwport.Port2, hwport.LinkStatus{Link: true, Line: false})
	topo, changed := m.Observe()
	assert.True(t, changed)
	assert.Equal(t, TopologyBrokenRing, topo)
}

func TestRecoverRingTopologyRequiresFreshDelayMeasurement(t *testing.T) {
	port := virtual.New(0)
	port.SetLineStatusForTest(hwport.Port1, hwport.LinkStatus{Link: true, Line: false})
	port.SetLineStatusForTest(hwport.Port2, hwport.LinkStatus{Link: true, Line: true})
	m := New(port)
	require.Equal(t, TopologyBrokenRing, m.Current())

	m.BeginRecoverRingTopology()
	st := m.StepRecoverRingTopology(1000, 1000)
	assert.Equal(t, TopologyBrokenRing.String(), m.Current().String())
	_ = st

	// Physical repair: ring restored.
	port.SetLineStatusForTest(hwport.Port1, hwport.LinkStatus{Link: true, Line: true})
	for i := 0; i < 64; i++ {
		st = m.StepRecoverRingTopology(1000, 1000)
	}
	require.Equal(t, phase.StepFinished, st.Step)
	assert.True(t, m.RingDelayResult().Done)
	assert.Equal(t, TopologyRing, m.Current())
}

func TestOpenRingRejectsWhenNotRing(t *testing.T) {
	port := virtual.New(0)
	port.SetLineStatusForTest(hwport.Port1, hwport.LinkStatus{Link: true, Line: false})
	m := New(port)
	err := m.OpenRing(1, 2)
	assert.Error(t, err)
}

func TestOpenRingSucceeds(t *testing.T) {
	port := virtual.New(0)
	port.SetLineStatusForTest(hwport.Port1, hwport.LinkStatus{Link: true, Line: true})
	port.SetLineStatusForTest(hwport.Port2, hwport.LinkStatus{Link: true, Line: true})
	m := New(port)
	require.NoError(t, m.OpenRing(0x10, 0x11))
}
