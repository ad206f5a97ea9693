package svc

import (
	"testing"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/hwport/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(nSoft int) (*Engine, []*memChannel) {
	channels := make([]Channel, nSoft)
	raw := make([]*memChannel, nSoft)
	for i := range channels {
		mc := NewMemChannel()
		channels[i] = mc
		raw[i] = mc
	}
	return NewEngine(nil, channels, DefaultConfig()), raw
}

func TestSubmitSoftwareWritesInitialControl(t *testing.T) {
	e, raw := newTestEngine(1)
	req := &Request{SlaveIndex: 0, Element: ElementOperationData, Dir: DirWrite, Data: []byte{1, 2, 3, 4}}
	require.NoError(t, e.Submit(req))
	assert.Equal(t, StateLastStep, req.State)
	assert.Equal(t, ElementOperationData, raw[0].ControlWord().Element())
	assert.True(t, raw[0].ControlWord().Write())
	assert.True(t, raw[0].ControlWord().LastTransmission(), "single-segment transfer is its own last segment")
}

func TestProcessSegmentSetsLastTransmissionOnFinalSegment(t *testing.T) {
	e, raw := newTestEngine(1)
	req := &Request{SlaveIndex: 0, Element: ElementOperationData, Dir: DirWrite, Data: make([]byte, 8)}
	require.NoError(t, e.Submit(req))
	assert.False(t, raw[0].ControlWord().LastTransmission(), "8 bytes need two segments")

	// Slave echoes the handshake bit the engine just sent, unlocking
	// the next segment.
	raw[0].SetStatusForTest(NewStatusWordForTest(raw[0].ControlWord().Handshake(), false, false, true))
	e.StepSoftware()

	assert.Equal(t, StateLastStep, req.State)
	assert.True(t, raw[0].ControlWord().LastTransmission(), "remaining 4 bytes fit in the final segment")
}

func TestSubmitSoftwareRejectsSecondLowPriority(t *testing.T) {
	e, _ := newTestEngine(1)
	first := &Request{SlaveIndex: 0, Element: ElementOperationData, Dir: DirRead, Priority: PriorityLow, Data: make([]byte, 4)}
	require.NoError(t, e.Submit(first))

	second := &Request{SlaveIndex: 0, Element: ElementName, Dir: DirRead, Priority: PriorityLow, Data: make([]byte, 4)}
	err := e.Submit(second)
	assert.ErrorIs(t, err, cosema.ErrChannelInUse)
}

func TestSubmitSoftwareHighPriorityPreemptsLow(t *testing.T) {
	e, _ := newTestEngine(1)
	low := &Request{SlaveIndex: 0, Element: ElementOperationData, Dir: DirRead, Priority: PriorityLow, Data: make([]byte, 4)}
	require.NoError(t, e.Submit(low))

	high := &Request{SlaveIndex: 0, Element: ElementName, Dir: DirRead, Priority: PriorityHigh, Data: make([]byte, 4)}
	require.NoError(t, e.Submit(high))

	assert.ErrorIs(t, low.Err, cosema.ErrRequestCanceled)
}

func TestReadCompletesAfterSlaveEchoesHandshake(t *testing.T) {
	e, raw := newTestEngine(1)
	req := &Request{SlaveIndex: 0, Element: ElementOperationData, Dir: DirRead, Data: make([]byte, 4), SetEnd: true}
	require.NoError(t, e.Submit(req))

	// Simulate the slave: echo the initial (clear) handshake bit and
	// Valid, with data ready.
	raw[0].SetInfoInForTest([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	raw[0].SetStatusForTest(StatusWord(statValidBit))

	e.StepSoftware()

	assert.Equal(t, StateFinishedRequest, req.State)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, req.Data)
	assert.NoError(t, req.Err)
}

func TestHandshakeTimeoutSurfacesError(t *testing.T) {
	e, raw := newTestEngine(1)
	e.cfg.HSTimeout = 2
	req := &Request{SlaveIndex: 0, Element: ElementOperationData, Dir: DirRead, Data: make([]byte, 4)}
	require.NoError(t, e.Submit(req))

	// Status never echoes the handshake and is not Valid: timeout.
	raw[0].SetStatusForTest(0)
	for i := 0; i < 5; i++ {
		e.StepSoftware()
	}
	assert.Equal(t, StateFinishedRequest, req.State)
	assert.ErrorIs(t, req.Err, ErrHandshakeTimeout)
}

// hwContainerFixture exposes the virtual port's container test helpers
// without depending on its unexported type; a hardware-backed
// softState only ever sees it through the hwport.SVCContainer
// interface, same as the engine under test.
type hwContainerFixture interface {
	hwport.SVCContainer
	SetStatusForTest(words [5]uint16)
	SetReadInfoForTest(words [16]uint16)
}

func newTestHardwareEngine(t *testing.T) (*Engine, hwContainerFixture) {
	port := virtual.New(1)
	c, ok := port.SVCContainer(0).(hwContainerFixture)
	require.True(t, ok)
	return NewEngine([]hwport.SVCContainer{c}, nil, DefaultConfig()), c
}

func TestHardwareContainerCompletesViaPollHardware(t *testing.T) {
	e, c := newTestHardwareEngine(t)
	req := &Request{SlaveIndex: 0, Element: ElementOperationData, Dir: DirRead, Data: make([]byte, 4), SetEnd: true}
	require.NoError(t, e.Submit(req))

	c.SetReadInfoForTest([16]uint16{0xBBAA, 0xDDCC})
	c.SetStatusForTest([5]uint16{uint16(statValidBit)})

	e.PollHardware()

	assert.Equal(t, StateFinishedRequest, req.State)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, req.Data)
	assert.NoError(t, req.Err)
}

func TestHardwareContainerSurfacesDataBlockError(t *testing.T) {
	e, c := newTestHardwareEngine(t)
	req := &Request{SlaveIndex: 0, Element: ElementAttribute, Dir: DirRead, Data: make([]byte, 4)}
	require.NoError(t, e.Submit(req))

	// Slave echoes the handshake so hsOK/busyOK hold, but reports an
	// error instead of moving data: closeOut must classify the Info
	// field's error sub-code rather than a generic sentinel.
	c.SetReadInfoForTest([16]uint16{0x3002})
	c.SetStatusForTest([5]uint16{uint16(NewStatusWordForTest(false, false, true, true))})

	e.PollHardware()

	assert.Equal(t, StateFinishedRequest, req.State)
	var dbErr *cosema.Error
	require.ErrorAs(t, req.Err, &dbErr)
	assert.Equal(t, uint8(0x43), dbErr.Code)
}
