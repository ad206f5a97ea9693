package phase

import (
	"testing"

	"github.com/sercos3/cosema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepPhase0RequiresStableCycles(t *testing.T) {
	e := NewEngine([]uint16{1, 2, 3})
	e.BeginPhase0()

	addrs := []uint16{1, 2, 3}
	var last FuncState
	for i := 0; i < stableCyclesRequired-1; i++ {
		last = e.StepPhase0(addrs, addrs, 1000, 1000)
		assert.Equal(t, StepRunning, last.Step)
	}
	last = e.StepPhase0(addrs, addrs, 1000, 1000)
	assert.Equal(t, StepFinished, last.Step)
	assert.Equal(t, cosema.PhaseCP0, e.Phase())
}

func TestStepPhase0RestartsOnInstability(t *testing.T) {
	e := NewEngine([]uint16{1, 2})
	e.BeginPhase0()

	e.StepPhase0([]uint16{1, 2}, []uint16{1, 2}, 100, 100)
	// a differently-ordered read on the next cycle still resets the streak
	got := e.StepPhase0([]uint16{2, 1}, []uint16{2, 1}, 100, 100)
	assert.Equal(t, StepRunning, got.Step)
	assert.Equal(t, 1, e.stableCount)
}

func TestStepPhase0RejectsDuplicateAddress(t *testing.T) {
	e := NewEngine([]uint16{1, 2})
	e.BeginPhase0()

	got := e.StepPhase0([]uint16{1, 1}, []uint16{1, 1}, 100, 100)
	assert.Equal(t, StepFailed, got.Step)
	assert.Error(t, got.Err)
}

func TestStepPhase1AllocatesIndexesOnMatch(t *testing.T) {
	e := NewEngine([]uint16{10, 20})
	e.recognized = []uint16{10, 20}

	got := e.StepPhase1()
	assert.Equal(t, StepFinished, got.Step)
	assert.Equal(t, cosema.PhaseCP1, e.Phase())
	assert.Equal(t, 0, e.SlaveIndex(10))
	assert.Equal(t, 1, e.SlaveIndex(20))
	assert.Equal(t, -1, e.SlaveIndex(99))
}

func TestStepPhase1FailsOnMismatch(t *testing.T) {
	e := NewEngine([]uint16{10, 20})
	e.recognized = []uint16{10}

	got := e.StepPhase1()
	assert.Equal(t, StepFailed, got.Step)
	assert.NotEmpty(t, e.Diagnosis().Entries)
}

type fakeOp struct {
	cyclesLeft int
	err        error
}

func (f *fakeOp) Poll() {
	if f.cyclesLeft > 0 {
		f.cyclesLeft--
	}
}
func (f *fakeOp) Done() bool { return f.cyclesLeft == 0 }
func (f *fakeOp) Err() error { return f.err }

func TestStepPhase3WaitsForAllThenSwitches(t *testing.T) {
	e := NewEngine([]uint16{1, 2})
	e.recognized = []uint16{1, 2}
	require.NoError(t, e.StepPhase1().Err)

	op1 := &fakeOp{cyclesLeft: 2}
	op2 := &fakeOp{cyclesLeft: 1}
	e.BeginPhase3([]CmdPoller{op1, op2})

	got := e.StepPhase3(100, 100)
	assert.Equal(t, StepRunning, got.Step)

	got = e.StepPhase3(100, 100)
	assert.Equal(t, StepFinished, got.Step)
	assert.Equal(t, cosema.PhaseCP3, e.Phase())
}

func TestStepPhase3ReportsFailureFromOp(t *testing.T) {
	e := NewEngine([]uint16{1})
	op := &fakeOp{cyclesLeft: 0, err: cosema.NewError(cosema.ClassProtocol, 0x20, "boom")}
	e.BeginPhase3([]CmdPoller{op})

	got := e.StepPhase3(100, 100)
	assert.Equal(t, StepFailed, got.Step)
}

func TestRingDelayCompletesAfter64Samples(t *testing.T) {
	r := NewRingDelay()
	for i := 0; i < 63; i++ {
		r.Sample(1000, 1100)
		assert.False(t, r.Done)
	}
	r.Sample(1000, 1100)
	assert.True(t, r.Done)
	assert.Equal(t, uint32(1000), r.AvgPort1)
	assert.Equal(t, uint32(1100), r.AvgPort2)
	assert.NotZero(t, r.TSref)
}
