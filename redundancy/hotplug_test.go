package redundancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/phase"
)

func TestHotPlugOnboardsOneSlave(t *testing.T) {
	op := NewHotPlugOp([]uint16{0x20}, []uint16{0x10, 0x20}, []uint16{0x10})

	var st phase.FuncState
	for i := 0; i < 3 && st.Step != phase.StepFinished; i++ {
		st = op.Step([]uint16{0x20})
		require.NotEqual(t, phase.StepFailed, st.Step)
	}
	assert.Equal(t, phase.StepFinished, st.Step)
	assert.Equal(t, []uint16{0x20}, op.Addrs())
}

func TestHotPlugRejectsAlreadyRecognized(t *testing.T) {
	op := NewHotPlugOp([]uint16{0x10}, []uint16{0x10}, []uint16{0x10})
	st := op.Step(nil)
	require.Equal(t, phase.StepFailed, st.Step)
	assert.ErrorIs(t, st.Err, cosema.ErrHotPlugAlreadyRecognized)
}

func TestHotPlugRejectsNotProjected(t *testing.T) {
	op := NewHotPlugOp([]uint16{0x30}, []uint16{0x10}, nil)
	st := op.Step(nil)
	require.Equal(t, phase.StepFailed, st.Step)
	assert.ErrorIs(t, st.Err, cosema.ErrHotPlugNotProjected)
}

func TestHotPlugTimesOutAfterRetryEnvelope(t *testing.T) {
	op := NewHotPlugOp([]uint16{0x20}, []uint16{0x20}, nil)
	var st phase.FuncState
	for i := 0; i < hp0ScanTimeoutCycles*hp0MaxRetries+1; i++ {
		st = op.Step(nil) // slave never answers the broadcast
		if st.Step == phase.StepFailed {
			break
		}
	}
	require.Equal(t, phase.StepFailed, st.Step)
	assert.ErrorIs(t, st.Err, cosema.ErrHotPlugPhase0Timeout)
}

func TestHotPlugCancel(t *testing.T) {
	op := NewHotPlugOp([]uint16{0x20}, []uint16{0x20}, nil)
	op.Cancel()
	st := op.Step(nil)
	require.Equal(t, phase.StepFailed, st.Step)
	assert.ErrorIs(t, st.Err, cosema.ErrHotPlugCanceled)
}

func TestTransHP2ParaRequiresAddrs(t *testing.T) {
	assert.Error(t, TransHP2Para(nil, false))
	assert.NoError(t, TransHP2Para([]uint16{0x20}, false))
	assert.ErrorIs(t, TransHP2Para([]uint16{0x20}, true), cosema.ErrHotPlugCanceled)
}
