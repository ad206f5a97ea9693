package connection

import (
	"testing"

	"github.com/sercos3/cosema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCCon(t *testing.T, newData bool, counter uint8) cosema.CCon {
	t.Helper()
	return cosema.CCon(0).WithNewData(newData).WithCounter(counter)
}

func TestProducerLifecycle(t *testing.T) {
	p := NewProducer(1)
	require.NoError(t, p.SetConnectionState(ProducerPrepare))
	require.NoError(t, p.SetConnectionState(ProducerReady))
	require.NoError(t, p.SetConnectionState(ProducerProducing))

	c1 := p.Advance()
	c2 := p.Advance()
	assert.NotEqual(t, c1.NewData(), c2.NewData())
	assert.Equal(t, uint8(2), c2.Counter())

	require.NoError(t, p.SetConnectionState(ProducerWaiting))
	before := p.Advance()
	after := p.Advance()
	assert.Equal(t, before, after)

	assert.Error(t, p.SetConnectionState(ProducerReady))
}

func TestConsumerNewDataModeDetectsMismatch(t *testing.T) {
	c := NewConsumer(2, 1)
	initial := newCCon(t, false, 0)
	c.EnterWaiting(initial, CheckNewData)

	next := newCCon(t, true, 0)
	c.Consume(false, next)
	assert.Equal(t, ConsumerConsuming, c.State)
	assert.Equal(t, 0, c.ConsecutiveMiss)

	// Producer froze (no new-data toggle): one miss, within allowance.
	c.Consume(false, next)
	assert.Equal(t, ConsumerWarning, c.State)

	// Second consecutive miss exceeds AllowedDataLosses=1.
	c.Consume(false, next)
	assert.Equal(t, ConsumerError, c.State)

	require.NoError(t, c.ClearConnectionError())
	assert.Equal(t, ConsumerInit, c.State)
}

func TestConsumerCounterModeRequiresMonotonicAdvance(t *testing.T) {
	c := NewConsumer(3, 0)
	initial := newCCon(t, false, 5)
	c.EnterWaiting(initial, CheckCounter)

	good := newCCon(t, true, 6)
	c.Consume(false, good)
	assert.Equal(t, ConsumerConsuming, c.State)

	stale := newCCon(t, false, 6) // new-data toggled but the counter didn't advance
	c.Consume(false, stale)
	assert.Equal(t, ConsumerError, c.State) // AllowedDataLosses=0
}

func TestConsumerSkipsCycleWhenProducerMissed(t *testing.T) {
	c := NewConsumer(4, 0)
	c.EnterWaiting(newCCon(t, false, 0), CheckNewData)
	c.Consume(true, newCCon(t, true, 0))
	assert.Equal(t, ConsumerWaiting, c.State)
}
