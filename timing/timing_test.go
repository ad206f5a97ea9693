package timing

import (
	"testing"

	"github.com/sercos3/cosema/hwport/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventControlRejectsOutOfRangeTime(t *testing.T) {
	port := virtual.New(0)
	c := NewController(port, 1000000)

	err := c.EventControl(Timer0, true, 999999)
	assert.Error(t, err)

	err = c.EventControl(Timer0, true, 500000)
	assert.NoError(t, err)
}

func TestPrepareCYCCLKFractionRejectsOutOfRange(t *testing.T) {
	port := virtual.New(0)
	c := NewController(port, 1000000)

	assert.Error(t, c.PrepareCYCCLKFraction(true, false, false, 1.5))
	require.NoError(t, c.PrepareCYCCLKFraction(true, false, false, 0.5))
}

func TestSercosTimeRoundTrips(t *testing.T) {
	port := virtual.New(0)
	c := NewController(port, 1000000)

	require.NoError(t, c.NewSercosTime(SercosTime{Seconds: 42, Nanos: 123}))
	got := c.CurrentSercosTime()
	assert.Equal(t, SercosTime{Seconds: 42, Nanos: 123}, got)
}
