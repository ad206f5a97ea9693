package cyclic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/connection"
	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/hwport/virtual"
	"github.com/sercos3/cosema/svc"
	"github.com/sercos3/cosema/telegram"
	"github.com/sercos3/cosema/wire"
)

func buildLayout(t *testing.T) *telegram.Layout {
	t.Helper()
	l, err := telegram.Build(telegram.BuildInput{
		CycleTimeNs: 1_000_000,
		SlaveCount:  2,
		Connections: []telegram.ConnectionRequest{
			{ConnectionNumber: 1, Telegram: cosema.MDT, ProducerIsMaster: true, Length: 2},
			{ConnectionNumber: 2, Telegram: cosema.AT, ProducerIsMaster: false, Length: 2},
		},
	})
	require.NoError(t, err)
	return l
}

func TestRunCycleProducesAndConsumes(t *testing.T) {
	layout := buildLayout(t)
	port := virtual.New(0)

	slaves := []*cosema.SlaveRecord{{Index: 0, AllowedMiss: 0}, {Index: 1, AllowedMiss: 0}}

	producer := connection.NewProducer(1)
	require.NoError(t, producer.SetConnectionState(connection.ProducerPrepare))
	require.NoError(t, producer.SetConnectionState(connection.ProducerReady))
	require.NoError(t, producer.SetConnectionState(connection.ProducerProducing))

	consumer := connection.NewConsumer(2, 0)

	h := New(port, layout, slaves, nil, 5)
	h.BindProducers([]ProducerBinding{{Slot: layout.Connections[0], Producer: producer}})
	h.BindConsumers([]ConsumerBinding{{Slot: layout.Connections[1], Consumer: consumer, SlaveIndex: 1}})

	// Simulate slave 1 (producer of connection 2) reporting SlaveValid,
	// and a first C-CON so the consumer can enter Waiting.
	rx := port.RxRAM(hwport.Port1, 0)
	sdevOff := layout.Slaves[1].SDEVOffset
	wire.PutUint16(rx[sdevOff:], uint16(cosema.SDev(0).WithSlaveValid(true)))
	ccon0 := cosema.CCon(0)
	wire.PutUint16(rx[layout.Connections[1].ByteOffset:], uint16(ccon0))
	port.SetNewestRxBufferForTest(hwport.Port1, 0, 1)

	consumer.EnterWaiting(ccon0, connection.CheckNewData)

	res := h.RunCycle()
	assert.True(t, res.OK)

	tx := port.TxRAM(0)
	cconWritten := cosema.CCon(wire.ReadUint16(tx[layout.Connections[0].ByteOffset:]))
	assert.True(t, cconWritten.NewData())

	// Next cycle: slave toggles new-data so the consumer moves from
	// Waiting to Consuming.
	ccon1 := ccon0.WithNewData(true)
	wire.PutUint16(rx[layout.Connections[1].ByteOffset:], uint16(ccon1))
	res = h.RunCycle()
	assert.True(t, res.OK)
	assert.Equal(t, connection.ConsumerConsuming, consumer.State)
}

func TestRunCycleMarksSlaveInactiveOnRepeatedMiss(t *testing.T) {
	layout := buildLayout(t)
	port := virtual.New(0)
	slaves := []*cosema.SlaveRecord{{Index: 0, AllowedMiss: 1}, {Index: 1, AllowedMiss: 1}}

	h := New(port, layout, slaves, nil, 10)
	port.SetNewestRxBufferForTest(hwport.Port1, 0, 1)

	for i := 0; i < 3; i++ {
		h.RunCycle()
	}
	// Neither slave ever has its SlaveValid bit set in Rx RAM, so both
	// exceed AllowedMiss and go Inactive.
	assert.Equal(t, cosema.Inactive, slaves[0].Activity)
	assert.Equal(t, cosema.Inactive, slaves[1].Activity)
}

func TestRunCycleTelErrorOverrun(t *testing.T) {
	layout := buildLayout(t)
	port := virtual.New(0)
	h := New(port, layout, nil, nil, 2)

	port.SetTelegramStatusForTest(hwport.Port1, hwport.TelegramStatusBits{MSTMiss: true})
	var res Result
	for i := 0; i < 4; i++ {
		res = h.RunCycle()
		port.SetTelegramStatusForTest(hwport.Port1, hwport.TelegramStatusBits{MSTMiss: true})
	}
	assert.True(t, res.TelErrorOverrun)
	assert.False(t, res.OK)
}

func TestRunCycleAdvancesSoftwareSVC(t *testing.T) {
	layout := buildLayout(t)
	port := virtual.New(0)
	ch := svc.NewMemChannel()
	engine := svc.NewEngine(nil, []svc.Channel{ch}, svc.DefaultConfig())

	req := &svc.Request{SlaveIndex: 0, Element: svc.ElementOperationData, Dir: svc.DirRead, Data: make([]byte, 4), SetEnd: true}
	require.NoError(t, engine.Submit(req))

	h := New(port, layout, nil, engine, 10)
	h.RunCycle()
	// The engine should have written a control word into the channel;
	// StepSoftware ran as part of RunCycle.
	assert.NotEqual(t, svc.ControlWord(0), ch.ControlWord())
}
