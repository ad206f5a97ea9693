// Package connection implements component C7: the Producer and
// Consumer finite-state machines that drive one Connection Record's
// cyclic data exchange (spec §3 "Connection Record", §4.6).
//
// Grounded on the teacher's pkg/pdo/rpdo.go and tpdo.go: a small struct
// per direction holding the wire-format control word plus counters,
// advanced once per cycle by a single non-blocking method call.
package connection

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sercos3/cosema"
)

// ProducerState is the master-produced connection FSM (spec §4.6
// "Producer FSM").
type ProducerState uint8

const (
	ProducerInit ProducerState = iota
	ProducerPrepare
	ProducerReady
	ProducerProducing
	ProducerWaiting
	ProducerStopping
)

func (s ProducerState) String() string {
	switch s {
	case ProducerInit:
		return "Init"
	case ProducerPrepare:
		return "Prepare"
	case ProducerReady:
		return "Ready"
	case ProducerProducing:
		return "Producing"
	case ProducerWaiting:
		return "Waiting"
	case ProducerStopping:
		return "Stopping"
	default:
		return "unknown"
	}
}

// Producer is one master-produced connection's cyclic state (spec §3
// "Producer Side State").
type Producer struct {
	ConnectionNumber uint16
	State            ProducerState

	// CorrelationID tags this connection's log lines, so overlapping
	// failures across slaves/connections stay distinguishable in the log.
	// Extended-diagnosis entries do not carry it.
	CorrelationID uuid.UUID

	control      cosema.CCon
	producedThis []bool // bit-list of cycles data was produced this producer period

	logger *log.Entry
}

// NewProducer builds a Producer in state Init.
func NewProducer(connectionNumber uint16) *Producer {
	id := uuid.New()
	return &Producer{
		ConnectionNumber: connectionNumber,
		State:            ProducerInit,
		CorrelationID:    id,
		logger:           log.WithFields(log.Fields{"component": "connection", "conn": connectionNumber, "correlationId": id}),
	}
}

// SetConnectionState drives the application-requested transitions
// (spec §4.6: "Transitions are requested by the application via
// SetConnectionState").
func (p *Producer) SetConnectionState(target ProducerState) error {
	switch {
	case p.State == ProducerInit && target == ProducerPrepare,
		p.State == ProducerPrepare && target == ProducerReady,
		p.State == ProducerReady && target == ProducerProducing,
		p.State == ProducerProducing && target == ProducerWaiting,
		p.State == ProducerWaiting && target == ProducerProducing,
		target == ProducerStopping,
		p.State == ProducerStopping && target == ProducerInit:
		p.State = target
		return nil
	default:
		return cosema.NewError(cosema.ClassConnection, 0x02, "illegal producer connection state transition")
	}
}

// Advance runs one producer cycle (spec §4.6): in Producing it
// increments the C-CON counter and toggles the new-data bit; in
// Waiting it freezes data and leaves the new-data bit untouched. It
// records whether this cycle produced into the bit-list spec §3
// describes ("bit-list of cycles in which data was produced this
// producer period").
func (p *Producer) Advance() cosema.CCon {
	produced := p.State == ProducerProducing
	p.producedThis = append(p.producedThis, produced)
	if !produced {
		return p.control
	}
	p.control = p.control.WithCounter(cosema.NextCounter(p.control.Counter())).WithNewData(!p.control.NewData())
	return p.control
}

// ResetProducerPeriod clears the produced-cycles bit-list at the
// boundary of a producer cycle time that is a multiple of the
// communication cycle (spec §3 "producer cycle time"). The cyclic
// handler does not call it; until it is called, the list grows by one
// entry per Advance.
func (p *Producer) ResetProducerPeriod() {
	p.producedThis = p.producedThis[:0]
}

// ProducedThisPeriod reports the recorded bit-list since the last
// ResetProducerPeriod.
func (p *Producer) ProducedThisPeriod() []bool {
	return p.producedThis
}

// ConsumerCheckMode selects how a Consumer validates a producer's
// C-CON each producer cycle (spec §3 "Check Mode").
type ConsumerCheckMode uint8

const (
	CheckNewData ConsumerCheckMode = iota
	CheckCounter
)

// ConsumerState is the slave-produced connection FSM (spec §4.6
// "Consumer FSM").
type ConsumerState uint8

const (
	ConsumerInit ConsumerState = iota
	ConsumerPrepare
	ConsumerWaiting
	ConsumerConsuming
	ConsumerWarning
	ConsumerError
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerInit:
		return "Init"
	case ConsumerPrepare:
		return "Prepare"
	case ConsumerWaiting:
		return "Waiting"
	case ConsumerConsuming:
		return "Consuming"
	case ConsumerWarning:
		return "Warning"
	case ConsumerError:
		return "Error"
	default:
		return "unknown"
	}
}

// Consumer is one slave-produced connection the master consumes (spec
// §3 "Consumer Side State").
type Consumer struct {
	ConnectionNumber  uint16
	State             ConsumerState
	CheckMode         ConsumerCheckMode
	AllowedDataLosses int

	// CorrelationID tags this connection's log lines, the same role
	// uuid.New() IDs play in the teacher's own request-tracing fields.
	// Extended-diagnosis entries do not carry it.
	CorrelationID uuid.UUID

	expected        cosema.CCon
	lastObserved    cosema.CCon
	haveObservation bool

	AbsoluteErrors  int
	ConsecutiveMiss int

	logger *log.Entry
}

// NewConsumer builds a Consumer in state Init.
func NewConsumer(connectionNumber uint16, allowedDataLosses int) *Consumer {
	id := uuid.New()
	return &Consumer{
		ConnectionNumber:  connectionNumber,
		State:             ConsumerInit,
		AllowedDataLosses: allowedDataLosses,
		CorrelationID:     id,
		logger:            log.WithFields(log.Fields{"component": "connection", "conn": connectionNumber, "correlationId": id}),
	}
}

// EnterWaiting transitions Prepare -> Waiting, fixing the check mode
// from the first observed C-CON (spec §4.6: "The check mode is set
// during transition from Prepare to Waiting based on the observed
// C-CON").
func (c *Consumer) EnterWaiting(observed cosema.CCon, mode ConsumerCheckMode) {
	c.CheckMode = mode
	c.lastObserved = observed
	c.haveObservation = true
	c.State = ConsumerWaiting
}

// Consume runs one consumer cycle (spec §4.6 Consumer FSM, steps 1-6).
// producerMissed reports whether the producer's S-DEV.SlaveValid was
// missed this cycle (step 1); observed is the C-CON read from the
// current Rx buffer (step 2).
func (c *Consumer) Consume(producerMissed bool, observed cosema.CCon) {
	if producerMissed {
		return // step 1: no consumption this cycle
	}
	if c.State == ConsumerInit || c.State == ConsumerPrepare {
		return
	}
	matched := c.matches(observed)
	c.lastObserved = observed
	c.haveObservation = true

	if c.State == ConsumerWaiting {
		if !matched {
			return // no new data from the producer yet; nothing is counted
		}
		c.State = ConsumerConsuming
	}

	if matched {
		c.ConsecutiveMiss = 0
		if c.State == ConsumerWarning {
			c.State = ConsumerConsuming
		}
		return
	}

	c.AbsoluteErrors++
	c.ConsecutiveMiss++
	if c.ConsecutiveMiss > c.AllowedDataLosses {
		c.State = ConsumerError
		c.logger.WithFields(log.Fields{"consecutiveMiss": c.ConsecutiveMiss, "correlationId": c.CorrelationID}).Warn("consumer connection exceeded allowed data losses")
		return
	}
	c.State = ConsumerWarning
}

func (c *Consumer) matches(observed cosema.CCon) bool {
	if !c.haveObservation {
		return true
	}
	switch c.CheckMode {
	case CheckCounter:
		return observed.NewData() != c.lastObserved.NewData() &&
			observed.Counter() == cosema.NextCounter(c.lastObserved.Counter())
	default: // CheckNewData
		return observed.NewData() != c.lastObserved.NewData()
	}
}

// ClearConnectionError returns an Error-state consumer to Init, the
// only documented exit from Error (spec §4.6 "Error -> Init (after
// ClearConnectionError)").
func (c *Consumer) ClearConnectionError() error {
	if c.State != ConsumerError {
		return cosema.NewError(cosema.ClassConnection, 0x03, "connection is not in Error state")
	}
	c.State = ConsumerInit
	c.ConsecutiveMiss = 0
	c.haveObservation = false
	return nil
}
