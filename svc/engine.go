package svc

import (
	"sync"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/hwport"
	log "github.com/sirupsen/logrus"
)

// Config bounds the per-container timeout counters, expressed in
// Sercos cycles (spec §4.2 "Configuration").
type Config struct {
	HSTimeout   uint16
	BusyTimeout uint16
}

// DefaultConfig mirrors the hardware's own default busy timeout, roughly
// one second of cycles at a 1ms communication cycle.
func DefaultConfig() Config {
	return Config{HSTimeout: 100, BusyTimeout: 1000}
}

type softState struct {
	channel     Channel
	req         *Request
	hsTimeout   uint16
	busyTimeout uint16
	shadow      ControlWord // the engine's own last-intended control word
	shadowError bool        // error bit last observed when shadow was updated
	inUse       bool
	channelOpen bool
}

// Engine fans atomic SVC requests out across hardware-backed and
// software-emulated containers (spec §4.2). Both kinds are driven by
// the same softState/stepOne FSM: hardware containers ride a hwChannel
// adapter over hwport.SVCContainer, software containers ride a
// telegram-backed Channel directly.
type Engine struct {
	mu sync.Mutex

	hwContainerCount int
	hw               []*softState
	soft             []*softState

	cfg Config

	// interrupts mirrors the bit-list addressing of a 32-wide interrupt
	// register per 32 slaves (Array_Index*32+BitNumber), matching the
	// real hardware's aulSVC_Int_Flags layout.
	interrupts []uint32

	logger *log.Entry
}

// NewEngine builds an Engine over hwContainerCount hardware containers
// (slave index < hwContainerCount) and one software Channel per
// remaining slave.
func NewEngine(hw []hwport.SVCContainer, softChannels []Channel, cfg Config) *Engine {
	e := &Engine{
		hwContainerCount: len(hw),
		cfg:              cfg,
		interrupts:       make([]uint32, (len(hw)+len(softChannels))/32+1),
		logger:           log.WithField("component", "svc"),
	}
	e.hw = make([]*softState, len(hw))
	for i, c := range hw {
		e.hw[i] = &softState{channel: newHWChannel(c)}
	}
	e.soft = make([]*softState, len(softChannels))
	for i, ch := range softChannels {
		e.soft[i] = &softState{channel: ch}
	}
	return e
}

func (e *Engine) isHardware(slaveIndex int) bool {
	return slaveIndex < e.hwContainerCount
}

func (e *Engine) soften(slaveIndex int) *softState {
	return e.soft[slaveIndex-e.hwContainerCount]
}

// container resolves a slave index to its backing state, hardware or
// software, so the rest of the engine can treat both uniformly.
func (e *Engine) container(slaveIndex int) *softState {
	if e.isHardware(slaveIndex) {
		return e.hw[slaveIndex]
	}
	return e.soften(slaveIndex)
}

func (e *Engine) raiseInterrupt(slaveIndex int) {
	e.interrupts[slaveIndex/32] |= 1 << uint(slaveIndex-32*(slaveIndex/32))
}

// PollAndClearInterrupts returns and clears the SVC interrupt bitmap
// (hardware and software containers alike; bit n of word w is slave
// index 32*w+n) for the given 32-slave word, matching hwport's own
// PollAndClearInterrupts contract so a cyclic handler can treat both
// uniformly.
func (e *Engine) PollAndClearInterrupts(word int) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if word >= len(e.interrupts) {
		return 0
	}
	v := e.interrupts[word]
	e.interrupts[word] = 0
	return v
}

// Submit starts a new atomic request on its target slave (spec §4.2
// SVC atomic-request FSM, InitRequest). Single-in-flight-per-slave is
// enforced: a request to a busy slave is rejected with ErrChannelInUse
// unless req has higher priority than the in-flight one and the
// in-flight one is replaceable, in which case it is canceled.
func (e *Engine) Submit(req *Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.container(req.SlaveIndex)
	if err := e.submit(st, req); err != nil {
		return err
	}
	kind := "software"
	if e.isHardware(req.SlaveIndex) {
		kind = "hardware"
	}
	e.logger.WithFields(log.Fields{"slave": req.SlaveIndex, "idn": req.IDN}).Debugf("svc request submitted (%s)", kind)
	return nil
}

func (e *Engine) canPreempt(existing, incoming *Request) bool {
	if existing == nil {
		return true
	}
	if existing.Priority == PriorityInternal {
		return false
	}
	return incoming.Priority > existing.Priority && existing.replaceable
}

// advanceState sets req.State for the segment about to be sent and
// reports whether that segment is the last one, i.e. everything still
// to move fits in the one 4-byte chunk this control word covers (spec
// §4.2 FSM table, §8 "the last segment has the last-transmission bit
// set; all others do not").
func advanceState(req *Request, remaining int) bool {
	if remaining <= 4 {
		req.State = StateLastStep
		return true
	}
	req.State = StateRequestInProgress
	return false
}

func (e *Engine) submit(st *softState, req *Request) error {
	if st.req != nil {
		if !e.canPreempt(st.req, req) {
			return cosema.ErrChannelInUse
		}
		st.req.markCanceled()
	}
	req.replaceable = req.Priority == PriorityLow
	last := advanceState(req, len(req.Data))
	st.req = req
	st.inUse = true
	st.channelOpen = true
	st.hsTimeout = 0
	st.busyTimeout = 0
	st.shadow = newControlWord(false, false, req.Element, req.Dir == DirWrite, req.SetEnd, last)
	st.shadowError = false
	st.channel.SetControlWord(st.shadow)
	return nil
}

// StepSoftware advances every in-use software container by one Sercos
// cycle. It must be called once per cycle while in CP2..CP4 (spec §4.2
// "Software-emulated containers"); a request that finishes raises the
// interrupt bit for its slave index, read back via
// PollAndClearInterrupts.
func (e *Engine) StepSoftware() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, st := range e.soft {
		if st == nil || !st.inUse {
			continue
		}
		slaveIndex := e.hwContainerCount + i
		e.stepOne(slaveIndex, st)
	}
}

// PollHardware advances every in-use hardware container by one Sercos
// cycle. No virtual HardwarePort ever raises hwport.InterruptSVC, so
// this unconditional per-cycle poll stands in for the ISR a real MAC
// would fire; call it once per cycle alongside StepSoftware.
func (e *Engine) PollHardware() {
	for i := range e.hw {
		e.OnInterrupt(i)
	}
}

// stepOne advances a container by one cycle, hardware or software
// alike. Handshake is a per-segment toggle bit, the same idiom the
// teacher's own SDO client uses for segmented transfer: a segment is
// acknowledged once the slave's status echoes the handshake bit the
// engine last sent, at which point the engine either sends the next
// segment (toggling the bit) or, if none remains, harvests the result
// and closes out.
func (e *Engine) stepOne(slaveIndex int, st *softState) {
	status := st.channel.StatusWord()

	hsOK := false
	if st.shadow.Handshake() == status.Handshake() && status.Valid() {
		hsOK = true
	} else {
		st.hsTimeout++
	}

	busyOK := false
	if !status.Busy() {
		busyOK = true
	} else {
		st.busyTimeout++
	}

	if !st.channelOpen && !st.inUse {
		e.closeOut(slaveIndex, st, status, nil)
		return
	}
	if st.req != nil && st.req.canceled {
		e.closeOut(slaveIndex, st, status, cosema.ErrRequestCanceled)
		return
	}

	if !st.shadow.Busy() && hsOK && busyOK && status.Error() == st.shadowError {
		if !status.Error() {
			e.processSegment(slaveIndex, st, status)
			return
		}
	}

	errored := hsOK && busyOK && status.Error() && !st.shadow.Busy()
	busyTimedOut := !busyOK && st.busyTimeout > e.cfg.BusyTimeout
	hsTimedOut := !hsOK && st.hsTimeout > e.cfg.HSTimeout
	if errored || busyTimedOut || hsTimedOut {
		var err error
		if errored {
			err = dataBlockErrorFrom(st).Error()
		} else {
			err = errorFor(busyTimedOut, hsTimedOut)
		}
		e.closeOut(slaveIndex, st, status, err)
		return
	}
	st.shadowError = status.Error()
}

// dataBlockErrorFrom reads the slave's 16-bit error sub-code out of the
// info field the status-error cycle carries it in (spec §4.2 step 6)
// and records the element the failed request addressed. The caller
// turns it into one of DataBlockError.Error's fixed errors, so
// Request.Err does not carry the raw sub-code.
func dataBlockErrorFrom(st *softState) DataBlockError {
	info := st.channel.InfoRead()
	var code uint16
	if len(info) >= 2 {
		code = uint16(info[0]) | uint16(info[1])<<8
	}
	el := ElementDataStatus
	if st.req != nil {
		el = st.req.Element
	}
	return DataBlockError{Element: el, Code: code}
}

func errorFor(busyTimeout, hsTimeout bool) error {
	switch {
	case busyTimeout:
		return ErrBusyTimeout
	case hsTimeout:
		return ErrHandshakeTimeout
	default:
		return ErrGenericServiceChannel
	}
}

// processSegment runs once the slave has acknowledged the previous
// handshake cleanly (gate already checked by the caller): it moves one
// 4-byte chunk of the transfer (writing out for DirWrite, harvesting
// into the caller buffer for DirRead) and either toggles the shadow
// handshake bit to request the next chunk, or, once the whole buffer
// has moved, raises busy and closes the request out.
func (e *Engine) processSegment(slaveIndex int, st *softState, status StatusWord) {
	req := st.req
	st.hsTimeout = 0
	st.busyTimeout = 0

	n := min(4, len(req.Data)-req.Position)
	if req.Dir == DirWrite {
		st.channel.InfoWrite(req.Data[req.Position : req.Position+n])
	} else {
		copy(req.Data[req.Position:req.Position+n], st.channel.InfoRead()[:n])
	}
	req.Position += n

	if req.Position >= len(req.Data) {
		e.closeOut(slaveIndex, st, status, nil)
		return
	}

	last := advanceState(req, len(req.Data)-req.Position)
	st.shadow ^= ctrlHandshakeBit
	if last {
		st.shadow |= ctrlLastTransBit
	}
	st.channel.SetControlWord(st.shadow)
}

func (e *Engine) closeOut(slaveIndex int, st *softState, status StatusWord, err error) {
	st.shadow = st.shadow.withBusy(true)
	st.channel.SetControlWord(st.shadow)
	st.shadowError = status.Error()
	e.raiseInterrupt(slaveIndex)
	st.inUse = false
	st.channelOpen = false
	if st.req != nil {
		st.req.Err = err
		st.req.State = StateFinishedRequest
	}
	st.req = nil
}

// Cancel marks the in-flight request on slaveIndex for cancellation; it
// takes effect on the next StepSoftware/PollHardware/OnInterrupt pass.
func (e *Engine) Cancel(slaveIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.container(slaveIndex)
	st.channelOpen = false
	if st.req != nil {
		st.req.canceled = true
	}
}

// OnInterrupt drives one hardware container's RequestInProgress ->
// LastStep -> FinishedRequest transitions once its status/info can be
// harvested (spec §4.2 "Hardware containers"). A real port would call
// this from the SVC interrupt category (hwport.InterruptSVC); this
// simulation instead calls it from PollHardware every cycle. Software
// slaves finalize inline in stepOne/closeOut, so this is a no-op for
// them.
func (e *Engine) OnInterrupt(slaveIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isHardware(slaveIndex) {
		return
	}
	st := e.hw[slaveIndex]
	if !st.inUse {
		return
	}
	e.stepOne(slaveIndex, st)
}
