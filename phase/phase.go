// Package phase implements component C6: the ordered, timed,
// multi-cycle progression that brings a network from dark up through
// NRT->CP0->CP1->CP2->CP3->CP4 (spec §4.5).
//
// Each SetPhaseN is its own explicit state machine exposing a FuncState
// {step, sleep hint} a caller polls once per cyclic tick, rather than a
// blocking coroutine — the teacher's nmt.go plays the equivalent role
// for CANopen's NMT state machine (setState/processCommand driven by
// one Handle call per received frame); here the driver is the cyclic
// handler rather than frame reception, so each Step function takes
// exactly the inputs that cycle's telegram harvest makes available.
package phase

import (
	log "github.com/sirupsen/logrus"

	"github.com/sercos3/cosema"
)

// Step identifies where a phase-change procedure currently is.
type Step uint8

const (
	StepEntry Step = iota
	StepRunning
	StepFinished
	StepFailed
)

func (s Step) String() string {
	switch s {
	case StepEntry:
		return "Entry"
	case StepRunning:
		return "Running"
	case StepFinished:
		return "Finished"
	default:
		return "Failed"
	}
}

// FuncState is the poll result of one phase-change step call (spec §5
// "Suspension points": "every multi-cycle operation exposes a
// FuncState carrying {current step, optional sleep hint in ms}").
type FuncState struct {
	Step        Step
	SleepHintMs uint32
	Err         error
}

func running(sleepHintMs uint32) FuncState { return FuncState{Step: StepRunning, SleepHintMs: sleepHintMs} }
func finished() FuncState                  { return FuncState{Step: StepFinished} }
func failed(err error) FuncState           { return FuncState{Step: StepFailed, Err: err} }

// DiagEntry is one failure recorded against a projected slave index
// (spec §3 "Extended Diagnosis List").
type DiagEntry struct {
	SlaveIndex int
	Err        error
}

// Diagnosis accumulates per-slave failures across a phase-switch
// attempt, cleared at the start of each SetPhaseN call.
type Diagnosis struct {
	Entries []DiagEntry
}

func (d *Diagnosis) reset() { d.Entries = d.Entries[:0] }

func (d *Diagnosis) record(slaveIndex int, err error) {
	d.Entries = append(d.Entries, DiagEntry{SlaveIndex: slaveIndex, Err: err})
}

// RingDelay accumulates per-port network-propagation samples and
// derives TSref (spec §3 "Ring-Delay Measurement"). Sampled 64 times
// during SetPhase0 and SetPhase3.
type RingDelay struct {
	samplesNeeded int

	sumPort1, sumPort2     uint64
	minPort1, minPort2     uint32
	maxPort1, maxPort2     uint32
	count                  int

	AvgPort1, AvgPort2 uint32
	TSref              uint64
	Done               bool
}

// NewRingDelay starts a fresh 64-sample measurement window.
func NewRingDelay() *RingDelay {
	return &RingDelay{samplesNeeded: 64, minPort1: ^uint32(0), minPort2: ^uint32(0)}
}

// Sample records one pair of per-port propagation times (nanoseconds).
func (r *RingDelay) Sample(tNetworkPort1, tNetworkPort2 uint32) {
	if r.Done {
		return
	}
	r.sumPort1 += uint64(tNetworkPort1)
	r.sumPort2 += uint64(tNetworkPort2)
	r.minPort1 = min(r.minPort1, tNetworkPort1)
	r.minPort2 = min(r.minPort2, tNetworkPort2)
	r.maxPort1 = max(r.maxPort1, tNetworkPort1)
	r.maxPort2 = max(r.maxPort2, tNetworkPort2)
	r.count++
	if r.count >= r.samplesNeeded {
		r.complete()
	}
}

// masterJitterNs and componentsDelayNs are fixed guard terms folded
// into TSref the way original_source's CSMD_CalcTSref adds a constant
// master-processing and PHY/MAC pipeline delay on top of the measured
// wire propagation; neither is separately configurable at this layer.
const (
	masterJitterNs    = 1000
	componentsDelayNs = 2000
)

func (r *RingDelay) complete() {
	r.AvgPort1 = uint32(r.sumPort1 / uint64(r.count))
	r.AvgPort2 = uint32(r.sumPort2 / uint64(r.count))
	r.TSref = uint64(r.AvgPort1+r.AvgPort2)/2 + masterJitterNs + componentsDelayNs
	r.Done = true
}

// CmdPoller is satisfied by *macro.Op; kept minimal here so phase does
// not need to import svc/macro just to describe the interaction.
type CmdPoller interface {
	Poll()
	Done() bool
	Err() error
}

// Engine drives the NRT->CP0->CP1->CP2->CP3->CP4 progression (spec
// §4.5). One Engine belongs to one Instance; BeginPhaseN resets the
// sub-state-machine, StepPhaseN is called once per cyclic tick with
// that cycle's fresh telegram data until it reports StepFinished or
// StepFailed.
type Engine struct {
	phase cosema.Phase

	projected  []uint16
	recognized []uint16
	slaveIndex map[uint16]int

	step        Step
	cycleCount  int
	stableCount int
	lastAT0     []uint16

	ringDelay *RingDelay
	diag      Diagnosis

	pending []CmdPoller

	logger *log.Entry
}

// NewEngine builds an Engine starting in NRT with the given projected
// slave address list (spec §3 "Slave Record... projected in CP1").
func NewEngine(projected []uint16) *Engine {
	return &Engine{
		phase:     cosema.PhaseNRT,
		projected: projected,
		logger:    log.WithField("component", "phase"),
	}
}

func (e *Engine) Phase() cosema.Phase  { return e.phase }
func (e *Engine) Diagnosis() Diagnosis { return e.diag }

const (
	stableCyclesRequired = 100
	phase0TimeoutCycles  = 1000
)

// BeginPhase0 arms the stable-slave-list detection window (spec §4.5
// "SetPhase0"). The caller must have already commanded minimum-length
// CP0 MDT/AT transmission via the Hardware Port before polling.
func (e *Engine) BeginPhase0() {
	e.step = StepEntry
	e.cycleCount = 0
	e.stableCount = 0
	e.lastAT0 = nil
	e.recognized = nil
	e.ringDelay = NewRingDelay()
	e.diag.reset()
}

// StepPhase0 is called once per cycle with that cycle's AT0-derived
// address scan for each port and that cycle's ring-delay sample (spec
// §4.5 "require 100 consecutive cycles... of identical AT0 content;
// verify... ring consistency; verify no duplicate addresses"; "Ring
// delay measurement is driven as part of SetPhase0").
func (e *Engine) StepPhase0(addrPort1, addrPort2 []uint16, tNetworkPort1, tNetworkPort2 uint32) FuncState {
	if e.step == StepEntry {
		e.step = StepRunning
	}
	e.ringDelay.Sample(tNetworkPort1, tNetworkPort2)
	e.cycleCount++

	if !sameAddressSet(addrPort1, addrPort2) {
		e.stableCount = 0
		e.lastAT0 = nil
	} else if sameSlice(addrPort1, e.lastAT0) {
		e.stableCount++
	} else {
		e.stableCount = 1
		e.lastAT0 = append([]uint16(nil), addrPort1...)
	}

	if hasDuplicate(addrPort1) {
		return failed(cosema.NewError(cosema.ClassHotPlug, 0x01, "duplicate Sercos address detected during CP0 scan"))
	}

	if e.stableCount >= stableCyclesRequired {
		e.recognized = append([]uint16(nil), addrPort1...)
		e.phase = cosema.PhaseCP0
		e.logger.WithField("slaves", len(e.recognized)).Info("CP0 stable slave list recognized")
		return finished()
	}

	if e.cycleCount >= phase0TimeoutCycles {
		return failed(cosema.NewError(cosema.ClassProtocol, 0x01, "CP0 stable-slave-list detection timed out"))
	}
	return running(0)
}

// BeginPhase1 arms the projected/recognized cross-reference (spec
// §4.5 "SetPhase1").
func (e *Engine) BeginPhase1() {
	e.step = StepEntry
	e.diag.reset()
}

// StepPhase1 cross-references the projected list against the
// recognized list and allocates per-slave indexes on success.
func (e *Engine) StepPhase1() FuncState {
	for _, addr := range e.projected {
		if !contains(e.recognized, addr) {
			e.diag.record(-1, cosema.NewError(cosema.ClassConfig, 0x01, "projected slave not recognized on the ring"))
		}
	}
	for _, addr := range e.recognized {
		if !contains(e.projected, addr) {
			e.diag.record(-1, cosema.NewError(cosema.ClassConfig, 0x02, "recognized slave not projected"))
		}
	}
	if len(e.diag.Entries) > 0 {
		return failed(cosema.NewError(cosema.ClassConfig, 0x03, "projected and recognized slave lists do not match one-to-one"))
	}

	e.slaveIndex = make(map[uint16]int, len(e.projected))
	for i, addr := range e.projected {
		e.slaveIndex[addr] = i
	}
	e.phase = cosema.PhaseCP1
	return finished()
}

// SlaveIndex returns the index allocated to addr during StepPhase1, or
// -1 if addr was never projected.
func (e *Engine) SlaveIndex(addr uint16) int {
	if i, ok := e.slaveIndex[addr]; ok {
		return i
	}
	return -1
}

// BeginPhase2 arms the switch to full-length telegrams (spec §4.5
// "SetPhase2").
func (e *Engine) BeginPhase2() { e.step = StepEntry; e.diag.reset() }

// StepPhase2 commits CP2: full-length MDT/AT transmission and SVC
// availability are the caller's (telegram/svc packages') responsibility
// once this returns finished; this step only governs the phase
// transition itself.
func (e *Engine) StepPhase2() FuncState {
	e.phase = cosema.PhaseCP2
	return finished()
}

// BeginPhase3 arms the CP3 transition check: issue procedure command
// S-0-0127 to every slave concurrently and wait for all of them to
// acknowledge (spec §4.5 "SetPhase3"). ops must be length
// len(e.projected), index-aligned with slave index; nil entries are
// skipped (already-satisfied or not-yet-submitted slaves).
func (e *Engine) BeginPhase3(ops []CmdPoller) {
	e.step = StepEntry
	e.pending = ops
	e.ringDelay = NewRingDelay()
	e.diag.reset()
}

const cp3TransitionCheckIDN = 0x0127

// StepPhase3 polls every outstanding S-0-0127 SetCommand op once and
// reports the aggregate outcome (spec §4.5 "all must acknowledge
// success within a timeout; on success, switch phase").
func (e *Engine) StepPhase3(tNetworkPort1, tNetworkPort2 uint32) FuncState {
	e.step = StepRunning
	e.ringDelay.Sample(tNetworkPort1, tNetworkPort2)

	allDone := true
	for i, op := range e.pending {
		if op == nil {
			continue
		}
		op.Poll()
		if !op.Done() {
			allDone = false
			continue
		}
		if err := op.Err(); err != nil {
			e.diag.record(i, err)
		}
	}
	if !allDone {
		return running(0)
	}
	if len(e.diag.Entries) > 0 {
		return failed(cosema.NewError(cosema.ClassProtocol, 0x10, "one or more slaves failed the CP3 transition check"))
	}
	e.phase = cosema.PhaseCP3
	return finished()
}

// BeginPhase4 arms the CP4 transition check: issue S-0-0128 to every
// slave concurrently (spec §4.5 "SetPhase4").
func (e *Engine) BeginPhase4(ops []CmdPoller) {
	e.step = StepEntry
	e.pending = ops
	e.diag.reset()
}

const cp4TransitionCheckIDN = 0x0128

// StepPhase4 polls every outstanding S-0-0128 SetCommand op; once this
// reports finished, the caller arms the producer connections.
func (e *Engine) StepPhase4() FuncState {
	e.step = StepRunning
	allDone := true
	for i, op := range e.pending {
		if op == nil {
			continue
		}
		op.Poll()
		if !op.Done() {
			allDone = false
			continue
		}
		if err := op.Err(); err != nil {
			e.diag.record(i, err)
		}
	}
	if !allDone {
		return running(0)
	}
	if len(e.diag.Entries) > 0 {
		return failed(cosema.NewError(cosema.ClassProtocol, 0x11, "one or more slaves failed the CP4 transition check"))
	}
	e.phase = cosema.PhaseCP4
	return finished()
}

func sameAddressSet(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uint16]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			return false
		}
	}
	return true
}

func sameSlice(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasDuplicate(addrs []uint16) bool {
	seen := make(map[uint16]bool, len(addrs))
	for _, a := range addrs {
		if seen[a] {
			return true
		}
		seen[a] = true
	}
	return false
}

func contains(list []uint16, v uint16) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
