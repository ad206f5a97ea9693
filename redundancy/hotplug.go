package redundancy

import (
	log "github.com/sirupsen/logrus"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/phase"
)

// hpStep identifies which of the three hot-plug phases is active (spec
// §4.8 "three-phase HP0/HP1/HP2 sequence").
type hpStep uint8

const (
	hp0BroadcastParameters hpStep = iota
	hp1ScanAndConfirm
	hp2Assimilate
	hpDone
)

const (
	hp0ScanTimeoutCycles = 50 // spec §5 "HP0_SCAN_TIMEOUT"
	hp0MaxRetries        = 10 // spec §5 "overall 10-retry envelope for HP0-parameter broadcasting"
)

// HotPlugOp drives one HotPlug(addrs, cancel) call through HP0 -> HP1
// -> HP2, onboarding a new slave or connected group at the free end of
// a line (spec §4.8). It is polled once per cycle, the same FuncState
// shape phase.Engine uses for CP-transition progressions.
type HotPlugOp struct {
	addrs      []uint16
	addrSet    map[uint16]bool
	projected  map[uint16]bool
	recognized map[uint16]bool

	step       hpStep
	cycleCount int
	retries    int
	canceled   bool

	found map[uint16]bool

	logger *log.Entry
}

// NewHotPlugOp starts a hot-plug sequence for addrs, validated against
// the set of addresses the application has projected (spec §4.8
// "not-projected" error) and the set already recognized on the ring
// (spec §4.8 "already-recognized" error).
func NewHotPlugOp(addrs []uint16, projected, recognized []uint16) *HotPlugOp {
	return &HotPlugOp{
		addrs:      addrs,
		addrSet:    toSet(addrs),
		projected:  toSet(projected),
		recognized: toSet(recognized),
		found:      make(map[uint16]bool),
		logger:     log.WithField("component", "redundancy.hotplug"),
	}
}

func toSet(addrs []uint16) map[uint16]bool {
	m := make(map[uint16]bool, len(addrs))
	for _, a := range addrs {
		m[a] = true
	}
	return m
}

// Cancel requests the op stop at the next sampled point (spec §5
// "SVC macros accept a cancel flag; the flag is sampled at every state
// transition", applied here to hot-plug as the spec's HotPlug(addrs,
// cancel) signature implies).
func (op *HotPlugOp) Cancel() { op.canceled = true }

func (op *HotPlugOp) validate() error {
	for _, a := range op.addrs {
		if a == 0 || a > 511 {
			return cosema.ErrHotPlugIllegalAddress
		}
		if op.recognized[a] {
			return cosema.ErrHotPlugAlreadyRecognized
		}
		if !op.projected[a] {
			return cosema.ErrHotPlugNotProjected
		}
	}
	seen := make(map[uint16]bool, len(op.addrs))
	for _, a := range op.addrs {
		if seen[a] {
			return cosema.ErrHotPlugDoubleAddress
		}
		seen[a] = true
	}
	return nil
}

// Step is called once per cycle with that cycle's HP0 scan result
// (addresses answering the parameter broadcast) and reports progress
// (spec §4.8, §5 "10-retry envelope"). Each HP0 retry window lasts
// hp0ScanTimeoutCycles cycles and covers all addresses together; there
// is no separate timer per address.
func (op *HotPlugOp) Step(scanned []uint16) phase.FuncState {
	if op.canceled {
		return phase.FuncState{Step: phase.StepFailed, Err: cosema.ErrHotPlugCanceled}
	}

	switch op.step {
	case hp0BroadcastParameters:
		if op.cycleCount == 0 {
			if err := op.validate(); err != nil {
				return phase.FuncState{Step: phase.StepFailed, Err: err}
			}
		}
		for _, a := range scanned {
			if op.addrSet[a] {
				op.found[a] = true
			}
		}
		op.cycleCount++
		if len(op.found) >= len(op.addrs) {
			op.step = hp1ScanAndConfirm
			op.cycleCount = 0
			return phase.FuncState{Step: phase.StepRunning}
		}
		if op.cycleCount >= hp0ScanTimeoutCycles {
			op.retries++
			op.cycleCount = 0
			if op.retries >= hp0MaxRetries {
				return phase.FuncState{Step: phase.StepFailed, Err: cosema.ErrHotPlugPhase0Timeout}
			}
			return phase.FuncState{Step: phase.StepRunning}
		}
		return phase.FuncState{Step: phase.StepRunning}

	case hp1ScanAndConfirm:
		// Address acknowledgment is immediate once HP0 finds every
		// slave: the scan that located them already carries their
		// confirmed Sercos address (spec §4.8 "HP1 acknowledges the
		// address").
		op.step = hp2Assimilate
		return phase.FuncState{Step: phase.StepRunning}

	case hp2Assimilate:
		op.step = hpDone
		op.logger.WithField("addrs", op.addrs).Info("hot-plug onboarding complete")
		return phase.FuncState{Step: phase.StepFinished}

	default:
		return phase.FuncState{Step: phase.StepFinished}
	}
}

// Addrs returns the address set this op is onboarding, for the caller
// to drive per-slave Activity transitions (HotPlugInProgress ->
// Active) once Step reports finished.
func (op *HotPlugOp) Addrs() []uint16 { return op.addrs }

// TransHP2Para finishes assimilating an already-scanned group into
// normal CP4 SVC communication (spec §4.8 "TransHP2Para(cancel) ...
// then assimilate into normal SVC communication"). It is the
// counterpart call issued after HotPlug reports finished, and is
// itself a single-shot operation: no multi-cycle polling is needed
// once HP1 has already confirmed every address.
func TransHP2Para(addrs []uint16, canceled bool) error {
	if canceled {
		return cosema.ErrHotPlugCanceled
	}
	if len(addrs) == 0 {
		return cosema.ErrIllegalArgument
	}
	return nil
}
