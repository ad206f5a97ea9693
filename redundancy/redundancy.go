// Package redundancy implements component C9: topology detection
// (Ring/Line/BrokenRing/DefectRing/NoLink) from the Hardware Port's
// per-port line status, plus the commanded OpenRing and
// RecoverRingTopology operations (spec §4.8).
//
// Grounded on the teacher's pkg/heartbeat consumer-timeout accounting
// (a small struct tracking consecutive misses against a threshold) for
// the miss-counting shape, and on phase.FuncState/phase.RingDelay —
// reused directly rather than duplicated, since topology recovery is
// the same "poll once per cycle until done or failed" shape SetPhaseN
// already uses.
package redundancy

import (
	log "github.com/sirupsen/logrus"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/phase"
)

// Topology is the current ring/line state (spec §4.8 "States").
type Topology uint8

const (
	TopologyRing Topology = iota
	TopologyLine1
	TopologyLine2
	TopologyBrokenRing
	TopologyDefectRing
	TopologyNoLink
)

func (t Topology) String() string {
	switch t {
	case TopologyRing:
		return "Ring"
	case TopologyLine1:
		return "Line1"
	case TopologyLine2:
		return "Line2"
	case TopologyBrokenRing:
		return "BrokenRing"
	case TopologyDefectRing:
		return "DefectRing"
	default:
		return "NoLink"
	}
}

// classify derives a Topology from a cycle's per-port link status
// (spec §4.8 "Transitions driven by line-status changes"). A ring
// needs both link and line continuity on both ports; losing continuity
// on one port while the link itself stays up is a broken ring (the MAC
// falls back to routing both directions through the surviving port); a
// ring that loses a physical link outright, rather than just ring
// continuity, is a line on the surviving port; no link on either port
// is NoLink; anything else (e.g. a short that the MAC cannot route
// around) is DefectRing.
func classify(p1, p2 hwport.LinkStatus) Topology {
	switch {
	case p1.Link && p1.Line && p2.Link && p2.Line:
		return TopologyRing
	case !p1.Link && !p2.Link:
		return TopologyNoLink
	case p1.Link && p2.Link && (!p1.Line || !p2.Line):
		return TopologyBrokenRing
	case p1.Link && !p2.Link:
		return TopologyLine1
	case p2.Link && !p1.Link:
		return TopologyLine2
	default:
		return TopologyDefectRing
	}
}

// Monitor tracks the network's topology and carries out the two
// commanded recovery operations (spec §4.8). One Monitor belongs to
// one Instance.
type Monitor struct {
	hw hwport.HardwarePort

	current  Topology
	previous Topology

	recovering bool
	ringDly    *phase.RingDelay

	logger *log.Entry
}

// New builds a Monitor observing hw, starting from whatever topology
// the current link status already reports.
func New(hw hwport.HardwarePort) *Monitor {
	m := &Monitor{hw: hw, logger: log.WithField("component", "redundancy")}
	m.current = classify(hw.LineStatus(hwport.Port1), hw.LineStatus(hwport.Port2))
	m.previous = m.current
	return m
}

// Current reports the topology as of the last Observe call.
func (m *Monitor) Current() Topology { return m.current }

// Observe re-derives the topology from this cycle's line status and
// reports whether it changed (spec §4.7 step 3 / §4.8).
// master.Instance.RunCycle calls this once per cycle; a change is logged at Warn for
// BrokenRing/DefectRing/NoLink and Info otherwise.
func (m *Monitor) Observe() (Topology, bool) {
	t := classify(m.hw.LineStatus(hwport.Port1), m.hw.LineStatus(hwport.Port2))
	changed := t != m.current
	m.previous = m.current
	m.current = t
	if changed {
		fields := log.Fields{"from": m.previous, "to": t}
		switch t {
		case TopologyBrokenRing, TopologyDefectRing, TopologyNoLink:
			m.logger.WithFields(fields).Warn("topology degraded")
		default:
			m.logger.WithFields(fields).Info("topology changed")
		}
	}
	return t, changed
}

// OpenRing commands a split of a currently-ring network between two
// slave addresses (spec §4.8 "OpenRing(addr1, addr2)"). It validates
// preconditions, then switches the port to NRT line mode via
// SetTopologyMode.
func (m *Monitor) OpenRing(addr1, addr2 uint16) error {
	if m.current != TopologyRing {
		return cosema.ErrOpenRingFailed
	}
	if addr1 == 0 || addr1 > 511 || addr2 == 0 || addr2 > 511 || addr1 == addr2 {
		return cosema.ErrIllegalArgument
	}
	if err := m.hw.SetTopologyMode(hwport.TopologyNRTLine); err != nil {
		return err
	}
	m.logger.WithFields(log.Fields{"addr1": addr1, "addr2": addr2}).Info("ring opened by command")
	return nil
}

// BeginRecoverRingTopology arms a new ring-delay measurement, required
// before a healed BrokenRing can be declared Ring again (spec §4.8
// "RecoverRingTopology... requires a new ring-delay measurement before
// declaring Ring").
func (m *Monitor) BeginRecoverRingTopology() {
	m.recovering = true
	m.ringDly = phase.NewRingDelay()
}

// StepRecoverRingTopology is polled once per cycle with that cycle's
// ring-delay sample until it reports finished or failed; it classifies
// the topology itself via Observe.
func (m *Monitor) StepRecoverRingTopology(tNetworkPort1, tNetworkPort2 uint32) phase.FuncState {
	if !m.recovering {
		m.BeginRecoverRingTopology()
	}
	t, _ := m.Observe()
	if t != TopologyRing {
		return phase.FuncState{Step: phase.StepRunning}
	}
	m.ringDly.Sample(tNetworkPort1, tNetworkPort2)
	if !m.ringDly.Done {
		return phase.FuncState{Step: phase.StepRunning}
	}
	m.recovering = false
	return phase.FuncState{Step: phase.StepFinished}
}

// RingDelayResult exposes the measurement StepRecoverRingTopology
// completed, once finished.
func (m *Monitor) RingDelayResult() *phase.RingDelay { return m.ringDly }
