// Package master implements the top-level Instance: the root object
// bundling the Hardware Port with every core component (phase
// progression, cyclic handling, SVC, connections, redundancy, timing)
// and owning the per-slave projected-state table.
//
// Grounded on the teacher's Network/BusManager pairing: Network owns
// one BusManager plus a node table and exposes the application-facing
// API (Connect/Disconnect/object-dictionary reads), while BusManager
// owns the cyclic Process() loop. Instance plays Network's role here,
// with cyclic.Handler playing BusManager's.
package master

import (
	log "github.com/sirupsen/logrus"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/connection"
	"github.com/sercos3/cosema/cyclic"
	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/phase"
	"github.com/sercos3/cosema/redundancy"
	"github.com/sercos3/cosema/svc"
	"github.com/sercos3/cosema/svc/macro"
	"github.com/sercos3/cosema/telegram"
	"github.com/sercos3/cosema/timing"
)

// Config bundles the construction-time parameters that do not change
// across the lifetime of an Instance.
type Config struct {
	ProjectedAddrs   []uint16
	HWContainerCount int
	CycleTimeNs      uint32
	UCBandwidthNs    uint32
	Method           telegram.TimingMethod
	MaxNbrTelErr     int
	SVC              svc.Config
}

// pendingConnection is an application-requested connection not yet
// placed by the telegram layout engine (spec §3 "Connection Record").
type pendingConnection struct {
	req         telegram.ConnectionRequest
	allowedMiss int
	consumerIdx int // slave index that produces this connection, for a consumer
}

// Instance is the root object (spec §9 "Global mutable state ->
// Instance"). Exactly one Instance exists per physical network; its
// state lives in the Instance, not in package-level variables.
type Instance struct {
	hw  hwport.HardwarePort
	cfg Config

	phaseEngine *phase.Engine
	timingCtrl  *timing.Controller
	redundancy  *redundancy.Monitor

	svcEngine *svc.Engine
	cyclic    *cyclic.Handler

	slaves []*cosema.SlaveRecord
	layout *telegram.Layout

	pendingConns []pendingConnection
	producers    map[uint16]*connection.Producer
	consumers    map[uint16]*connection.Consumer

	hotPlug *redundancy.HotPlugOp

	logger *log.Entry
}

// New builds an Instance bound to hw, refusing known-bad hardware
// revisions (spec §4.1 "Version/identification readout").
func New(hw hwport.HardwarePort, cfg Config) (*Instance, error) {
	if hwport.IsBlacklisted(hw.Version()) {
		return nil, cosema.NewError(cosema.ClassSystem, 0x01, "hardware version is blacklisted")
	}
	if !cosema.ValidCycleTime(cfg.CycleTimeNs) {
		return nil, cosema.NewError(cosema.ClassConfig, 0x01, "cycle time out of range")
	}
	return &Instance{
		hw:          hw,
		cfg:         cfg,
		phaseEngine: phase.NewEngine(cfg.ProjectedAddrs),
		timingCtrl:  timing.NewController(hw, cfg.CycleTimeNs),
		redundancy:  redundancy.New(hw),
		producers:   make(map[uint16]*connection.Producer),
		consumers:   make(map[uint16]*connection.Consumer),
		logger:      log.WithField("component", "master"),
	}, nil
}

// Phase reports the current communication phase.
func (in *Instance) Phase() cosema.Phase { return in.phaseEngine.Phase() }

// Slaves returns the projected slave table, valid once StepPhase1 has
// finished.
func (in *Instance) Slaves() []*cosema.SlaveRecord { return in.slaves }

// Timing exposes the C10 timing-event programming surface.
func (in *Instance) Timing() *timing.Controller { return in.timingCtrl }

// Redundancy exposes the C9 topology monitor.
func (in *Instance) Redundancy() *redundancy.Monitor { return in.redundancy }

// --- Phase progression (spec §4.5, delegating to phase.Engine) ---

func (in *Instance) BeginPhase0() { in.phaseEngine.BeginPhase0() }

func (in *Instance) StepPhase0(addrPort1, addrPort2 []uint16, tNetworkPort1, tNetworkPort2 uint32) phase.FuncState {
	return in.phaseEngine.StepPhase0(addrPort1, addrPort2, tNetworkPort1, tNetworkPort2)
}

func (in *Instance) BeginPhase1() { in.phaseEngine.BeginPhase1() }

// StepPhase1 allocates the per-slave record table once the cross-
// reference succeeds (spec §3 "Slave Record... projected in CP1").
func (in *Instance) StepPhase1() phase.FuncState {
	st := in.phaseEngine.StepPhase1()
	if st.Step != phase.StepFinished {
		return st
	}
	in.slaves = make([]*cosema.SlaveRecord, len(in.cfg.ProjectedAddrs))
	for i, addr := range in.cfg.ProjectedAddrs {
		in.slaves[i] = &cosema.SlaveRecord{
			Index:         i,
			SercosAddress: addr,
			AllowedMiss:   1,
		}
	}
	return st
}

// AddConnection registers an application-requested connection's
// placement ahead of the CP1->CP2 layout build (spec §3 "Connection
// Record lifecycle"). consumerSlaveIndex is only meaningful for
// slave-produced connections (req.ProducerIsMaster == false) and
// selects which projected slave's S-DEV gates consumption.
func (in *Instance) AddConnection(req telegram.ConnectionRequest, allowedMiss, consumerSlaveIndex int) {
	in.pendingConns = append(in.pendingConns, pendingConnection{req: req, allowedMiss: allowedMiss, consumerIdx: consumerSlaveIndex})
}

func (in *Instance) BeginPhase2() { in.phaseEngine.BeginPhase2() }

// StepPhase2 commits the telegram layout and builds everything that
// depends on it: the SVC engine (hardware containers for slave indexes
// below HWContainerCount, software TelegramChannels for the rest), the
// Cyclic Handler, and the Producer/Consumer FSMs for every registered
// connection (spec §4.5 "SetPhase2").
func (in *Instance) StepPhase2() (phase.FuncState, error) {
	st := in.phaseEngine.StepPhase2()
	if st.Step != phase.StepFinished {
		return st, nil
	}

	reqs := make([]telegram.ConnectionRequest, len(in.pendingConns))
	for i, pc := range in.pendingConns {
		reqs[i] = pc.req
	}
	layout, err := telegram.Build(telegram.BuildInput{
		CycleTimeNs:   in.cfg.CycleTimeNs,
		SlaveCount:    len(in.slaves),
		HWContainers:  in.cfg.HWContainerCount,
		Connections:   reqs,
		UCBandwidthNs: in.cfg.UCBandwidthNs,
		Method:        in.cfg.Method,
	})
	if err != nil {
		return phase.FuncState{Step: phase.StepFailed, Err: err}, err
	}
	in.layout = layout
	in.timingCtrl.SetCycleTime(in.cfg.CycleTimeNs)

	in.buildSVCEngine()
	in.buildCyclicHandler()

	return st, nil
}

func (in *Instance) buildSVCEngine() {
	hwContainers := make([]hwport.SVCContainer, in.cfg.HWContainerCount)
	for i := range hwContainers {
		hwContainers[i] = in.hw.SVCContainer(i)
	}
	softCount := len(in.slaves) - in.cfg.HWContainerCount
	softChannels := make([]svc.Channel, 0, softCount)
	for i := in.cfg.HWContainerCount; i < len(in.slaves); i++ {
		slot := in.layout.Slaves[i]
		softChannels = append(softChannels, svc.NewTelegramChannel(in.hw, slot.SVCOffsetM, slot.SVCOffsetS, hwport.Port1))
	}
	in.svcEngine = svc.NewEngine(hwContainers, softChannels, in.cfg.SVC)
}

func (in *Instance) buildCyclicHandler() {
	in.cyclic = cyclic.New(in.hw, in.layout, in.slaves, in.svcEngine, in.cfg.MaxNbrTelErr)

	var producerBindings []cyclic.ProducerBinding
	var consumerBindings []cyclic.ConsumerBinding
	for i, pc := range in.pendingConns {
		slot := in.layout.Connections[i]
		if pc.req.ProducerIsMaster {
			p := connection.NewProducer(pc.req.ConnectionNumber)
			in.producers[pc.req.ConnectionNumber] = p
			producerBindings = append(producerBindings, cyclic.ProducerBinding{Slot: slot, Producer: p})
		} else {
			c := connection.NewConsumer(pc.req.ConnectionNumber, pc.allowedMiss)
			in.consumers[pc.req.ConnectionNumber] = c
			consumerBindings = append(consumerBindings, cyclic.ConsumerBinding{Slot: slot, Consumer: c, SlaveIndex: pc.consumerIdx})
		}
	}
	in.cyclic.BindProducers(producerBindings)
	in.cyclic.BindConsumers(consumerBindings)
}

// Producer returns the Producer FSM for a registered master-produced
// connection, once StepPhase2 has built it.
func (in *Instance) Producer(connectionNumber uint16) *connection.Producer { return in.producers[connectionNumber] }

// Consumer returns the Consumer FSM for a registered slave-produced
// connection, once StepPhase2 has built it.
func (in *Instance) Consumer(connectionNumber uint16) *connection.Consumer { return in.consumers[connectionNumber] }

// BeginPhase3 issues the S-0-0127 CP3 transition-check procedure
// command to every projected slave concurrently (spec §4.5 "SetPhase3").
func (in *Instance) BeginPhase3() {
	ops := make([]phase.CmdPoller, len(in.slaves))
	for i := range in.slaves {
		ops[i] = macro.NewSetCommand(in.svcEngine, i, 0x0127, svc.PriorityInternal)
	}
	in.phaseEngine.BeginPhase3(ops)
}

func (in *Instance) StepPhase3(tNetworkPort1, tNetworkPort2 uint32) phase.FuncState {
	return in.phaseEngine.StepPhase3(tNetworkPort1, tNetworkPort2)
}

// BeginPhase4 issues the S-0-0128 CP4 transition-check procedure
// command to every projected slave concurrently (spec §4.5 "SetPhase4").
func (in *Instance) BeginPhase4() {
	ops := make([]phase.CmdPoller, len(in.slaves))
	for i := range in.slaves {
		ops[i] = macro.NewSetCommand(in.svcEngine, i, 0x0128, svc.PriorityInternal)
	}
	in.phaseEngine.BeginPhase4(ops)
}

// StepPhase4 polls the CP4 transition check and, once finished, drives
// every registered producer connection through Prepare -> Ready ->
// Producing for cyclic exchange (spec §4.5, §4.6). Consumer FSMs are
// not changed here.
func (in *Instance) StepPhase4() phase.FuncState {
	st := in.phaseEngine.StepPhase4()
	if st.Step == phase.StepFinished {
		for _, p := range in.producers {
			_ = p.SetConnectionState(connection.ProducerPrepare)
			_ = p.SetConnectionState(connection.ProducerReady)
			_ = p.SetConnectionState(connection.ProducerProducing)
		}
	}
	return st
}

// --- Cyclic handling (spec §4.7) ---

// RunCycle is the single per-cycle entry point: it runs the topology
// monitor and the Cyclic Handler, in that order, so a topology change
// this cycle is visible to the Result the handler returns.
func (in *Instance) RunCycle() cyclic.Result {
	in.redundancy.Observe()
	return in.cyclic.RunCycle()
}

// --- SVC macros (spec §4.3), exposed on the slave's application-facing identity ---

// ReadIDN starts a Read macro for idn/element on slaveIndex.
func (in *Instance) ReadIDN(slaveIndex int, idn uint16, element svc.Element, buf []byte, priority svc.Priority) *macro.Op {
	return macro.NewRead(in.svcEngine, slaveIndex, idn, element, buf, priority)
}

// WriteIDN starts a Write macro for idn/element on slaveIndex.
func (in *Instance) WriteIDN(slaveIndex int, idn uint16, element svc.Element, data []byte, priority svc.Priority) *macro.Op {
	return macro.NewWrite(in.svcEngine, slaveIndex, idn, element, data, priority)
}

// --- Redundancy & hot-plug (spec §4.8) ---

func (in *Instance) OpenRing(addr1, addr2 uint16) error { return in.redundancy.OpenRing(addr1, addr2) }

func (in *Instance) BeginRecoverRingTopology() { in.redundancy.BeginRecoverRingTopology() }

func (in *Instance) StepRecoverRingTopology(tNetworkPort1, tNetworkPort2 uint32) phase.FuncState {
	return in.redundancy.StepRecoverRingTopology(tNetworkPort1, tNetworkPort2)
}

// HotPlug starts a HP0/HP1/HP2 onboarding sequence for addrs (spec
// §4.8 "HotPlug(addrs, cancel)"). Every address in addrs that has a
// slave record is marked HotPlugInProgress.
func (in *Instance) HotPlug(addrs []uint16) error {
	var recognized []uint16
	for _, s := range in.slaves {
		if s.Activity == cosema.Active {
			recognized = append(recognized, s.SercosAddress)
		}
	}
	in.hotPlug = redundancy.NewHotPlugOp(addrs, in.cfg.ProjectedAddrs, recognized)
	for _, addr := range addrs {
		if s := in.slaveByAddress(addr); s != nil {
			s.Activity = cosema.HotPlugInProgress
		}
	}
	return nil
}

// StepHotPlug polls the in-flight HotPlug op with this cycle's HP0
// scan result.
func (in *Instance) StepHotPlug(scanned []uint16) phase.FuncState {
	if in.hotPlug == nil {
		return phase.FuncState{Step: phase.StepFailed, Err: cosema.ErrIllegalArgument}
	}
	st := in.hotPlug.Step(scanned)
	if st.Step == phase.StepFinished {
		for _, addr := range in.hotPlug.Addrs() {
			if s := in.slaveByAddress(addr); s != nil {
				s.Activity = cosema.Active
			}
		}
		in.hotPlug = nil
	}
	return st
}

// TransHP2Para finishes assimilating a scanned group into normal CP4
// SVC communication (spec §4.8 "TransHP2Para(cancel)").
func (in *Instance) TransHP2Para(addrs []uint16, canceled bool) error {
	return redundancy.TransHP2Para(addrs, canceled)
}

func (in *Instance) slaveByAddress(addr uint16) *cosema.SlaveRecord {
	for _, s := range in.slaves {
		if s.SercosAddress == addr {
			return s
		}
	}
	return nil
}
