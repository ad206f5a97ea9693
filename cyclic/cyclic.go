// Package cyclic implements component C8: the per-cycle entry point
// called once per Sercos cycle, either from an ISR or from a task
// scheduled by CYC_CLK (spec §4.7). It harvests telegram status, runs
// the connection FSMs in the order spec §4.7/§5 require, steps the SVC
// engine's software and hardware containers, and re-arms buffers for
// the next cycle.
//
// Grounded on the teacher's bus_manager.go/network.go Process loop: a
// single method called once per tick that drains the transport's
// status, updates bookkeeping, and returns rather than blocking.
package cyclic

import (
	log "github.com/sirupsen/logrus"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/connection"
	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/svc"
	"github.com/sercos3/cosema/telegram"
	"github.com/sercos3/cosema/wire"
)

// ProducerBinding pairs one master-produced connection's FSM with its
// placement in the Tx telegram (spec §4.7 step 8).
type ProducerBinding struct {
	Slot     telegram.ConnectionSlot
	Producer *connection.Producer
}

// ConsumerBinding pairs one slave-produced connection's FSM with its
// placement in the Rx telegram and the slave index that produces it
// (spec §4.7 step 7, §4.6 "If the producer's S-DEV.SlaveValid is
// missed this cycle -> no consumption").
type ConsumerBinding struct {
	Slot       telegram.ConnectionSlot
	Consumer   *connection.Consumer
	SlaveIndex int
}

// Result is the compact per-cycle status the Cyclic Handler returns
// (spec §4.7 step 11: "{OK, TopologyChange, MSTError, TelErrorOverrun, ...}").
type Result struct {
	OK              bool
	TopologyChanged bool
	Line            [2]hwport.LinkStatus
	MSTError        bool
	TelErrorOverrun bool
}

// Handler is component C8. One Handler belongs to one Instance; the
// cyclic thread/ISR calls RunCycle once per Sercos cycle and never
// calls it reentrantly (spec §5 "Scheduling model").
type Handler struct {
	hw     hwport.HardwarePort
	layout *telegram.Layout
	slaves []*cosema.SlaveRecord
	svc    *svc.Engine

	producers []ProducerBinding
	consumers []ConsumerBinding

	maxNbrTelErr     int
	successiveTelErr int

	lastLine     [2]hwport.LinkStatus
	haveLastLine bool

	phaseSwitchActive bool
	monitoringEnabled bool

	logger *log.Entry
}

// New builds a Handler wired to hw, the current telegram layout, the
// projected slave records (indexed by slave index), the SVC engine and
// usMaxNbrTelErr (spec §4.7 step 4). Connection bindings are set
// separately via BindProducers/BindConsumers (master.Instance does so
// in StepPhase2, right after building the layout).
func New(hw hwport.HardwarePort, layout *telegram.Layout, slaves []*cosema.SlaveRecord, engine *svc.Engine, maxNbrTelErr int) *Handler {
	return &Handler{
		hw:                hw,
		layout:            layout,
		slaves:            slaves,
		svc:               engine,
		maxNbrTelErr:      maxNbrTelErr,
		monitoringEnabled: true,
		logger:            log.WithField("component", "cyclic"),
	}
}

// BindProducers replaces the master-produced connection bindings,
// called whenever the application (re)commits a telegram layout (spec
// §3 Connection Record lifecycle: "enters its FSM in CP4").
func (h *Handler) BindProducers(bindings []ProducerBinding) { h.producers = bindings }

// BindConsumers replaces the slave-produced connection bindings.
func (h *Handler) BindConsumers(bindings []ConsumerBinding) { h.consumers = bindings }

// SetLayout installs a newly-built telegram layout, used whenever the
// telegram layout engine recomputes offsets.
func (h *Handler) SetLayout(layout *telegram.Layout) { h.layout = layout }

// SetPhaseSwitchActive and SetMonitoringEnabled implement spec §4.7
// step 1's gate ("if a phase switch is in progress with monitoring
// off, skip"). Monitoring defaults to enabled.
func (h *Handler) SetPhaseSwitchActive(active bool)  { h.phaseSwitchActive = active }
func (h *Handler) SetMonitoringEnabled(enabled bool) { h.monitoringEnabled = enabled }

func telegramErrored(b hwport.TelegramStatusBits) bool {
	noTelegrams := !b.ValidMST
	for _, v := range b.MDTReceived {
		if v {
			noTelegrams = false
			break
		}
	}
	for _, v := range b.ATReceived {
		if v {
			noTelegrams = false
			break
		}
	}
	return b.MSTMiss || b.WindowError || noTelegrams
}

// RunCycle executes one pass of the cyclic handler (spec §4.7, steps
// 1-11, ordering guarantee in spec §5: "Rx-buffer read -> consumer FSM
// updates -> producer FSM outputs -> Tx-buffer commit").
func (h *Handler) RunCycle() Result {
	if h.phaseSwitchActive && !h.monitoringEnabled {
		return Result{OK: true}
	}

	status := [2]hwport.TelegramStatusBits{
		h.hw.TelegramStatus(hwport.Port1),
		h.hw.TelegramStatus(hwport.Port2),
	}
	h.hw.ClearTelegramStatus(hwport.Port1, status[0])
	h.hw.ClearTelegramStatus(hwport.Port2, status[1])

	line := [2]hwport.LinkStatus{h.hw.LineStatus(hwport.Port1), h.hw.LineStatus(hwport.Port2)}
	topologyChanged := h.haveLastLine && line != h.lastLine
	h.lastLine = line
	h.haveLastLine = true
	if topologyChanged {
		h.logger.WithField("line", line).Info("topology-relevant line status changed")
	}

	errored := telegramErrored(status[0]) || telegramErrored(status[1])
	if errored {
		h.successiveTelErr++
	} else {
		h.successiveTelErr = 0
	}
	telErrorOverrun := h.maxNbrTelErr > 0 && h.successiveTelErr > h.maxNbrTelErr
	if telErrorOverrun {
		h.logger.WithField("successive", h.successiveTelErr).Warn("successive telegram errors exceeded usMaxNbrTelErr")
	}

	rx := h.selectRxBuffer(hwport.Port1)

	h.accountSlaveValid(rx)
	h.runConsumers(rx)

	txIndex := h.hw.UsableTxBuffer()
	h.runProducers(txIndex)

	if h.svc != nil {
		h.svc.StepSoftware()
		h.svc.PollHardware()
	}

	h.hw.AcknowledgeTxBuffer(txIndex)

	return Result{
		OK:              !telErrorOverrun,
		TopologyChanged: topologyChanged,
		Line:            line,
		MSTError:        status[0].MSTMiss || status[1].MSTMiss,
		TelErrorOverrun: telErrorOverrun,
	}
}

// selectRxBuffer determines the newest usable Rx buffer on port,
// requesting a fresh one from the multi-buffer system if the currently
// reported index is not yet valid (spec §4.7 step 5).
func (h *Handler) selectRxBuffer(port hwport.Port) []byte {
	idx := h.hw.NewestRxBuffer(port)
	if h.hw.RxBufferValidBitmap(port)&(1<<uint(idx)) == 0 {
		h.hw.RequestNewestRxBuffer(port)
		idx = h.hw.NewestRxBuffer(port)
	}
	return h.hw.RxRAM(port, idx)
}

// accountSlaveValid reads S-DEV for every projected slave from the
// newest Rx buffer and updates its consecutive-miss counter (spec
// §4.7 step 6, §8 invariant 4).
func (h *Handler) accountSlaveValid(rx []byte) {
	for _, slot := range h.layout.Slaves {
		if slot.SlaveIndex < 0 || slot.SlaveIndex >= len(h.slaves) {
			continue
		}
		s := h.slaves[slot.SlaveIndex]
		if s == nil || slot.SDEVOffset+2 > len(rx) {
			continue
		}
		s.ObserveSlaveValid(cosema.SDev(wire.ReadUint16(rx[slot.SDEVOffset:])))
	}
}

// runConsumers drives every bound slave-produced connection's FSM
// (spec §4.7 step 7, §4.6 Consumer FSM). It runs strictly after
// accountSlaveValid so producerMissed reflects this cycle's fresh
// S-DEV observation, and strictly before runProducers (spec §5
// ordering guarantee).
func (h *Handler) runConsumers(rx []byte) {
	for _, b := range h.consumers {
		producerMissed := true
		if b.SlaveIndex >= 0 && b.SlaveIndex < len(h.slaves) && h.slaves[b.SlaveIndex] != nil {
			producerMissed = !h.slaves[b.SlaveIndex].SDev.SlaveValid()
		}
		var observed cosema.CCon
		if b.Slot.ByteOffset+2 <= len(rx) {
			observed = cosema.CCon(wire.ReadUint16(rx[b.Slot.ByteOffset:]))
		}
		b.Consumer.Consume(producerMissed, observed)
	}
}

// runProducers advances every bound master-produced connection's FSM
// and writes its C-CON into the active Tx buffer (spec §4.7 step 8).
func (h *Handler) runProducers(txIndex int) {
	tx := h.hw.TxRAM(txIndex)
	for _, b := range h.producers {
		ccon := b.Producer.Advance()
		if b.Slot.ByteOffset+2 <= len(tx) {
			wire.PutUint16(tx[b.Slot.ByteOffset:], uint16(ccon))
		}
	}
}
