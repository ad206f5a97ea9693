// Package telegram implements component C5, the telegram layout
// engine: given a communication cycle, a projected slave list and a
// set of configured connections, it computes the per-telegram byte
// layout (C-DEV/S-DEV offsets, SVC offsets, connection offsets) and
// the timing-event map the Hardware Port is programmed with.
//
// Shape mirrors the teacher's pdo_common.go: a small set of struct
// fields plus a Configure-style function that validates and fills
// them, returning a typed error rather than panicking on a bad layout.
package telegram

import (
	"github.com/sercos3/cosema"
)

// TelegramType selects MDT (master to slave) or AT (slave to master).
type TelegramType = cosema.TelegramType

// TimingMethod selects how UC (non-real-time "uncovered") traffic is
// interleaved with RT traffic within a cycle (spec §4.4).
type TimingMethod uint8

const (
	// TimingMDTATUCC transmits all MDTs, then all ATs, then UC traffic.
	TimingMDTATUCC TimingMethod = iota
	// TimingMDTUCCAT interleaves UC traffic between MDT and AT.
	TimingMDTUCCAT
	// TimingUCCAtCycleEnd reserves UC traffic for the tail of the cycle.
	TimingUCCAtCycleEnd
)

const (
	hotPlugFieldSize = 8
	minTelegramBytes = int(cosema.MinTelegramLength)
	maxTelegramBytes = int(cosema.MaxTelegramLength)
)

// SlaveSlot is one slave's fixed position within MDT0/AT0 (spec §4.4
// "byte offset of its C-DEV/S-DEV", "byte offset of its SVC field").
type SlaveSlot struct {
	SlaveIndex int
	CDEVOffset int // byte offset within MDT0
	SVCOffsetM int // byte offset of the SVC Control+Info field within MDT
	SDEVOffset int // byte offset within AT0
	SVCOffsetS int // byte offset of the SVC Status+Info field within AT
}

// ConnectionSlot is the placement decided for one configured
// Connection Record (spec §3 "Connection Record", §4.4 invariant i/iii).
type ConnectionSlot struct {
	ConnectionNumber uint16
	Telegram         TelegramType
	TelegramNumber   int // 0..3
	ByteOffset       int
	Length           int
}

// Layout is the computed result of one telegram-layout build (spec
// §4.4). master.Instance builds it once, in StepPhase2; nothing
// rebuilds it afterwards.
type Layout struct {
	CycleTimeNs uint32
	Method      TimingMethod

	MDTEnabled [cosema.MaxTelegramsPerDirection]bool
	ATEnabled  [cosema.MaxTelegramsPerDirection]bool

	MDTLength [cosema.MaxTelegramsPerDirection]int
	ATLength  [cosema.MaxTelegramsPerDirection]int

	Slaves      []SlaveSlot
	Connections []ConnectionSlot

	HotPlugReserved        bool
	ExtendedFunctionOffset int // byte offset within MDT0; the field is always reserved

	// Events is the derived timing-event map (spec §4.4 "timing event
	// map"): t1 (AT start), t6/t7 (UC window), tScyc (cycle length).
	Events TimingEvents
}

// TimingEvents holds the cycle-relative instants the Hardware Port's
// timer events are programmed from (spec §4.4, §4.9).
type TimingEvents struct {
	T1AtStartNs   uint32
	T6UCStartNs   uint32
	T7UCEndNs     uint32
	TScycNs       uint32
	MSTWindowNs   uint32
}

// BuildInput is everything the layout engine needs to compute a Layout
// (spec §4.4 preamble).
type BuildInput struct {
	CycleTimeNs    uint32
	SlaveCount     int
	HWContainers   int
	Connections    []ConnectionRequest
	UCBandwidthNs  uint32 // time to reserve for non-real-time traffic
	Method         TimingMethod
	ReserveHotPlug bool // reserve the 8-byte Hot-Plug field at the start of MDT0/AT0; telegrams 1..3 never get one, and without it none is reserved
}

// ConnectionRequest is the application's ask for one connection's
// placement; the engine assigns TelegramNumber/ByteOffset.
type ConnectionRequest struct {
	ConnectionNumber uint16
	Telegram         TelegramType
	ProducerIsMaster bool
	Length           int
}

const (
	cdevSize   = 2 // spec §3 "C-DEV mirror (device control word)"
	sdevSize   = 2
	svcControlAndInfo = 2 + 4 // control word + 4-byte info field
	svcStatusAndInfo  = 2 + 4
)

// Build computes a Layout from in, enforcing spec.md §4.4's invariants.
// It returns a typed *cosema.Error (ClassConfig) on any violation.
func Build(in BuildInput) (*Layout, error) {
	if !cosema.ValidCycleTime(in.CycleTimeNs) {
		return nil, cosema.NewError(cosema.ClassConfig, 0x01, "cycle time out of range")
	}
	if in.SlaveCount <= 0 {
		return nil, cosema.NewError(cosema.ClassConfig, 0x02, "no slaves projected")
	}
	if in.HWContainers > in.SlaveCount {
		return nil, cosema.NewError(cosema.ClassConfig, 0x08, "hardware SVC containers exceed projected slave count")
	}

	l := &Layout{CycleTimeNs: in.CycleTimeNs, Method: in.Method, HotPlugReserved: in.ReserveHotPlug}

	// MDT0..1/AT0..1 always enabled; MDT2..3/AT2..3 only as slave count
	// demands (spec §4.4: "either 2MDT/2AT or 4MDT/4AT per cycle, based on
	// max-slaves", mirrored from §4.5 SetPhase2).
	l.MDTEnabled[0], l.MDTEnabled[1] = true, true
	l.ATEnabled[0], l.ATEnabled[1] = true, true
	useFour := in.SlaveCount > maxSlavesPerPair
	if useFour {
		l.MDTEnabled[2], l.MDTEnabled[3] = true, true
		l.ATEnabled[2], l.ATEnabled[3] = true, true
	}

	l.Slaves = make([]SlaveSlot, in.SlaveCount)
	mdtOffset := 0
	atOffset := 0
	if in.ReserveHotPlug {
		mdtOffset += hotPlugFieldSize
		atOffset += hotPlugFieldSize
	}
	mdtOffset += int(cosema.ExtendedFunctionFieldSize) // MDT0 Extended Function field, always reserved
	l.ExtendedFunctionOffset = 0
	if in.ReserveHotPlug {
		l.ExtendedFunctionOffset = hotPlugFieldSize
	}

	for i := 0; i < in.SlaveCount; i++ {
		slot := SlaveSlot{
			SlaveIndex: i,
			CDEVOffset: mdtOffset,
			SDEVOffset: atOffset,
		}
		mdtOffset += cdevSize
		atOffset += sdevSize
		slot.SVCOffsetM = mdtOffset
		slot.SVCOffsetS = atOffset
		mdtOffset += svcControlAndInfo
		atOffset += svcStatusAndInfo
		l.Slaves[i] = slot
	}

	l.Connections = make([]ConnectionSlot, 0, len(in.Connections))
	rtOffsets := [2]int{mdtOffset, atOffset} // [MDT, AT] running offsets for RT connection data
	for _, c := range in.Connections {
		// invariant (ii): the master never produces in an AT.
		if c.Telegram == cosema.AT && c.ProducerIsMaster {
			return nil, cosema.NewError(cosema.ClassConfig, 0x03, "master cannot produce in an AT telegram")
		}
		idx := 0
		if c.Telegram == cosema.AT {
			idx = 1
		}
		slot := ConnectionSlot{
			ConnectionNumber: c.ConnectionNumber,
			Telegram:         c.Telegram,
			TelegramNumber:   0,
			ByteOffset:       rtOffsets[idx],
			Length:           c.Length,
		}
		rtOffsets[idx] += c.Length
		l.Connections = append(l.Connections, slot)
	}

	l.MDTLength[0] = rtOffsets[0]
	l.ATLength[0] = rtOffsets[1]
	// Telegrams shorter than the Ethernet-derived minimum are padded up
	// to it; the MAC fills the pad, the layout just needs to know the
	// wire length stays within bounds.
	for i := range l.MDTLength {
		if !l.MDTEnabled[i] {
			continue
		}
		if l.MDTLength[i] < minTelegramBytes {
			l.MDTLength[i] = minTelegramBytes
		}
		if l.MDTLength[i] > maxTelegramBytes {
			return nil, cosema.NewError(cosema.ClassConfig, 0x04, "MDT length outside [40,1494]")
		}
	}
	for i := range l.ATLength {
		if !l.ATEnabled[i] {
			continue
		}
		if l.ATLength[i] < minTelegramBytes {
			l.ATLength[i] = minTelegramBytes
		}
		if l.ATLength[i] > maxTelegramBytes {
			return nil, cosema.NewError(cosema.ClassConfig, 0x05, "AT length outside [40,1494]")
		}
	}

	l.Events = computeTimingEvents(in)
	if err := l.Events.validate(in.CycleTimeNs); err != nil {
		return nil, err
	}
	return l, nil
}

// maxSlavesPerPair bounds how many slaves a 2MDT/2AT telegram set can
// address before the layout must widen to 4MDT/4AT (spec §4.5
// SetPhase2).
const maxSlavesPerPair = 128

func computeTimingEvents(in BuildInput) TimingEvents {
	mstWindow := in.CycleTimeNs / 20 // conservative guard band, not a hardware constant
	atStart := in.CycleTimeNs/2 + mstWindow
	switch in.Method {
	case TimingMDTUCCAT:
		return TimingEvents{
			T1AtStartNs: atStart + in.UCBandwidthNs,
			T6UCStartNs: atStart,
			T7UCEndNs:   atStart + in.UCBandwidthNs,
			TScycNs:     in.CycleTimeNs,
			MSTWindowNs: mstWindow,
		}
	case TimingUCCAtCycleEnd:
		return TimingEvents{
			T1AtStartNs: atStart,
			T6UCStartNs: in.CycleTimeNs - in.UCBandwidthNs,
			T7UCEndNs:   in.CycleTimeNs,
			TScycNs:     in.CycleTimeNs,
			MSTWindowNs: mstWindow,
		}
	default: // TimingMDTATUCC
		return TimingEvents{
			T1AtStartNs: atStart,
			T6UCStartNs: atStart, // the AT start; not adjusted for the AT's length
			T7UCEndNs:   in.CycleTimeNs,
			TScycNs:     in.CycleTimeNs,
			MSTWindowNs: mstWindow,
		}
	}
}

func (e TimingEvents) validate(cycleNs uint32) error {
	if e.TScycNs != cycleNs {
		return cosema.NewError(cosema.ClassConfig, 0x06, "computed tScyc does not match configured cycle time")
	}
	if e.T6UCStartNs > e.T7UCEndNs || e.T7UCEndNs > cycleNs {
		// Only the UC window's position within the cycle is checked; MDT
		// and AT transmission time is not counted against tScyc.
		return cosema.NewError(cosema.ClassConfig, 0x07, "UC window exceeds cycle time")
	}
	return nil
}
