// Package hwport implements component C1: the abstract Hardware Port
// the core consumes from the Sercos MAC/FPGA. It deliberately knows
// nothing about register maps, PCI probing, or DMA plumbing (spec §1
// out-of-scope list) — it is the Go analogue of the teacher's
// pkg/can.Bus interface, generalized from "send/receive a CAN frame"
// to "expose telegram RAM, descriptors, timers and SVC containers".
package hwport

import "github.com/sercos3/cosema"

// BufferSystem selects how many buffers a direction is multiplexed
// over (spec §4.1 "Telegram-RAM windows").
type BufferSystem uint8

const (
	SingleBuffer BufferSystem = iota
	DoubleBuffer
	TripleBuffer
)

// DescriptorType distinguishes the kind of telegram-RAM descriptor.
type DescriptorType uint8

const (
	DescriptorMDT DescriptorType = iota
	DescriptorAT
)

// Descriptor is one entry of the per-direction descriptor table (up
// to 4 MDT + 4 AT, spec §4.1).
type Descriptor struct {
	BufferOffset   uint32
	BufferSystem   BufferSystem
	TelegramOffset uint32
	Type           DescriptorType
	TelegramNumber uint8
}

// EventType enumerates the timing-event kinds a HardwarePort can arm
// (spec §4.1 "Timing events" / §4.9).
type EventType uint8

const (
	EventSetCycClk EventType = iota
	EventClearCycClk
	EventDivClk
	EventBufferRequest
	EventGenericInterrupt
)

// TimingEvent configures one of up to 16 timer or per-port events.
type TimingEvent struct {
	ID             uint8
	Type           EventType
	TimeNs         uint32 // time within the cycle
	SubCycleValue  uint16
	SubCycleSelect bool
}

// InterruptCategory groups the three interrupt-mask classes (spec §4.1).
type InterruptCategory uint8

const (
	InterruptTiming InterruptCategory = iota
	InterruptSVC
	InterruptTelegram
)

// TopologyMode is the commanded data-flow / topology register value
// (spec §4.1 "Topology/data-flow register").
type TopologyMode uint8

const (
	TopologyRTBothPorts TopologyMode = iota
	TopologyRTPort1Only
	TopologyRTPort2Only
	TopologyRTRing
	TopologyNRTLine
	TopologyUCRing
)

// Port identifies one of the two redundant Sercos ports.
type Port uint8

const (
	Port1 Port = 1
	Port2 Port = 2
)

// LinkStatus reports PHY-level link presence on one port (link
// management itself is out of scope, spec §1; this is just the
// readout).
type LinkStatus struct {
	Link bool
	Line bool // line/ring continuity signal
}

// TelegramStatusBits mirrors the per-port telegram-status register
// (spec §4.1, write-to-clear semantics apply to the real register; the
// HardwarePort implementation is responsible for exposing a clean
// snapshot+clear pair).
type TelegramStatusBits struct {
	ValidMST      bool
	Primary       bool
	WindowError   bool
	MSTMiss       bool
	MSTDoubleMiss bool
	AT0Miss       bool
	MDTReceived   [MaxTelegramsPerDirection]bool
	ATReceived    [MaxTelegramsPerDirection]bool
}

const MaxTelegramsPerDirection = cosema.MaxTelegramsPerDirection

// WatchdogTimeoutMode selects what happens when the watchdog expires.
type WatchdogTimeoutMode uint8

const (
	WatchdogDisableTx WatchdogTimeoutMode = iota
	WatchdogSendEmptyTelegram
)

// WatchdogConfig arms the Tx watchdog.
type WatchdogConfig struct {
	TimeoutNs uint32
	Mode      WatchdogTimeoutMode
}

// VersionInfo identifies the installed hardware/firmware.
type VersionInfo struct {
	HardwareVersion uint32
	FirmwareVersion uint32
}

// SVCContainer is one of up to 32 hardware service-channel containers
// (spec §4.2). Control/status words are opaque 16-bit values whose bit
// layout is owned by the svc package; hwport only moves them.
type SVCContainer interface {
	// ReadStatus returns the 5 status words (status, plus 4 reserved/
	// vendor words kept for forward compatibility with real hardware).
	ReadStatus() [5]uint16
	// WriteControl writes the 5 control words.
	WriteControl(words [5]uint16)
	// ReadInfo returns the 16-word read buffer (AT->master direction).
	ReadInfo() [16]uint16
	// WriteInfo writes the 16-word write buffer (master->slave direction).
	WriteInfo(words [16]uint16)
}
