package hwport

import "github.com/sercos3/cosema"

// HardwarePort is the contract the core consumes from the Sercos
// MAC/FPGA (spec §4.1). All reads are infallible at this layer;
// writes that violate a hardware contract return a *cosema.Error.
//
// This is the Go analogue of the teacher's pkg/can.Bus interface,
// generalized from "one CAN frame at a time" to "telegram RAM,
// descriptors, timers, interrupts and SVC containers".
type HardwarePort interface {
	// RAM transfer, byte order normalized internally.
	ReadShort(offset uint32) uint16
	WriteShort(offset uint32, value uint16) error
	ReadLong(offset uint32) uint32
	WriteLong(offset uint32, value uint32) error

	// Telegram-RAM windows: read/write directly into the RAM backing
	// a direction's active buffer.
	TxRAM(bufferIndex int) []byte
	RxRAM(port Port, bufferIndex int) []byte
	SetBufferSystem(dir DescriptorType, system BufferSystem)

	// Descriptor tables, up to 4 MDT + 4 AT per direction.
	ProgramDescriptors(dir DescriptorType, descriptors []Descriptor) error
	Descriptors(dir DescriptorType) []Descriptor

	// Timing events: up to 16 timer events and 16 per-port events.
	ProgramEvent(event TimingEvent) error
	ClearEvent(id uint8)

	// Interrupts: enable/disable masks, poll+clear in bit-list form.
	EnableInterrupt(category InterruptCategory, mask uint32)
	DisableInterrupt(category InterruptCategory, mask uint32)
	PollAndClearInterrupts(category InterruptCategory) uint32

	// Phase register: atomic {phase, phase-switch bit} write.
	SetPhase(phase cosema.Phase, phaseSwitch bool) error
	CurrentPhase() (phase cosema.Phase, phaseSwitch bool)

	// Topology/data-flow register.
	SetTopologyMode(mode TopologyMode) error
	LineStatus(port Port) LinkStatus

	// Telegram-status registers, per port, write-to-clear.
	TelegramStatus(port Port) TelegramStatusBits
	ClearTelegramStatus(port Port, bits TelegramStatusBits)

	// Rx-buffer control.
	NewestRxBuffer(port Port) int
	RequestNewestRxBuffer(port Port)
	RxBufferValidBitmap(port Port) uint32

	// Tx-buffer control.
	UsableTxBuffer() int
	AcknowledgeTxBuffer(index int)

	// SVC containers, up to 32.
	SVCContainer(index int) SVCContainer
	HardwareContainerCount() int

	// TSref counter.
	TSref() uint64

	// Sercos time, inserted in the Extended Function Field of MDT0.
	SetSercosTime(seconds uint32, nanos uint32, externalSync bool) error
	SercosTime() (seconds uint32, nanos uint32)

	// Watchdog.
	ConfigureWatchdog(cfg WatchdogConfig) error
	ArmWatchdog()
	WatchdogTriggered() bool

	// Version/identification readout.
	Version() VersionInfo
}

// BlacklistedVersions is consulted by master.New to refuse
// initialization against known-bad hardware revisions (spec §4.1
// "Version/identification readout").
var BlacklistedVersions = map[uint32]bool{}

// IsBlacklisted reports whether a hardware/firmware version pairing is
// disallowed.
func IsBlacklisted(v VersionInfo) bool {
	return BlacklistedVersions[v.HardwareVersion]
}
