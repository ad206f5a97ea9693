// Package virtual is an in-memory, software-only HardwarePort used
// for tests and simulation. It plays the role the teacher's
// pkg/can/virtual.Bus plays for CANopen: a backend good enough to
// exercise every protocol-level state machine without real silicon.
package virtual

import (
	"sync"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/hwport"
)

const ramSize = 1600 // bytes, more than MaxTelegramLength

// container is the software-only SVCContainer backing store.
type container struct {
	mu      sync.Mutex
	control [5]uint16
	status  [5]uint16
	writeIn [16]uint16
	readIn  [16]uint16
}

func (c *container) ReadStatus() [5]uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *container) WriteControl(words [5]uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.control = words
}

func (c *container) ReadInfo() [16]uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readIn
}

func (c *container) WriteInfo(words [16]uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeIn = words
}

// SetStatusForTest / SetReadInfoForTest let a test simulate a slave's
// reply without a real network; not part of the HardwarePort contract.
func (c *container) SetStatusForTest(words [5]uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = words
}

func (c *container) SetReadInfoForTest(words [16]uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readIn = words
}

func (c *container) ControlForTest() [5]uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

func (c *container) WriteInfoForTest() [16]uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeIn
}

// Port is a software HardwarePort implementation.
type Port struct {
	mu sync.Mutex

	txRAM [][]byte // indexed by buffer
	rxRAM [2][][]byte // indexed by port (0,1) then buffer

	txDescriptors [][]hwport.Descriptor // indexed by DescriptorType
	bufferSystem  [2]hwport.BufferSystem

	events map[uint8]hwport.TimingEvent

	interruptMasks   [3]uint32
	interruptPending [3]uint32

	phase       cosema.Phase
	phaseSwitch bool

	topologyMode hwport.TopologyMode
	line         [2]hwport.LinkStatus

	telegramStatus [2]hwport.TelegramStatusBits

	newestRxBuffer [2]int
	rxValidBitmap  [2]uint32
	usableTxBuffer int

	containers []*container

	tsref uint64

	sercosSeconds, sercosNanos uint32
	externalSync               bool

	watchdogCfg       hwport.WatchdogConfig
	watchdogTriggered bool

	version hwport.VersionInfo
}

// New creates a virtual HardwarePort with the given number of
// hardware-backed SVC containers (spec §3 invariant: slave index <
// hwContainers implies HW-backed).
func New(hwContainers int) *Port {
	p := &Port{
		txRAM:          make([][]byte, 3),
		txDescriptors:  make([][]hwport.Descriptor, 2),
		events:         make(map[uint8]hwport.TimingEvent),
		usableTxBuffer: 0,
		containers:     make([]*container, hwContainers),
	}
	for i := range p.txRAM {
		p.txRAM[i] = make([]byte, ramSize)
	}
	for port := 0; port < 2; port++ {
		p.rxRAM[port] = make([][]byte, 3)
		for i := range p.rxRAM[port] {
			p.rxRAM[port][i] = make([]byte, ramSize)
		}
	}
	for i := range p.containers {
		p.containers[i] = &container{}
	}
	return p
}

func (p *Port) ReadShort(offset uint32) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := p.txRAM[p.usableTxBuffer]
	if int(offset)+2 > len(buf) {
		return 0
	}
	return uint16(buf[offset]) | uint16(buf[offset+1])<<8
}

func (p *Port) WriteShort(offset uint32, value uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := p.txRAM[p.usableTxBuffer]
	if int(offset)+2 > len(buf) {
		return cosema.NewError(cosema.ClassSystem, 0x01, "offset out of range")
	}
	buf[offset] = byte(value)
	buf[offset+1] = byte(value >> 8)
	return nil
}

func (p *Port) ReadLong(offset uint32) uint32 {
	lo := uint32(p.ReadShort(offset))
	hi := uint32(p.ReadShort(offset + 2))
	return lo | hi<<16
}

func (p *Port) WriteLong(offset uint32, value uint32) error {
	if err := p.WriteShort(offset, uint16(value)); err != nil {
		return err
	}
	return p.WriteShort(offset+2, uint16(value>>16))
}

func (p *Port) TxRAM(bufferIndex int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txRAM[bufferIndex]
}

func (p *Port) RxRAM(port hwport.Port, bufferIndex int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxRAM[port-1][bufferIndex]
}

func (p *Port) SetBufferSystem(dir hwport.DescriptorType, system hwport.BufferSystem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bufferSystem[dir] = system
}

func (p *Port) ProgramDescriptors(dir hwport.DescriptorType, descriptors []hwport.Descriptor) error {
	if len(descriptors) > cosema.MaxTelegramsPerDirection {
		return cosema.NewError(cosema.ClassConfig, 0x10, "too many descriptors for direction")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txDescriptors[dir] = descriptors
	return nil
}

func (p *Port) Descriptors(dir hwport.DescriptorType) []hwport.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txDescriptors[dir]
}

func (p *Port) ProgramEvent(event hwport.TimingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[event.ID] = event
	return nil
}

func (p *Port) ClearEvent(id uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.events, id)
}

func (p *Port) EnableInterrupt(category hwport.InterruptCategory, mask uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptMasks[category] |= mask
}

func (p *Port) DisableInterrupt(category hwport.InterruptCategory, mask uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptMasks[category] &^= mask
}

func (p *Port) PollAndClearInterrupts(category hwport.InterruptCategory) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := p.interruptPending[category] & p.interruptMasks[category]
	p.interruptPending[category] &^= pending
	return pending
}

// RaiseInterruptForTest lets simulated hardware post an interrupt.
func (p *Port) RaiseInterruptForTest(category hwport.InterruptCategory, bit uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptPending[category] |= 1 << bit
}

func (p *Port) SetPhase(phase cosema.Phase, phaseSwitch bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	p.phaseSwitch = phaseSwitch
	return nil
}

func (p *Port) CurrentPhase() (cosema.Phase, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase, p.phaseSwitch
}

func (p *Port) SetTopologyMode(mode hwport.TopologyMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topologyMode = mode
	return nil
}

func (p *Port) LineStatus(port hwport.Port) hwport.LinkStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.line[port-1]
}

// SetLineStatusForTest simulates a PHY/line-status change.
func (p *Port) SetLineStatusForTest(port hwport.Port, status hwport.LinkStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line[port-1] = status
}

func (p *Port) TelegramStatus(port hwport.Port) hwport.TelegramStatusBits {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.telegramStatus[port-1]
}

func (p *Port) ClearTelegramStatus(port hwport.Port, bits hwport.TelegramStatusBits) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.telegramStatus[port-1] = hwport.TelegramStatusBits{}
}

// SetTelegramStatusForTest simulates what the MAC would report this cycle.
func (p *Port) SetTelegramStatusForTest(port hwport.Port, bits hwport.TelegramStatusBits) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.telegramStatus[port-1] = bits
}

func (p *Port) NewestRxBuffer(port hwport.Port) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newestRxBuffer[port-1]
}

func (p *Port) RequestNewestRxBuffer(port hwport.Port) {
	// Software port always keeps newestRxBuffer current; nothing to request.
}

func (p *Port) RxBufferValidBitmap(port hwport.Port) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxValidBitmap[port-1]
}

// SetNewestRxBufferForTest lets a test select which Rx buffer is "new".
func (p *Port) SetNewestRxBufferForTest(port hwport.Port, index int, validBitmap uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newestRxBuffer[port-1] = index
	p.rxValidBitmap[port-1] = validBitmap
}

func (p *Port) UsableTxBuffer() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usableTxBuffer
}

func (p *Port) AcknowledgeTxBuffer(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usableTxBuffer = (index + 1) % len(p.txRAM)
}

func (p *Port) SVCContainer(index int) hwport.SVCContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.containers) {
		return nil
	}
	return p.containers[index]
}

// ContainerForTest exposes the concrete container to let tests drive
// SetStatusForTest/SetReadInfoForTest.
func (p *Port) ContainerForTest(index int) *container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.containers[index]
}

func (p *Port) HardwareContainerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.containers)
}

func (p *Port) TSref() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tsref
}

// SetTSrefForTest lets a test control the reported TSref.
func (p *Port) SetTSrefForTest(v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tsref = v
}

func (p *Port) SetSercosTime(seconds, nanos uint32, externalSync bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sercosSeconds, p.sercosNanos, p.externalSync = seconds, nanos, externalSync
	return nil
}

func (p *Port) SercosTime() (uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sercosSeconds, p.sercosNanos
}

func (p *Port) ConfigureWatchdog(cfg hwport.WatchdogConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchdogCfg = cfg
	return nil
}

func (p *Port) ArmWatchdog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchdogTriggered = false
}

func (p *Port) WatchdogTriggered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watchdogTriggered

}

// TriggerWatchdogForTest simulates a watchdog expiry.
func (p *Port) TriggerWatchdogForTest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchdogTriggered = true
}

func (p *Port) Version() hwport.VersionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// SetVersionForTest lets a test simulate a specific hardware version.
func (p *Port) SetVersionForTest(v hwport.VersionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.version = v
}

var _ hwport.HardwarePort = (*Port)(nil)
