package svc

// Channel is the per-slave telegram-field accessor a container reads
// and writes every Sercos cycle (spec §4.2 software step algorithm).
// Software-emulated containers implement it directly over telegram RAM;
// hardware-backed containers go through the hwChannel adapter over
// hwport.SVCContainer instead of the MAC's native wider register
// layout, so both kinds share the same stepping FSM.
//
// The master always owns the MDT control word; ControlWord reads back
// what the engine itself wrote last cycle (needed to compare against
// the slave's handshake echo), mirroring how the real hardware SVC
// emulation observes its own output alongside the slave's reply.
type Channel interface {
	ControlWord() ControlWord
	SetControlWord(ControlWord)
	StatusWord() StatusWord

	// InfoWrite/InfoRead move the 4-byte per-cycle info field. Reads
	// return the bytes the slave placed in the AT this cycle; writes
	// stage the bytes the engine will place in the MDT next cycle.
	InfoWrite([]byte)
	InfoRead() []byte
}

// memChannel is a Channel backed by plain memory, used by tests that do
// not need a real telegram-RAM round trip.
type memChannel struct {
	control ControlWord
	status  StatusWord
	infoOut [4]byte
	infoIn  [4]byte
}

func (c *memChannel) ControlWord() ControlWord      { return c.control }
func (c *memChannel) SetControlWord(v ControlWord)  { c.control = v }
func (c *memChannel) StatusWord() StatusWord         { return c.status }
func (c *memChannel) InfoWrite(b []byte)             { copy(c.infoOut[:], b) }
func (c *memChannel) InfoRead() []byte               { return c.infoIn[:] }

// NewMemChannel returns a Channel usable for tests: SetStatusForTest and
// SetInfoInForTest let the test play the role of the simulated slave.
func NewMemChannel() *memChannel { return &memChannel{} }

func (c *memChannel) SetStatusForTest(s StatusWord)   { c.status = s }
func (c *memChannel) SetInfoInForTest(b []byte)       { copy(c.infoIn[:], b) }
func (c *memChannel) InfoOutForTest() [4]byte         { return c.infoOut }
