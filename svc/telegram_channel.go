package svc

import (
	"github.com/sercos3/cosema/hwport"
	"github.com/sercos3/cosema/wire"
)

// TelegramChannel is a Channel backed directly by telegram RAM at a
// fixed per-slave SVC field offset (spec §4.2 "Read the MDT control
// word and AT status word from the telegram RAM"). mdtOffset/atOffset
// are the SlaveSlot.SVCOffsetM/SVCOffsetS values the telegram layout
// engine computed for this slave; rxPort selects which port's Rx
// buffer the status/info half is read from.
type TelegramChannel struct {
	hw hwport.HardwarePort

	mdtOffset int
	atOffset  int
	rxPort    hwport.Port
}

// NewTelegramChannel binds a software-emulated container directly to
// its per-cycle field in telegram RAM, replacing the plain memChannel
// tests use once a real Hardware Port and telegram layout exist.
func NewTelegramChannel(hw hwport.HardwarePort, mdtOffset, atOffset int, rxPort hwport.Port) *TelegramChannel {
	return &TelegramChannel{hw: hw, mdtOffset: mdtOffset, atOffset: atOffset, rxPort: rxPort}
}

func (c *TelegramChannel) tx() []byte { return c.hw.TxRAM(c.hw.UsableTxBuffer()) }
func (c *TelegramChannel) rx() []byte { return c.hw.RxRAM(c.rxPort, c.hw.NewestRxBuffer(c.rxPort)) }

// ControlWord reads back the master's own last-written control word
// from the Tx buffer (spec §4.2 "ControlWord reads back what the
// engine itself wrote last cycle").
func (c *TelegramChannel) ControlWord() ControlWord {
	buf := c.tx()
	if c.mdtOffset+2 > len(buf) {
		return 0
	}
	return ControlWord(wire.ReadUint16(buf[c.mdtOffset:]))
}

func (c *TelegramChannel) SetControlWord(v ControlWord) {
	buf := c.tx()
	if c.mdtOffset+2 > len(buf) {
		return
	}
	wire.PutUint16(buf[c.mdtOffset:], uint16(v))
}

func (c *TelegramChannel) StatusWord() StatusWord {
	buf := c.rx()
	if c.atOffset+2 > len(buf) {
		return 0
	}
	return StatusWord(wire.ReadUint16(buf[c.atOffset:]))
}

// InfoWrite stages the 4-byte info field the engine will place in the
// MDT, immediately following the 2-byte control word at mdtOffset.
func (c *TelegramChannel) InfoWrite(b []byte) {
	buf := c.tx()
	off := c.mdtOffset + 2
	if off+4 > len(buf) {
		return
	}
	wire.CopyBlock(buf[off:off+4], wire.VariableLengthByteArray(b))
}

// InfoRead returns the 4-byte info field the slave placed in the AT,
// immediately following the 2-byte status word at atOffset.
func (c *TelegramChannel) InfoRead() []byte {
	buf := c.rx()
	off := c.atOffset + 2
	if off+4 > len(buf) {
		return make([]byte, 4)
	}
	return buf[off : off+4]
}

var _ Channel = (*TelegramChannel)(nil)
