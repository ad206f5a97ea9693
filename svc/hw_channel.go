package svc

import "github.com/sercos3/cosema/hwport"

// hwChannel adapts a hwport.SVCContainer to the same 4-byte-per-cycle
// Channel contract the software-emulated containers use, so a hardware
// container is driven by the identical stepOne/processSegment FSM
// instead of a second, wider-register implementation. The real MAC
// moves the whole 6-byte SVC field in one shot, but spec.md disclaims
// bit-for-bit vendor register fidelity, and reusing the tested
// chunked transfer keeps both paths in the same code.
type hwChannel struct {
	container hwport.SVCContainer
	control   ControlWord
}

func newHWChannel(c hwport.SVCContainer) *hwChannel {
	return &hwChannel{container: c}
}

func (h *hwChannel) ControlWord() ControlWord { return h.control }

func (h *hwChannel) SetControlWord(v ControlWord) {
	h.control = v
	var words [5]uint16
	words[0] = uint16(v)
	h.container.WriteControl(words)
}

func (h *hwChannel) StatusWord() StatusWord {
	return StatusWord(h.container.ReadStatus()[0])
}

func (h *hwChannel) InfoWrite(b []byte) {
	var words [16]uint16
	for i := 0; i < 2 && i*2 < len(b); i++ {
		lo := b[i*2]
		var hi byte
		if i*2+1 < len(b) {
			hi = b[i*2+1]
		}
		words[i] = uint16(lo) | uint16(hi)<<8
	}
	h.container.WriteInfo(words)
}

func (h *hwChannel) InfoRead() []byte {
	words := h.container.ReadInfo()
	b := make([]byte, 4)
	for i := 0; i < 2; i++ {
		b[i*2] = byte(words[i])
		b[i*2+1] = byte(words[i] >> 8)
	}
	return b
}
