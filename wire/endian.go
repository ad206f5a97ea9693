// Package wire implements component C2: byte-swap primitives and block
// copies between host memory and telegram RAM. It is deliberately tiny
// and dependency-free, mirroring how the teacher's od/encoding.go and
// misc.go keep wire-format conversion isolated from protocol logic.
package wire

import "encoding/binary"

// Sercos telegrams are little-endian on the wire, same as the
// teacher's CANopen frames (encoding/binary.LittleEndian throughout
// od/encoding.go). Host byte order is normalized here so every other
// package in this module can pretend the host is little-endian.

func ReadUint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func ReadUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func ReadUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func PutUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func PutUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func PutUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// CopyBlock copies min(len(dst), len(src)) bytes and returns the count
// copied. svc.TelegramChannel.InfoWrite uses it; other telegram-RAM
// accesses slice the buffer or use the Read/Put helpers above.
func CopyBlock(dst, src []byte) int {
	return copy(dst, src)
}

// VariableLengthByteArray marks data carried in SVC info as opaque
// bytes (spec §9 Open Questions: CSMD_SERC_VAR_BYTE_LEN handling).
// Byte arrays of this kind are never byte-swapped regardless of host
// endianness; this function exists so call sites document that intent
// instead of silently forgetting to swap.
func VariableLengthByteArray(data []byte) []byte { return data }
