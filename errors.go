package cosema

import (
	"errors"
	"fmt"
)

// Package-level sentinel errors for programming/API misuse, in the
// same spirit as the teacher's flat sentinel-error list.
var (
	ErrIllegalArgument = errors.New("cosema: illegal argument")
	ErrInvalidState    = errors.New("cosema: invalid state for this operation")
	ErrTimeout         = errors.New("cosema: operation timed out")
	ErrNotReady        = errors.New("cosema: operation not ready, poll again")
	ErrOutOfMemory     = errors.New("cosema: buffer allocation failed")
	ErrOdParameters    = errors.New("cosema: error in master configuration parameters")
)

// Class is the high half of the spec §6/§7 error taxonomy.
type Class uint8

const (
	ClassOK           Class = 0x00 // OK / warning
	ClassSystem       Class = 0x10 // system
	ClassProtocol     Class = 0x20 // Sercos protocol
	ClassConfig       Class = 0x21 // configuration
	ClassRedundancy   Class = 0x22 // redundancy
	ClassHotPlug      Class = 0x23 // hot-plug
	ClassConfigParser Class = 0x24 // config parser (out of scope, reserved for completeness)
	ClassConnection   Class = 0x25 // connection FSM
)

// Error is the stable, classified error type returned across component
// boundaries (spec §7 "Propagation policy"). Code is stable per Class
// and must never be renumbered once shipped.
type Error struct {
	Class   Class
	Code    uint8
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("class%02x:code%02x: %s", uint8(e.Class), e.Code, e.Message)
}

func NewError(class Class, code uint8, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

// Stable class-0x20 protocol errors.
var (
	ErrTelErrorOverrun   = NewError(ClassProtocol, 0x01, "successive telegram errors exceeded usMaxNbrTelErr")
	ErrMstMiss           = NewError(ClassProtocol, 0x02, "MST not received in expected window")
	ErrTelLenGtTscyc      = NewError(ClassProtocol, 0x03, "telegram length exceeds available cycle time")
	ErrCp3TransCheckCmd  = NewError(ClassProtocol, 0x10, "S-0-0127 CP3 transition check command failed")
	ErrCp4TransCheckCmd  = NewError(ClassProtocol, 0x11, "S-0-0128 CP4 transition check command failed")
	ErrPhaseChangeCheck  = NewError(ClassProtocol, 0x12, "phase-change-check failed")
	ErrPhaseChangeStart  = NewError(ClassProtocol, 0x13, "phase-change-start failed")
)

// Stable class-0x21 configuration errors.
var (
	ErrConnectionNotProduced = NewError(ClassConfig, 0x01, "connection has no producer")
	ErrWrongSlaveIndex       = NewError(ClassConfig, 0x02, "slave index out of range")
	ErrIllegalSlaveAddress   = NewError(ClassConfig, 0x03, "slave address out of the 1..511 range")
	ErrReservedConfigType    = NewError(ClassConfig, 0x04, "reserved S-0-1050 configuration type rejected")
)

// Stable class-0x22 redundancy errors.
var (
	ErrRecoverRingFailed = NewError(ClassRedundancy, 0x01, "ring recovery failed, topology still broken")
	ErrOpenRingFailed    = NewError(ClassRedundancy, 0x02, "commanded ring opening failed")
)

// Stable class-0x23 hot-plug errors (spec §4.8 "Hot-plug errors are
// enumerated").
var (
	ErrHotPlugPhase0Timeout     = NewError(ClassHotPlug, 0x01, "HP0 parameter broadcast retry envelope exhausted")
	ErrHotPlugScanTimeout       = NewError(ClassHotPlug, 0x02, "HP0 slave-scan timed out for an address")
	ErrHotPlugAlreadyRecognized = NewError(ClassHotPlug, 0x03, "slave already recognized on the ring")
	ErrHotPlugNotProjected      = NewError(ClassHotPlug, 0x04, "slave address not in the projected list")
	ErrHotPlugDoubleAddress     = NewError(ClassHotPlug, 0x05, "duplicate Sercos address during hot-plug scan")
	ErrHotPlugIllegalAddress   = NewError(ClassHotPlug, 0x06, "Sercos address outside the 1..511 range")
	ErrHotPlugCanceled         = NewError(ClassHotPlug, 0x07, "hot-plug operation canceled")
)

// Stable class-0x25 connection errors.
var (
	ErrConnectionInError = NewError(ClassConnection, 0x01, "connection is in Error state, call ClearConnectionError")
)

// RequestCanceled is returned to an SVC caller whose in-flight request
// was preempted by a higher priority one.
var ErrRequestCanceled = NewError(ClassProtocol, 0x20, "request canceled: preempted by higher priority request")

// ChannelInUse is returned when a new SVC request targets a slave that
// already has a non-replaceable request in flight.
var ErrChannelInUse = NewError(ClassProtocol, 0x21, "service channel already in use for this slave")
