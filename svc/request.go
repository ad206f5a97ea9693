// Package svc implements component C3, the service-channel engine: a
// per-slave bidirectional fragmented transport riding 2 bytes of
// control/status plus a 4-byte info word each cycle, fanned out across
// hardware-backed and software-emulated containers.
//
// The shape mirrors the teacher's pkg/sdo client: a linear FSM driven
// by repeated, non-blocking steps rather than blocking calls, with a
// tiny FIFO-like "current position" bookkeeping instead of channels.
package svc

import (
	"github.com/sercos3/cosema"
)

// Element identifies which of the seven SVC data-block elements a
// request addresses (spec §4.2/§4.3).
type Element uint8

const (
	ElementClose         Element = 0
	ElementDataStatus     Element = 1
	ElementName           Element = 2
	ElementAttribute      Element = 3
	ElementUnit           Element = 4
	ElementMin            Element = 5
	ElementMax            Element = 6
	ElementOperationData  Element = 7
)

// Direction of an SVC request.
type Direction uint8

const (
	DirRead Direction = iota
	DirWrite
)

// Priority governs preemption between in-flight requests on the same
// slave (spec §4.2 "Priority policy").
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityHigh
	PriorityInternal
)

// RequestState is the SVC atomic-request FSM (spec §4.2 table).
type RequestState uint8

const (
	StateInitRequest RequestState = iota
	StateRequestInProgress
	StateLastStep
	StateFinishedRequest
)

func (s RequestState) String() string {
	switch s {
	case StateInitRequest:
		return "InitRequest"
	case StateRequestInProgress:
		return "RequestInProgress"
	case StateLastStep:
		return "LastStep"
	case StateFinishedRequest:
		return "FinishedRequest"
	default:
		return "Unknown"
	}
}

// Request is one in-flight atomic SVC transfer (spec §3 "SVC Request").
// It is reused across its lifetime: callers build one, hand it to
// Engine.Submit and poll State/Err until it reaches StateFinishedRequest.
type Request struct {
	SlaveIndex int
	Element    Element
	IDN        uint16
	Dir        Direction
	Priority   Priority
	Internal   bool

	// Data is the caller-owned transfer buffer, borrowed for the
	// duration of the request (spec §3 ownership rules).
	Data []byte

	Position  int // bytes transferred so far
	SetEnd    bool
	Attribute uint16
	ListLen   uint32

	State RequestState
	Err   error

	// replaceable marks a request that a higher-priority request may
	// cancel mid-flight; Engine.Submit sets it for every PriorityLow
	// request.
	replaceable bool
	canceled    bool

	// handshake is not read or written by the engine; the handshake bit
	// lives in the container's shadow control word.
	handshake bool
}

// Done reports whether the request has reached a terminal state.
func (r *Request) Done() bool {
	return r.State == StateFinishedRequest
}

// markCanceled preempts an in-flight request; the owner observes
// ErrRequestCanceled on its next poll.
func (r *Request) markCanceled() {
	r.canceled = true
	r.Err = cosema.ErrRequestCanceled
	r.State = StateFinishedRequest
}
