// Package macro implements component C4, the SVC macro layer: the five
// public multi-cycle operations (Read, Write, SetCommand, ClearCommand,
// ReadCmdStatus) built as state machines on top of svc.Engine atomic
// requests.
//
// Shape mirrors the teacher's pkg/sdo request/response dispatch
// (requests.go): each state only ever looks at the outcome of the one
// underlying request it is waiting on and decides the next request to
// submit, never blocking.
package macro

import (
	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/svc"
	log "github.com/sirupsen/logrus"
)

// State is the SVC Macro Request FSM (spec §3 "SVC Macro Request").
type State uint8

const (
	StateStartRequest State = iota
	StateInitSVCH
	StateChannelOpen
	StateGetAttribute
	StateAttributeValid
	StateDataValid
	StateSetCmd
	StateClearCmd
	StateCheckCmd
	StateCmdActive
	StateCmdCleared
	StateGetCmdStatus
	StateCmdStatusValid
	StateRequestError
)

func (s State) String() string {
	switch s {
	case StateStartRequest:
		return "StartRequest"
	case StateInitSVCH:
		return "InitSVCH"
	case StateChannelOpen:
		return "ChannelOpen"
	case StateGetAttribute:
		return "GetAttribute"
	case StateAttributeValid:
		return "AttributeValid"
	case StateDataValid:
		return "DataValid"
	case StateSetCmd:
		return "SetCmd"
	case StateClearCmd:
		return "ClearCmd"
	case StateCheckCmd:
		return "CheckCmd"
	case StateCmdActive:
		return "CmdActive"
	case StateCmdCleared:
		return "CmdCleared"
	case StateGetCmdStatus:
		return "GetCmdStatus"
	case StateCmdStatusValid:
		return "CmdStatusValid"
	default:
		return "RequestError"
	}
}

// attrProcedureCommandBit marks an IDN's attribute as a procedure
// command (spec §4.3 "procedure-command bit"). The exact bit position
// is not recovered from original_source/inc/CSMD_GLOB.h; bit 0 is
// assigned here, mirroring the data-status reply's own bit-0
// "command active" convention that SetCommand/ClearCommand poll for.
const attrProcedureCommandBit uint16 = 1 << 0

// cmdActiveBit is bit 0 of the Data Status (element 1) reply while a
// procedure command is set and running (spec §4.3).
const cmdActiveBit uint16 = 1 << 0

// kind distinguishes the five public operations sharing this FSM.
type kind uint8

const (
	kindRead kind = iota
	kindWrite
	kindSetCommand
	kindClearCommand
	kindReadCmdStatus
)

// Op is one in-flight macro operation (spec §3 "SVC Macro Request").
// Callers build one with New*, then call Poll repeatedly (once per
// cycle, alongside svc.Engine.StepSoftware) until Done reports true.
type Op struct {
	engine *svc.Engine

	SlaveIndex int
	IDN        uint16
	Element    svc.Element
	Priority   svc.Priority
	Internal   bool

	// Data is the caller-owned transfer buffer for Read/Write; borrowed
	// for the operation's lifetime (spec §3 ownership rules).
	Data []byte

	kind kind

	state     State
	attribute uint16
	haveAttr  bool
	attrBuf   [2]byte
	statusBuf [4]byte

	req      *svc.Request
	canceled bool
	err      error

	logger *log.Entry
}

// NewRead builds a Read macro (spec §4.3 "Read macro"): resolves the
// IDN's attribute if unknown, then reads the requested element into buf.
func NewRead(e *svc.Engine, slaveIndex int, idn uint16, element svc.Element, buf []byte, priority svc.Priority) *Op {
	return newOp(e, kindRead, slaveIndex, idn, element, buf, priority)
}

// NewWrite builds a Write macro (spec §4.3 "Write macro"). Only element
// 1 (Data Status) and element 7 (Operation Data) are valid targets.
func NewWrite(e *svc.Engine, slaveIndex int, idn uint16, element svc.Element, data []byte, priority svc.Priority) *Op {
	return newOp(e, kindWrite, slaveIndex, idn, element, data, priority)
}

// NewSetCommand builds a SetCommand macro: writes value 3 (set+enable)
// to element 7 and polls Data Status until bit 0 reads 1 (spec §4.3).
// IDNs whose attribute lacks the procedure-command bit are rejected
// with ErrNotProcedureCommand.
func NewSetCommand(e *svc.Engine, slaveIndex int, idn uint16, priority svc.Priority) *Op {
	return newOp(e, kindSetCommand, slaveIndex, idn, svc.ElementOperationData, nil, priority)
}

// NewClearCommand builds a ClearCommand macro: writes 0 to element 7
// and polls Data Status until it reads 0 (spec §4.3).
func NewClearCommand(e *svc.Engine, slaveIndex int, idn uint16, priority svc.Priority) *Op {
	return newOp(e, kindClearCommand, slaveIndex, idn, svc.ElementOperationData, nil, priority)
}

// NewReadCmdStatus builds a one-shot ReadCmdStatus macro: a single read
// of element 1 (Data Status), exposed for callers that want to inspect
// command state without driving a full SetCommand/ClearCommand cycle.
func NewReadCmdStatus(e *svc.Engine, slaveIndex int, idn uint16, priority svc.Priority) *Op {
	return newOp(e, kindReadCmdStatus, slaveIndex, idn, svc.ElementDataStatus, nil, priority)
}

func newOp(e *svc.Engine, k kind, slaveIndex int, idn uint16, element svc.Element, data []byte, priority svc.Priority) *Op {
	return &Op{
		engine:     e,
		kind:       k,
		SlaveIndex: slaveIndex,
		IDN:        idn,
		Element:    element,
		Data:       data,
		Priority:   priority,
		state:      StateStartRequest,
		logger:     log.WithField("component", "svc-macro"),
	}
}

func (o *Op) CurrentState() State { return o.state }
func (o *Op) Err() error          { return o.err }

// Done reports whether the macro has reached a terminal state,
// successful or not.
func (o *Op) Done() bool {
	switch o.state {
	case StateDataValid, StateCmdActive, StateCmdCleared, StateCmdStatusValid, StateRequestError:
		return true
	default:
		return false
	}
}

// Cancel marks the macro for cancellation on its next Poll, releasing
// the underlying atomic request if one is in flight (spec §4.3
// "Cancellation").
func (o *Op) Cancel() { o.canceled = true }

func (o *Op) fail(err error) {
	if o.req != nil && !o.req.Done() {
		o.engine.Cancel(o.SlaveIndex)
	}
	o.err = err
	o.state = StateRequestError
	o.logger.WithFields(log.Fields{"slave": o.SlaveIndex, "idn": o.IDN, "err": err}).Debug("svc macro failed")
}

func (o *Op) submit(req *svc.Request) bool {
	req.SlaveIndex = o.SlaveIndex
	req.IDN = o.IDN
	req.Priority = o.Priority
	req.Internal = o.Internal
	if err := o.engine.Submit(req); err != nil {
		return false // still busy, retry next Poll
	}
	o.req = req
	return true
}

// Poll advances the macro by one step. It must be called once per
// cycle (the same cadence as svc.Engine.StepSoftware / OnInterrupt)
// until Done reports true.
func (o *Op) Poll() {
	if o.canceled {
		o.fail(cosema.ErrRequestCanceled)
		return
	}

	switch o.state {
	case StateStartRequest:
		o.start()
	case StateGetAttribute:
		o.pollAttribute()
	case StateAttributeValid:
		o.startDataTransfer()
	case StateChannelOpen:
		o.pollDataTransfer()
	case StateSetCmd, StateClearCmd:
		o.pollCommandWrite()
	case StateCheckCmd:
		o.startCmdStatusPoll()
	case StateGetCmdStatus:
		o.pollCmdStatus()
	}
}

func (o *Op) needsAttribute() bool {
	switch o.kind {
	case kindReadCmdStatus:
		return false
	case kindSetCommand, kindClearCommand:
		return true
	default:
		return o.Element != svc.ElementAttribute && !o.haveAttr
	}
}

func (o *Op) start() {
	if o.kind == kindWrite && o.Element != svc.ElementDataStatus && o.Element != svc.ElementOperationData {
		o.fail(cosema.ErrIllegalArgument)
		return
	}
	if o.needsAttribute() {
		if o.submit(&svc.Request{Element: svc.ElementAttribute, Dir: svc.DirRead, Data: o.attrBuf[:], SetEnd: true}) {
			o.state = StateGetAttribute
		}
		return
	}
	o.startDataTransfer()
}

func (o *Op) pollAttribute() {
	if !o.req.Done() {
		return
	}
	if o.req.Err != nil {
		o.fail(o.req.Err)
		return
	}
	o.attribute = uint16(o.attrBuf[0]) | uint16(o.attrBuf[1])<<8
	o.haveAttr = true
	o.state = StateAttributeValid
	o.startDataTransfer()
}

func (o *Op) startDataTransfer() {
	switch o.kind {
	case kindRead:
		if o.submit(&svc.Request{Element: o.Element, Dir: svc.DirRead, Data: o.Data, SetEnd: true}) {
			o.state = StateChannelOpen
		}
	case kindWrite:
		if o.submit(&svc.Request{Element: o.Element, Dir: svc.DirWrite, Data: o.Data, SetEnd: true, Attribute: o.attribute}) {
			o.state = StateChannelOpen
		}
	case kindSetCommand, kindClearCommand:
		if o.attribute&attrProcedureCommandBit == 0 {
			o.fail(svc.ErrNotProcedureCommand)
			return
		}
		var val [2]byte
		if o.kind == kindSetCommand {
			val[0] = 3
		}
		if o.submit(&svc.Request{Element: svc.ElementOperationData, Dir: svc.DirWrite, Data: val[:], SetEnd: true}) {
			if o.kind == kindSetCommand {
				o.state = StateSetCmd
			} else {
				o.state = StateClearCmd
			}
		}
	case kindReadCmdStatus:
		if o.submit(&svc.Request{Element: svc.ElementDataStatus, Dir: svc.DirRead, Data: o.statusBuf[:2], SetEnd: true}) {
			o.state = StateGetCmdStatus
		}
	}
}

func (o *Op) pollDataTransfer() {
	if !o.req.Done() {
		return
	}
	if o.req.Err != nil {
		o.fail(o.req.Err)
		return
	}
	o.state = StateDataValid
}

func (o *Op) pollCommandWrite() {
	if !o.req.Done() {
		return
	}
	if o.req.Err != nil {
		o.fail(o.req.Err)
		return
	}
	o.startCmdStatusPoll()
}

func (o *Op) startCmdStatusPoll() {
	if o.submit(&svc.Request{Element: svc.ElementDataStatus, Dir: svc.DirRead, Data: o.statusBuf[:2], SetEnd: true}) {
		o.state = StateGetCmdStatus
	}
}

func (o *Op) pollCmdStatus() {
	if !o.req.Done() {
		return
	}
	if o.req.Err != nil {
		o.fail(o.req.Err)
		return
	}
	status := uint16(o.statusBuf[0]) | uint16(o.statusBuf[1])<<8
	active := status&cmdActiveBit != 0

	switch o.kind {
	case kindReadCmdStatus:
		o.state = StateCmdStatusValid
	case kindSetCommand:
		if active {
			o.state = StateCmdActive
		} else {
			o.state = StateCheckCmd
		}
	case kindClearCommand:
		if !active {
			o.state = StateCmdCleared
		} else {
			o.state = StateCheckCmd
		}
	}
}

// CmdStatus returns the last Data Status value observed by a
// ReadCmdStatus/SetCommand/ClearCommand macro.
func (o *Op) CmdStatus() uint16 {
	return uint16(o.statusBuf[0]) | uint16(o.statusBuf[1])<<8
}
