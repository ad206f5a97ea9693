package svc

import "github.com/sercos3/cosema"

// Software-container timeout/error classification (spec §4.2 "Error
// handling"), surfaced to the caller via Request.Err.
var (
	ErrHandshakeTimeout      = cosema.NewError(cosema.ClassProtocol, 0x30, "svc handshake timeout exceeded")
	ErrBusyTimeout           = cosema.NewError(cosema.ClassProtocol, 0x31, "svc busy timeout exceeded")
	ErrGenericServiceChannel = cosema.NewError(cosema.ClassProtocol, 0x32, "svc error bit set by slave")
)

// DataBlockError classifies the 16-bit error code a slave returns in
// the Info field when its status word has the error bit set. Error()
// maps it by code range (0x1000s for element 1 through 0x7000s for
// element 7, 0x71xx for segmented-list access); Element records the
// element the request addressed and does not affect the result.
type DataBlockError struct {
	Element Element
	Code    uint16
}

func (e DataBlockError) Error() *cosema.Error {
	switch {
	case e.Code >= 0x7100 && e.Code <= 0x71FF:
		return cosema.NewError(cosema.ClassProtocol, 0x40, "svc segmented-list error")
	case e.Code >= 0x1000 && e.Code < 0x2000:
		return cosema.NewError(cosema.ClassProtocol, 0x41, "svc data-status error")
	case e.Code >= 0x2000 && e.Code < 0x3000:
		return cosema.NewError(cosema.ClassProtocol, 0x42, "svc name error")
	case e.Code >= 0x3000 && e.Code < 0x4000:
		return cosema.NewError(cosema.ClassProtocol, 0x43, "svc attribute error")
	case e.Code >= 0x4000 && e.Code < 0x5000:
		return cosema.NewError(cosema.ClassProtocol, 0x44, "svc unit error")
	case e.Code >= 0x5000 && e.Code < 0x6000:
		return cosema.NewError(cosema.ClassProtocol, 0x45, "svc min-value error")
	case e.Code >= 0x6000 && e.Code < 0x7000:
		return cosema.NewError(cosema.ClassProtocol, 0x46, "svc max-value error")
	case e.Code >= 0x7000 && e.Code < 0x7100:
		return cosema.NewError(cosema.ClassProtocol, 0x47, "svc operation-data error")
	default:
		return cosema.NewError(cosema.ClassProtocol, 0x4F, "svc unrecognized error code")
	}
}

// ErrNotProcedureCommand is returned by SetCommand/ClearCommand when the
// target IDN's attribute lacks the procedure-command bit (spec §4.3).
var ErrNotProcedureCommand = cosema.NewError(cosema.ClassProtocol, 0x50, "idn is not a procedure command")
