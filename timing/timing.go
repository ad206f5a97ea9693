// Package timing implements component C10: programming the Hardware
// Port's timer/clock events and maintaining the Sercos system time
// carried in MDT0's Extended Function Field.
//
// Grounded on the teacher's pkg/time (TIME producer/consumer: a fixed
// epoch, a settable internal clock, a producer-interval timer) and
// pkg/sync (event-driven SYNC production), adapted from CAN-frame
// production to Hardware-Port event/register programming.
package timing

import (
	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/hwport"
)

// EventID enumerates the programmable timer/port events (spec §4.1
// "Timing events", §4.9).
type EventID uint8

const (
	Timer0 EventID = iota
	Timer1
	Timer2
	Timer3
	ConClkSet
	ConClkReset
	TxBufReqA
	RxBufReqA
)

// Controller drives the timing-event programming surface of a
// HardwarePort (spec §4.9). It tracks the cycle time so event times
// can be bounds-checked against [ulMinTime, ulMaxTime].
type Controller struct {
	port        hwport.HardwarePort
	cycleTimeNs uint32
}

// NewController builds a Controller bound to port, bounds-checking
// every event against cycleTimeNs.
func NewController(port hwport.HardwarePort, cycleTimeNs uint32) *Controller {
	return &Controller{port: port, cycleTimeNs: cycleTimeNs}
}

// SetCycleTime updates the bound used by EventControl's range check,
// called whenever the telegram layout engine recomputes tScyc.
func (c *Controller) SetCycleTime(cycleTimeNs uint32) {
	c.cycleTimeNs = cycleTimeNs
}

func (c *Controller) bounds() (min, max uint32) {
	// ulMinTime/ulMaxTime derive from tScyc (spec §4.9); a conservative
	// guard band at each end keeps an event from landing exactly on the
	// cycle boundary, where ordering against MST/AT transmission is
	// otherwise ambiguous.
	return c.cycleTimeNs / 1000, c.cycleTimeNs - c.cycleTimeNs/1000
}

func (c *Controller) eventType(id EventID) hwport.EventType {
	switch id {
	case ConClkSet:
		return hwport.EventSetCycClk
	case ConClkReset:
		return hwport.EventClearCycClk
	case TxBufReqA, RxBufReqA:
		return hwport.EventBufferRequest
	default:
		return hwport.EventGenericInterrupt
	}
}

// EventControl programs or clears one of the timer/port events (spec
// §4.9 "EventControl(id, activate, t_ns_in_cycle)").
func (c *Controller) EventControl(id EventID, activate bool, tNsInCycle uint32) error {
	if !activate {
		c.port.ClearEvent(uint8(id))
		return nil
	}
	min, max := c.bounds()
	if tNsInCycle < min || tNsInCycle > max {
		return cosema.NewError(cosema.ClassConfig, 0x10, "event time outside [ulMinTime, ulMaxTime]")
	}
	return c.port.ProgramEvent(hwport.TimingEvent{
		ID:     uint8(id),
		Type:   c.eventType(id),
		TimeNs: tNsInCycle,
	})
}

// PrepareCYCCLK arms the cycle-clock output (spec §4.9 "PrepareCYCCLK").
// startDelayNs is an absolute in-cycle time; see PrepareCYCCLKFraction
// for the cycle-fraction variant.
func (c *Controller) PrepareCYCCLK(activate, enableInput, polarity bool, startDelayNs uint32) error {
	if !activate {
		c.port.ClearEvent(uint8(ConClkSet))
		c.port.ClearEvent(uint8(ConClkReset))
		return nil
	}
	if err := c.EventControl(ConClkSet, true, startDelayNs); err != nil {
		return err
	}
	_ = enableInput // external sync-input gating is a MAC-internal detail (spec §1 out-of-scope)
	_ = polarity    // polarity is not programmed; ConClkSet always maps to EventSetCycClk
	return nil
}

// PrepareCYCCLKFraction is the "delay expressed as a fraction of the
// cycle" variant spec §4.9 calls out explicitly.
func (c *Controller) PrepareCYCCLKFraction(activate, enableInput, polarity bool, fraction float64) error {
	if fraction < 0 || fraction > 1 {
		return cosema.ErrIllegalArgument
	}
	return c.PrepareCYCCLK(activate, enableInput, polarity, uint32(fraction*float64(c.cycleTimeNs)))
}

// DivClkMode selects how ConfigDIVCLK derives its divided output.
type DivClkMode uint8

const (
	DivClkFreeRunning DivClkMode = iota
	DivClkGatedByCycle
)

// ConfigDIVCLK programs a divided clock output for downstream logic
// (spec §4.9 "ConfigDIVCLK"). hwport.TimingEvent has no separate
// pulse-spacing field, so the pulse distance is carried entirely by
// pulses against the cycle time; only the first pulse's delay is
// programmed explicitly.
func (c *Controller) ConfigDIVCLK(activate bool, mode DivClkMode, polarity, disable bool, pulses uint16, delayNs uint32) error {
	if disable || !activate {
		c.port.ClearEvent(uint8(Timer3))
		return nil
	}
	if pulses == 0 {
		return cosema.ErrIllegalArgument
	}
	min, max := c.bounds()
	if delayNs < min || delayNs > max {
		return cosema.NewError(cosema.ClassConfig, 0x11, "DIVCLK delay outside [ulMinTime, ulMaxTime]")
	}
	return c.port.ProgramEvent(hwport.TimingEvent{
		ID:             uint8(Timer3),
		Type:           hwport.EventDivClk,
		TimeNs:         delayNs,
		SubCycleValue:  pulses,
		SubCycleSelect: mode == DivClkGatedByCycle,
	})
}

// SercosTime mirrors the Extended Function Field's 64-bit seconds+
// nanoseconds pair (spec §3 "Sercos time").
type SercosTime struct {
	Seconds uint32
	Nanos   uint32
}

// NewSercosTime commits a new absolute time immediately (spec §4.9
// "New_Sercos_Time").
func (c *Controller) NewSercosTime(t SercosTime) error {
	return c.port.SetSercosTime(t.Seconds, t.Nanos, false)
}

// NewSercosTimeExternalSync commits a new time to be assumed only on
// the next external sync pulse (spec §4.9 "external-sync variant"),
// per the toggle-bit semantics original_source/CSMD_TIME.c uses to
// distinguish "apply now" from "apply on next sync".
func (c *Controller) NewSercosTimeExternalSync(t SercosTime) error {
	return c.port.SetSercosTime(t.Seconds, t.Nanos, true)
}

// CurrentSercosTime reads back the time currently in the Extended
// Function Field.
func (c *Controller) CurrentSercosTime() SercosTime {
	s, n := c.port.SercosTime()
	return SercosTime{Seconds: s, Nanos: n}
}
