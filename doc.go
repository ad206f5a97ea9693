// Package cosema implements the master-side core of a Sercos III
// real-time fieldbus stack: cyclic telegram scheduling, communication
// phase progression, the service channel, connection state machines
// and redundancy/topology management.
//
// The package intentionally knows nothing about how telegrams reach
// the wire. That is the job of a HardwarePort (see the hwport
// package); cosema only defines the shared wire-format constants and
// error taxonomy used by every other package in this module.
package cosema
