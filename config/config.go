// Package config holds the in-memory network configuration an
// application fills in before CP1: the projected slave list, the
// connection list and the master timing parameters (spec §3, §4.2,
// §4.4). There is no binary config-blob parser; this package plays
// the role the teacher's pkg/config (NodeConfigurator, PDOConfigurator,
// SYNCConfigurator) plays for a CANopen node, but for the handful of
// parameters a Sercos master needs before it can build a telegram
// layout rather than for live SDO-backed object reads.
package config

import (
	"fmt"

	"github.com/sercos3/cosema/master"
	"github.com/sercos3/cosema/svc"
	"github.com/sercos3/cosema/telegram"
)

// ConnectionSpec describes one connection to be registered with an
// Instance once CP1 has established the slave table (spec §3
// "Connection Record").
type ConnectionSpec struct {
	Request            telegram.ConnectionRequest
	AllowedMiss        int
	ConsumerSlaveIndex int
}

// NetworkConfig is the complete set of parameters an application
// supplies before bring-up: which slave addresses are projected, which
// connections to establish, and the master's timing parameters.
type NetworkConfig struct {
	ProjectedAddrs   []uint16
	HWContainerCount int
	CycleTimeNs      uint32
	UCBandwidthNs    uint32
	Method           telegram.TimingMethod
	MaxNbrTelErr     int
	SVC              svc.Config
	Connections      []ConnectionSpec
}

// Validate checks the structural invariants spec.md §4.4 requires
// before a layout can be built: at least one projected slave, a
// non-zero cycle time, and connection numbers unique within the list.
func (n NetworkConfig) Validate() error {
	if len(n.ProjectedAddrs) == 0 {
		return fmt.Errorf("config: no projected slave addresses")
	}
	if n.CycleTimeNs == 0 {
		return fmt.Errorf("config: cycle time must be non-zero")
	}
	seen := make(map[uint16]bool, len(n.Connections))
	for _, c := range n.Connections {
		if seen[c.Request.ConnectionNumber] {
			return fmt.Errorf("config: duplicate connection number %d", c.Request.ConnectionNumber)
		}
		seen[c.Request.ConnectionNumber] = true
	}
	return nil
}

// InstanceConfig converts the network configuration into the
// master.Config New expects.
func (n NetworkConfig) InstanceConfig() master.Config {
	svcCfg := n.SVC
	if svcCfg == (svc.Config{}) {
		svcCfg = svc.DefaultConfig()
	}
	return master.Config{
		ProjectedAddrs:   n.ProjectedAddrs,
		HWContainerCount: n.HWContainerCount,
		CycleTimeNs:      n.CycleTimeNs,
		UCBandwidthNs:    n.UCBandwidthNs,
		Method:           n.Method,
		MaxNbrTelErr:     n.MaxNbrTelErr,
		SVC:              svcCfg,
	}
}

// ApplyConnections registers every configured connection with in via
// AddConnection. Call after StepPhase1 has allocated the slave table
// and before BeginPhase2.
func (n NetworkConfig) ApplyConnections(in *master.Instance) {
	for _, c := range n.Connections {
		in.AddConnection(c.Request, c.AllowedMiss, c.ConsumerSlaveIndex)
	}
}
