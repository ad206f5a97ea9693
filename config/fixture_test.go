package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/sercos3/cosema"
	"github.com/sercos3/cosema/telegram"
)

// loadNetworkFixture reads a .ini network topology fixture in the
// style of the teacher's EDS parser (od_parser.go): ini.Load, then one
// pass over named sections matched by one regex. Confined
// to _test.go per SPEC_FULL's "production configuration remains
// programmatic" rule; nothing outside tests constructs a NetworkConfig
// from a file.
func loadNetworkFixture(path string) (NetworkConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return NetworkConfig{}, err
	}

	var n NetworkConfig
	net := f.Section("network")
	n.CycleTimeNs = uint32(net.Key("CycleTimeNs").MustUint64(0))
	n.UCBandwidthNs = uint32(net.Key("UCBandwidthNs").MustUint64(0))
	n.HWContainerCount = net.Key("HWContainerCount").MustInt(0)
	n.MaxNbrTelErr = net.Key("MaxNbrTelErr").MustInt(0)

	slaves := f.Section("slaves")
	for _, tok := range strings.Split(slaves.Key("Addrs").String(), ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 16)
		if err != nil {
			return NetworkConfig{}, fmt.Errorf("config: bad slave address %q: %w", tok, err)
		}
		n.ProjectedAddrs = append(n.ProjectedAddrs, uint16(addr))
	}

	connSection := regexp.MustCompile(`^connection\d+$`)
	for _, section := range f.Sections() {
		if !connSection.MatchString(section.Name()) {
			continue
		}
		spec := ConnectionSpec{
			Request: telegram.ConnectionRequest{
				ConnectionNumber: uint16(section.Key("ConnectionNumber").MustInt(0)),
				ProducerIsMaster: section.Key("ProducerIsMaster").MustBool(false),
				Length:           section.Key("Length").MustInt(0),
			},
			AllowedMiss:        section.Key("AllowedMiss").MustInt(0),
			ConsumerSlaveIndex: section.Key("ConsumerSlaveIndex").MustInt(0),
		}
		switch section.Key("Telegram").String() {
		case "MDT":
			spec.Request.Telegram = cosema.MDT
		case "AT":
			spec.Request.Telegram = cosema.AT
		default:
			return NetworkConfig{}, fmt.Errorf("config: unknown telegram type %q in %s", section.Key("Telegram").String(), section.Name())
		}
		n.Connections = append(n.Connections, spec)
	}

	return n, nil
}
