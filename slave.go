package cosema

// Activity is a projected slave's current participation status (spec
// §3 "Slave Record").
type Activity uint8

const (
	Active Activity = iota
	Inactive
	HotPlugInProgress
)

func (a Activity) String() string {
	switch a {
	case Active:
		return "Active"
	case Inactive:
		return "Inactive"
	case HotPlugInProgress:
		return "HotPlugInProgress"
	default:
		return "unknown"
	}
}

// SlaveRecord is one projected Sercos slave (spec §3 "Slave Record").
// Per spec §5's field-partition rule, the cyclic path owns SDev/CDev/
// ConsecutiveMiss; the application path owns everything else; Activity
// is written by both (slave-valid accounting deactivates it, hot-plug
// reactivates it) and must only be touched via ObserveSlaveValid or a
// direct assignment guarded by the owning component.
type SlaveRecord struct {
	Index           int
	SercosAddress   uint16
	TopologyAddress uint16
	Activity        Activity
	SCPClass        uint32

	SDev            SDev
	CDev            CDev
	ConsecutiveMiss int
	AllowedMiss     int // configured threshold before Activity -> Inactive
}

// ObserveSlaveValid updates the consecutive-miss counter from this
// cycle's S-DEV mirror and deactivates the slave once the configured
// threshold is exceeded (spec §4.7 step 6, §8 invariant 4: "Inactive
// implies consecutive_slave_valid_miss > allowed_slave_valid_miss").
func (s *SlaveRecord) ObserveSlaveValid(sdev SDev) {
	s.SDev = sdev
	if sdev.SlaveValid() {
		s.ConsecutiveMiss = 0
		return
	}
	s.ConsecutiveMiss++
	if s.ConsecutiveMiss > s.AllowedMiss {
		s.Activity = Inactive
	}
}
