package cosema

// Phase is a Sercos communication phase (spec §1, §4.5, GLOSSARY).
type Phase uint8

const (
	PhaseNRT Phase = iota // dark / non real-time, no cyclic traffic
	PhaseCP0              // parameter broadcast, address allocation prep
	PhaseCP1              // slave list cross-reference
	PhaseCP2              // full-length MDT/AT, SVC available
	PhaseCP3              // final telegram layout, CP3 transition check
	PhaseCP4              // fully cyclic operation
)

func (p Phase) String() string {
	switch p {
	case PhaseNRT:
		return "NRT"
	case PhaseCP0:
		return "CP0"
	case PhaseCP1:
		return "CP1"
	case PhaseCP2:
		return "CP2"
	case PhaseCP3:
		return "CP3"
	case PhaseCP4:
		return "CP4"
	default:
		return "unknown"
	}
}

// IsCyclic reports whether SVC and connection FSMs may run in this phase.
func (p Phase) IsCyclic() bool {
	return p >= PhaseCP2
}
