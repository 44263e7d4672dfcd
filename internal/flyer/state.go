package flyer

// State is the fly-scan phase. Done and Failed are terminal; a hardware
// fault moves any non-terminal state to Failed.
type State int

const (
	Idle State = iota
	Taxiing
	Armed
	Flying
	Completing
	Collecting
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:       "Idle",
	Taxiing:    "Taxiing",
	Armed:      "Armed",
	Flying:     "Flying",
	Completing: "Completing",
	Collecting: "Collecting",
	Done:       "Done",
	Failed:     "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether the scan can make no further transitions.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}
