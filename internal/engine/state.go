package engine

// State is the coordinator lifecycle position.
type State int32

const (
	Idle State = iota
	Baselining
	Watching
	Reconciling
	Stopped
)

var stateNames = [...]string{"idle", "baselining", "watching", "reconciling", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateNames lists every state name, for metrics.
func StateNames() []string { return stateNames[:] }
