package connectivity

import "time"

// State is the binary reachability state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Transition records one change of state.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Reasons attached to transitions.
const (
	ReasonPlatform = "platform"
	ReasonFailure  = "failure"
	ReasonProbe    = "probe"
)
