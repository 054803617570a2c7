package sim

// State is the phase of a replay run.
type State int

const (
	Idle State = iota
	Loading
	WaitingForStrategyStart
	Streaming
	WaitingForStrategyReady
	Filling
	Closing
	Done
)

var stateNames = [...]string{
	Idle:                    "idle",
	Loading:                 "loading",
	WaitingForStrategyStart: "waiting-for-strategy-start",
	Streaming:               "streaming",
	WaitingForStrategyReady: "waiting-for-strategy-ready",
	Filling:                 "filling",
	Closing:                 "closing",
	Done:                    "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
