package supervisor

import "time"

// State is the supervisor's position in its lifecycle.
type State int

const (
	Starting State = iota
	Running
	Backoff
	Terminated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Backoff:
		return "backoff"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State        State
	Restarts     int
	MaxRestarts  int
	RestartDelay time.Duration
	LastStart    time.Time
	ChildID      string
}
