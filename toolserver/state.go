package toolserver

import "fmt"

// State is the lifecycle state of the managed tool server process.
type State int

const (
	// StateStopped means no process is running and none is wanted.
	StateStopped State = iota
	// StateStarting means the process was spawned and health probing is in
	// progress.
	StateStarting
	// StateRunning means the server answered a health probe and accepts
	// execution requests.
	StateRunning
	// StateStopping means a shutdown was requested and the grace period is
	// running.
	StateStopping
	// StateCrashed means the process exited unexpectedly or never became
	// healthy.
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StartupTimeoutError reports that the spawned process never answered a
// health probe within the allowed attempts.
type StartupTimeoutError struct {
	Attempts int
	Addr     string
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("tool server at %s did not become healthy after %d probes", e.Addr, e.Attempts)
}
