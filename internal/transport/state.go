package transport

// State is the lifecycle state of a Transport
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ShutdownResult reports whether the queue drained before the deadline
type ShutdownResult int

const (
	// ShutdownSuccess: every queued envelope was handled before the timeout
	ShutdownSuccess ShutdownResult = iota
	// ShutdownTimedOut: the worker was still draining when the timeout elapsed
	ShutdownTimedOut
)

func (r ShutdownResult) String() string {
	if r == ShutdownTimedOut {
		return "timed_out"
	}
	return "success"
}

// workerState tracks a single worker: idle until its first receive, running,
// then terminated once the queue is closed and empty.
type workerState int32

const (
	workerIdle workerState = iota
	workerRunning
	workerTerminated
)
