package worker

import (
	"fmt"
	"sync"
)

// State represents a worker lifecycle state.
type State int

const (
	Initializing State = iota // INITIALIZING: setup callback running
	Running                   // RUNNING: iterating the run loop
	Stopping                  // STOPPING: stop observed, cleanup pending
	Terminated                // TERMINATED: cleanup done, process exiting
)

var stateNames = [...]string{
	"INITIALIZING", "RUNNING", "STOPPING", "TERMINATED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", s)
}

// validTransitions defines allowed state transitions. RUNNING self-loops
// on every iteration; only changes of state appear here.
var validTransitions = map[State][]State{
	Initializing: {Running, Stopping},
	Running:      {Stopping},
	Stopping:     {Terminated},
}

// StateMachine tracks the single forward pass through the worker
// lifecycle. It is safe for concurrent reads from signal handlers.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

// NewStateMachine creates a state machine in INITIALIZING state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: Initializing}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Transition attempts a state transition. Returns an error if the
// transition is invalid.
func (sm *StateMachine) Transition(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, a := range validTransitions[sm.state] {
		if a == target {
			sm.state = target
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", sm.state, target)
}
