package invoice

import "fmt"

// State of a single workflow run. Runs only move forward; any failure goes straight to Failed.
type State int

const (
	Idle State = iota
	Resolved
	Signed
	Authenticated
	Numbered
	Submitted
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Resolved:
		return "Resolved"
	case Signed:
		return "Signed"
	case Authenticated:
		return "Authenticated"
	case Numbered:
		return "Numbered"
	case Submitted:
		return "Submitted"
	case Success:
		return "Success"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Success || s == Failed
}

// Transition is reported to observers for every state change of a run.
type Transition struct {
	Run  string
	Cuit string
	From State
	To   State
	// Err is set only when To is Failed.
	Err error
}

// Observer must not block; it is called synchronously from the run.
type Observer func(Transition)
