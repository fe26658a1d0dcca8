package process

import "fmt"

// State is the lifecycle state of a process (one execution attempt of a task
// on a remote resource). This is distinct from the monitored job's canonical
// state: job state updates are one of the inputs that drive these
// transitions, not a replacement for them.
type State int

// Happy path in order, with CANCELLING/CANCELED/FAILED as escapes reachable
// from any non-terminal state.
const (
	Created State = iota
	Validated
	Started
	PreProcessing
	ConfiguringWorkspace
	InputDataStaging
	Executing
	Monitoring
	OutputDataStaging
	PostProcessing
	Completed
	Cancelling
	Canceled
	Failed
)

var stateNames = map[State]string{
	Created:              "CREATED",
	Validated:            "VALIDATED",
	Started:              "STARTED",
	PreProcessing:        "PRE_PROCESSING",
	ConfiguringWorkspace: "CONFIGURING_WORKSPACE",
	InputDataStaging:     "INPUT_DATA_STAGING",
	Executing:            "EXECUTING",
	Monitoring:           "MONITORING",
	OutputDataStaging:    "OUTPUT_DATA_STAGING",
	PostProcessing:       "POST_PROCESSING",
	Completed:            "COMPLETED",
	Cancelling:           "CANCELLING",
	Canceled:             "CANCELED",
	Failed:               "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText renders the state name, making audit payloads readable.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name back into its value.
func (s *State) UnmarshalText(text []byte) error {
	name := string(text)
	for state, stateName := range stateNames {
		if stateName == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown process state %q", name)
}

// Terminal reports whether no transitions leave this state.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Canceled
}

// CanTransition reports whether a process may move from one state to the
// next. The happy path advances one step at a time; CANCELLING and FAILED
// are reachable from any non-terminal state, CANCELED only from CANCELLING.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}

	switch to {
	case Cancelling:
		return from != Cancelling
	case Canceled:
		return from == Cancelling
	case Failed:
		return true
	default:
		return to == from+1 && to <= Completed
	}
}
