package pagination

import "fmt"

// State is a crawl lifecycle state.
type State int

const (
	StateInit State = iota
	StateProbingCount
	StateFetching
	StateAggregating
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateInit:         "init",
	StateProbingCount: "probing_count",
	StateFetching:     "fetching",
	StateAggregating:  "aggregating",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// allowedTransitions lists every legal edge. Aggregating may fail when the
// artifact cannot be written.
var allowedTransitions = map[State][]State{
	StateInit:         {StateProbingCount},
	StateProbingCount: {StateFetching, StateFailed},
	StateFetching:     {StateAggregating},
	StateAggregating:  {StateDone, StateFailed},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
