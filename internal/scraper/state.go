package scraper

import "fmt"

// State is the lifecycle position of one scrape invocation.
type State string

// Scrape states in lifecycle order.
const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateParsing     State = "parsing"
	StateDispatching State = "dispatching"
	StateAggregating State = "aggregating"
	StatePersisted   State = "persisted"
	StateFailed      State = "failed"
)

var stateOrder = map[State]int{
	StateIdle:        0,
	StateFetching:    1,
	StateParsing:     2,
	StateDispatching: 3,
	StateAggregating: 4,
	StatePersisted:   5,
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

// CanTransition reports whether from → to is a legal move: one step forward
// along the lifecycle, or into Failed from any non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	fromIdx, okFrom := stateOrder[from]
	toIdx, okTo := stateOrder[to]
	return okFrom && okTo && toIdx == fromIdx+1
}

// StateMachine tracks the transitions of one scrape. It is not safe for
// concurrent use; a scrape drives its own machine from one goroutine.
type StateMachine struct {
	current State
	history []State
	onEnter func(from, to State)
}

// NewStateMachine returns a machine in StateIdle. onEnter may be nil.
func NewStateMachine(onEnter func(from, to State)) *StateMachine {
	return &StateMachine{
		current: StateIdle,
		history: []State{StateIdle},
		onEnter: onEnter,
	}
}

// Current returns the current state.
func (m *StateMachine) Current() State { return m.current }

// History returns every state entered, in order.
func (m *StateMachine) History() []State {
	return append([]State(nil), m.history...)
}

// Transition moves to the next state or returns ErrIllegalTransition.
func (m *StateMachine) Transition(to State) error {
	if !CanTransition(m.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.current, to)
	}
	from := m.current
	m.current = to
	m.history = append(m.history, to)
	if m.onEnter != nil {
		m.onEnter(from, to)
	}
	return nil
}
