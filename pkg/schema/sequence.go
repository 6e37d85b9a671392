package schema

import "fmt"

// ActionSequence is an immutable, ordered batch of actions tagged parallel
// or sequential. In sequential mode the order is execution order; in
// parallel mode it is start order.
type ActionSequence struct {
	actions  []Action
	parallel bool
}

// NewSequence freezes actions into a sequence. The slice is copied.
func NewSequence(parallel bool, actions ...Action) ActionSequence {
	cp := make([]Action, len(actions))
	copy(cp, actions)
	return ActionSequence{actions: cp, parallel: parallel}
}

// Parallel reports whether members run concurrently.
func (s ActionSequence) Parallel() bool { return s.parallel }

// Len returns the number of member actions.
func (s ActionSequence) Len() int { return len(s.actions) }

// At returns the i-th action.
func (s ActionSequence) At(i int) Action { return s.actions[i] }

// Actions returns a copy of the member actions.
func (s ActionSequence) Actions() []Action {
	cp := make([]Action, len(s.actions))
	copy(cp, s.actions)
	return cp
}

// Mode returns "parallel" or "sequential".
func (s ActionSequence) Mode() string {
	if s.parallel {
		return "parallel"
	}
	return "sequential"
}

// Validate checks every member action and reports the first failure with
// its index.
func (s ActionSequence) Validate() error {
	for i, a := range s.actions {
		if a == nil {
			return NewErrorf(ErrCodeValidation, "action[%d] is nil", i)
		}
		if err := a.Validate(); err != nil {
			return NewErrorf(ErrCodeValidation, "action[%d]: %s", i, err.Error()).WithCause(err)
		}
	}
	return nil
}

func (s ActionSequence) String() string {
	return fmt.Sprintf("%s(%d actions)", s.Mode(), len(s.actions))
}
