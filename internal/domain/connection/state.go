package connection

import "fmt"

var transitions = map[Status][]Status{
	StatusCreated:      {StatusUpdating},
	StatusUpdating:     {StatusUpdated, StatusWaitingInput, StatusLoginError, StatusOutdated},
	StatusWaitingInput: {StatusUpdating},
	StatusUpdated:      {StatusUpdating},
	StatusLoginError:   {StatusUpdating},
	StatusOutdated:     {StatusUpdating},
}

// CanTransition reports whether from→to is a direct edge of the state
// machine. Observing the same status twice is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		_, ok := validStatuses[to]
		return ok
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionPath returns the statuses a connection passes through going
// from→to: the target alone for a direct edge, or UPDATING then the target
// when the observation skipped the intermediate state.
func TransitionPath(from, to Status) ([]Status, error) {
	if CanTransition(from, to) {
		return []Status{to}, nil
	}
	if CanTransition(from, StatusUpdating) && CanTransition(StatusUpdating, to) {
		return []Status{StatusUpdating, to}, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
