package domain

import "fmt"

// ImageTagState is the lifecycle state of an image. Values are persisted as
// small integers and must never be renumbered.
type ImageTagState int

const (
	StateNotReady ImageTagState = iota
	StateReadyToTag
	StateTagInProgress
	StateCompletedTag
	StateIncompleteTag
	StateAbandoned
)

var stateNames = [...]string{
	StateNotReady:      "NOT_READY",
	StateReadyToTag:    "READY_TO_TAG",
	StateTagInProgress: "TAG_IN_PROGRESS",
	StateCompletedTag:  "COMPLETED_TAG",
	StateIncompleteTag: "INCOMPLETE_TAG",
	StateAbandoned:     "ABANDONED",
}

// AllStates lists every state in enumeration order.
func AllStates() []ImageTagState {
	return []ImageTagState{
		StateNotReady,
		StateReadyToTag,
		StateTagInProgress,
		StateCompletedTag,
		StateIncompleteTag,
		StateAbandoned,
	}
}

func (s ImageTagState) Valid() bool {
	return s >= StateNotReady && s <= StateAbandoned
}

func (s ImageTagState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ImageTagState(%d)", int(s))
	}
	return stateNames[s]
}

// ParseImageTagState converts a persisted or user-supplied integer into a state.
func ParseImageTagState(v int) (ImageTagState, error) {
	s := ImageTagState(v)
	if !s.Valid() {
		return 0, Invalid("parse tag state", "unknown tag state %d", v)
	}
	return s, nil
}

// CheckoutEligible lists the states an image may be checked out from.
func CheckoutEligible() []ImageTagState {
	return AllowedSources(StateTagInProgress)
}

// AllowedSources returns the states from which an image may move into to.
// NOT_READY is only ever an initial state. Neither check-in target lists
// itself, so an already applied check-in cannot be applied twice.
func AllowedSources(to ImageTagState) []ImageTagState {
	switch to {
	case StateNotReady:
		return nil
	case StateReadyToTag:
		return []ImageTagState{StateNotReady, StateReadyToTag}
	case StateTagInProgress:
		return []ImageTagState{StateReadyToTag, StateIncompleteTag}
	case StateCompletedTag:
		return []ImageTagState{StateTagInProgress, StateIncompleteTag}
	case StateIncompleteTag:
		return []ImageTagState{StateTagInProgress}
	case StateAbandoned:
		return []ImageTagState{StateNotReady, StateReadyToTag, StateTagInProgress, StateCompletedTag, StateIncompleteTag}
	default:
		return nil
	}
}

// OwnerBound reports whether leaving TAG_IN_PROGRESS for to is reserved for
// the user who holds the checkout. Lease reclaim is the one exception and
// does not go through the check-in path.
func OwnerBound(to ImageTagState) bool {
	return to == StateCompletedTag || to == StateIncompleteTag
}

func CanTransition(from, to ImageTagState) bool {
	for _, s := range AllowedSources(to) {
		if s == from {
			return true
		}
	}
	return false
}
