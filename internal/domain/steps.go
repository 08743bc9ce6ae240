package domain

// Step enumerates the checkout workflow states. The flow starts at summary,
// moves forward through address and payment, and exits through submitted on
// success or closed on cancel.
type Step string

const (
	// StepSummary shows the order summary; the initial state.
	StepSummary Step = "summary"
	// StepAddress collects contact details and the shipping address.
	StepAddress Step = "address"
	// StepPayment is the terms/payment review gate before submission.
	StepPayment Step = "payment"
	// StepSubmitted is the pseudo-terminal reached by a successful
	// submission. It is not a UI step.
	StepSubmitted Step = "submitted"
	// StepClosed is the terminal cancel exit, reachable from any state.
	StepClosed Step = "closed"
)

// stepTransitions is the forward/backward transition table. Closed is reachable from
// every live state and therefore handled in CanTransition rather than
// listed per state.
var stepTransitions = map[Step][]Step{
	StepSummary: {StepAddress},
	StepAddress: {StepPayment, StepSummary},
	StepPayment: {StepAddress, StepSubmitted},
}

// Valid reports whether s names a known workflow state.
func (s Step) Valid() bool {
	switch s {
	case StepSummary, StepAddress, StepPayment, StepSubmitted, StepClosed:
		return true
	}
	return false
}

// Terminal reports whether the workflow has exited.
func (s Step) Terminal() bool {
	return s == StepSubmitted || s == StepClosed
}

// CanTransition reports whether moving from s to target is permitted by the
// workflow. Validation gates are enforced by the caller; this table only
// rejects transitions that are structurally impossible.
func (s Step) CanTransition(target Step) bool {
	if s.Terminal() {
		return false
	}
	if target == StepClosed {
		return true
	}
	for _, next := range stepTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Next returns the forward step from s, if one exists.
func (s Step) Next() (Step, bool) {
	switch s {
	case StepSummary:
		return StepAddress, true
	case StepAddress:
		return StepPayment, true
	}
	return "", false
}

// Prev returns the backward step from s, if one exists.
func (s Step) Prev() (Step, bool) {
	switch s {
	case StepAddress:
		return StepSummary, true
	case StepPayment:
		return StepAddress, true
	}
	return "", false
}
