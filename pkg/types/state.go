package types

// RoundState is the phase a reduction round is in.
type RoundState string

// Reduction round state constants
const (
	RoundProposing     RoundState = "proposing"     // Collecting candidate groups
	RoundResolving     RoundState = "resolving"     // Assigning every root to a group
	RoundMaterializing RoundState = "materializing" // Building parent clusters
	RoundValidated     RoundState = "validated"     // Invariants hold, parents committed
	RoundFailed        RoundState = "failed"        // Round aborted
)

// ValidRoundStates contains all valid round state values
var ValidRoundStates = []RoundState{
	RoundProposing,
	RoundResolving,
	RoundMaterializing,
	RoundValidated,
	RoundFailed,
}

// IsValidRoundState checks if the given state is a known round state.
func IsValidRoundState(state RoundState) bool {
	for _, valid := range ValidRoundStates {
		if state == valid {
			return true
		}
	}
	return false
}

// IsValidRoundTransition validates transitions of the round state machine.
//
// Valid transitions:
//
//	(empty) -> proposing
//	proposing -> resolving | failed
//	resolving -> materializing | failed
//	materializing -> validated | failed
//	failed -> proposing (round retry)
//	validated -> (terminal)
func IsValidRoundTransition(current, next RoundState) bool {
	switch current {
	case "":
		return next == RoundProposing
	case RoundProposing:
		return next == RoundResolving || next == RoundFailed
	case RoundResolving:
		return next == RoundMaterializing || next == RoundFailed
	case RoundMaterializing:
		return next == RoundValidated || next == RoundFailed
	case RoundFailed:
		return next == RoundProposing
	case RoundValidated:
		return false
	default:
		return false
	}
}
