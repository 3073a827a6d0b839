// Package preview decides when the contract preview may be shown. All
// visibility changes are derived here from authoritative conversation state.
package preview

import "notary-chat/internal/domain"

// IsContractReady reports whether a draft exists for the conversation: the
// server has stored a contract, or the workflow awaits formal approval. It
// has no hidden state.
func IsContractReady(c domain.Conversation) bool {
	if c.ContractStored {
		return true
	}
	return c.WorkflowContext.Status() == domain.StatusAwaitingFormalApproval
}

// Decision is the visibility outcome attached to a state mutation.
type Decision int

const (
	Unchanged Decision = iota
	Open
	Close
)

func (d Decision) String() string {
	switch d {
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return "unchanged"
	}
}

// Transition compares eligibility before and after a mutation. Only an edge
// produces a decision, so an already-open preview is not re-opened.
func Transition(before, after bool) Decision {
	switch {
	case !before && after:
		return Open
	case before && !after:
		return Close
	default:
		return Unchanged
	}
}

// ForSelection is the decision applied when a conversation becomes active:
// the preview mirrors eligibility.
func ForSelection(available bool) Decision {
	if available {
		return Open
	}
	return Close
}
