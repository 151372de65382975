package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/metacluster/pkg/types"
)

// Sentinel errors exposed through ReductionError.Unwrap.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrProposalFailed      = errors.New("group proposal failed")
	ErrResolverUnavailable = errors.New("generative model unavailable for every cluster")
	ErrInvariantViolation  = errors.New("tree invariant violated")
)

// Proposal failure kinds wrapped by ProposalError.
var (
	ErrEmptyProposal     = errors.New("no groups proposed")
	ErrDuplicateProposal = errors.New("duplicate group names")
)

// ReductionError is a fatal reduction failure.
type ReductionError struct {
	// Phase is the round state the failure occurred in, empty for input validation.
	Phase types.RoundState
	// Round is 1-based, 0 for input validation.
	Round int
	// ClusterIDs lists the clusters involved, when known.
	ClusterIDs []string
	Err        error
}

func (e *ReductionError) Error() string {
	var b strings.Builder
	b.WriteString("reduction failed")
	if e.Round > 0 {
		fmt.Fprintf(&b, " in round %d", e.Round)
	}
	if e.Phase != "" {
		fmt.Fprintf(&b, " (%s)", e.Phase)
	}
	if n := len(e.ClusterIDs); n > 0 {
		fmt.Fprintf(&b, " for %d clusters", n)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ReductionError) Unwrap() error {
	return e.Err
}

// ProposalError describes a rejected grouping proposal.
type ProposalError struct {
	// ClusterIDs are the clusters of the batch.
	ClusterIDs []string
	// Names are offending group names, when applicable.
	Names []string
	Err   error
}

func (e *ProposalError) Error() string {
	if len(e.Names) > 0 {
		return fmt.Sprintf("proposal for %d clusters rejected: %v: %s", len(e.ClusterIDs), e.Err, strings.Join(e.Names, ", "))
	}
	return fmt.Sprintf("proposal for %d clusters rejected: %v", len(e.ClusterIDs), e.Err)
}

func (e *ProposalError) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...any) error {
	return &ReductionError{Err: fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))}
}
