package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/internal/reconcile"
	"github.com/scrypster/metacluster/pkg/types"
)

// FallbackReason explains why a cluster was assigned to the catch-all group.
type FallbackReason string

const (
	ReasonNoMatch   FallbackReason = "no_match"
	ReasonTimeout   FallbackReason = "timeout"
	ReasonTransport FallbackReason = "transport"
)

// Resolution is the outcome of assigning one root to a proposed group.
type Resolution struct {
	ClusterID string
	// Group is the matched candidate name, or types.OtherGroupName on fallback.
	Group    string
	Fallback bool
	Reason   FallbackReason
	// Merged is set when a synthetic cluster's fallback was redirected into
	// the round's largest resolved group.
	Merged   bool
	Attempts int
	Score    float64
	// Err is the last failure observed; nil when resolved.
	Err error
}

// Resolver assigns clusters to one of a closed set of proposed groups.
type Resolver struct {
	gen       llm.StructuredGenerator
	cfg       Config
	summaries SummaryLookup
	metrics   *Metrics
	logger    zerolog.Logger

	// children returns child names of a parent cluster. It is bound to one
	// reduction by forRun and nil on the shared Resolver.
	children func(id string) []string
}

// NewResolver creates a Resolver.
func NewResolver(gen llm.StructuredGenerator, cfg Config, opts Options) *Resolver {
	return &Resolver{
		gen:       gen,
		cfg:       cfg,
		summaries: opts.Summaries,
		metrics:   opts.Metrics,
		logger:    opts.logger().With().Str("component", "resolver").Logger(),
	}
}

// forRun returns a copy of r that reads child names from children. The
// receiver is left unchanged so one Resolver can serve concurrent reductions.
func (r *Resolver) forRun(children func(id string) []string) *Resolver {
	cp := *r
	cp.children = children
	return &cp
}

// ResolveParent picks the candidate group for cluster. It never returns an
// error: when the attempt budget is exhausted the cluster falls back to the
// catch-all group and the cause is recorded on the Resolution.
func (r *Resolver) ResolveParent(ctx context.Context, cluster *types.Cluster, candidates []types.ProposedGroup) Resolution {
	res := Resolution{ClusterID: cluster.ID}
	if len(candidates) == 0 {
		res.Group = types.OtherGroupName
		res.Fallback = true
		res.Reason = ReasonNoMatch
		res.Err = errors.New("no candidate groups")
		return res
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}

	in := llm.ResolvePromptInput{
		Name:        cluster.Name,
		Description: cluster.Description,
		Candidates:  names,
	}
	if cluster.IsLeaf() {
		in.Examples = r.examples(cluster)
	} else if r.children != nil {
		in.ChildNames = r.children(cluster.ID)
	}

	reachable := false
	reason := ReasonTransport
	var best float64

	for attempt := 1; attempt <= r.cfg.ResolverRetryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		res.Attempts = attempt
		in.Attempt = attempt

		var out llm.ParentChoiceResponse
		err := r.call(ctx, in, &out)
		r.metrics.observeCall("resolver", err)
		if err != nil {
			res.Err = err
			switch {
			case errors.Is(err, llm.ErrMalformedOutput):
				reachable = true
			case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
				reason = ReasonTimeout
			default:
				reason = ReasonTransport
			}
			r.logger.Debug().Err(err).Str("cluster_id", cluster.ID).Int("attempt", attempt).Msg("Resolver call failed")
			continue
		}

		reachable = true
		answer := reconcile.CleanLabel(out.ParentName)
		m := reconcile.Reconcile(answer, names, r.cfg.FuzzyThreshold)
		if m.Matched {
			res.Group = m.Candidate
			res.Score = m.Score
			res.Err = nil
			return res
		}
		if m.Score > best {
			best = m.Score
		}
		in.PreviousAnswer = answer
		res.Err = fmt.Errorf("answer %q matched no candidate (best score %.2f)", answer, m.Score)
		r.logger.Debug().Str("cluster_id", cluster.ID).Int("attempt", attempt).Str("answer", answer).Float64("score", m.Score).Msg("Resolver answer rejected")
	}

	if reachable {
		reason = ReasonNoMatch
	}
	res.Group = types.OtherGroupName
	res.Fallback = true
	res.Reason = reason
	res.Score = best
	return res
}

func (r *Resolver) call(ctx context.Context, in llm.ResolvePromptInput, out *llm.ParentChoiceResponse) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	err := r.gen.GenerateStructured(callCtx, llm.StructuredRequest{
		Name:         "ParentChoice",
		Instructions: llm.ResolveParentInstructions,
		Prompt:       llm.ResolveParentPrompt(in),
		Schema:       llm.ParentChoiceSchema,
	}, out)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, llm.ErrTimeout) {
		return fmt.Errorf("%w: %w", llm.ErrTimeout, err)
	}
	return err
}

// examples returns up to RepresentativeExamples member summaries.
func (r *Resolver) examples(c *types.Cluster) []string {
	if r.summaries == nil || r.cfg.RepresentativeExamples == 0 {
		return nil
	}
	var out []string
	for _, id := range c.MemberIDs {
		if len(out) == r.cfg.RepresentativeExamples {
			break
		}
		if text, ok := r.summaries(id); ok && text != "" {
			out = append(out, text)
		}
	}
	return out
}

// callOutcome maps a generative call error to a metrics label.
func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrMalformedOutput):
		return "malformed"
	case errors.Is(err, llm.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, llm.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, llm.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
