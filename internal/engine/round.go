package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/internal/reconcile"
	"github.com/scrypster/metacluster/pkg/types"
	"golang.org/x/sync/errgroup"
)

var errStalled = errors.New("round did not reduce the root count")

// RoundResult describes a finished round.
type RoundResult struct {
	Number int
	// Attempts is the number of attempts used, including the successful one.
	Attempts int
	State    types.RoundState
	Target   int

	Groups      []types.ProposedGroup
	Resolutions []Resolution
	// Parents are the committed parents, empty when Stalled.
	Parents []*types.Cluster

	// Stalled is set when every attempt produced at least as many parents
	// as roots. Nothing is committed in that case.
	Stalled bool
}

func (r *RoundResult) transition(next types.RoundState, logger zerolog.Logger) error {
	if !types.IsValidRoundTransition(r.State, next) {
		return fmt.Errorf("%w: round state %q cannot move to %q", ErrInvariantViolation, r.State, next)
	}
	logger.Debug().Str("from", string(r.State)).Str("to", string(next)).Msg("Round state transition")
	r.State = next
	return nil
}

// Round runs one reduction step: propose, resolve, materialize, validate.
type Round struct {
	gen      llm.StructuredGenerator
	cfg      Config
	proposer *Proposer
	resolver *Resolver
	metrics  *Metrics
	logger   zerolog.Logger
}

// NewRound creates a Round.
func NewRound(gen llm.StructuredGenerator, cfg Config, opts Options) *Round {
	return &Round{
		gen:      gen,
		cfg:      cfg,
		proposer: NewProposer(gen, cfg, opts),
		resolver: NewResolver(gen, cfg, opts),
		metrics:  opts.Metrics,
		logger:   opts.logger().With().Str("component", "round").Logger(),
	}
}

// Run reduces roots towards target. On success the new parents are
// committed to state. A stalled round returns a result with Stalled set and
// leaves state untouched. Proposal failures and invariant violations are
// retried up to RoundRetryBudget times before a *ReductionError is returned;
// loss of the generative model is fatal at once.
func (rd *Round) Run(ctx context.Context, state *forest, roots []*types.Cluster, number int, target int) (*RoundResult, error) {
	resolver := rd.resolver.forRun(state.childNames)
	roots = sortedByID(roots)

	var (
		last      *RoundResult
		lastErr   error
		lastPhase types.RoundState
	)
	for attempt := 1; attempt <= rd.cfg.RoundRetryBudget; attempt++ {
		start := time.Now()
		res, phase, err := rd.attempt(ctx, state, resolver, roots, number, attempt, target)

		switch {
		case err == nil:
			state.commit(res.Parents)
			rd.metrics.observeRound(string(types.RoundValidated), time.Since(start))
			rd.metrics.observeCommit(len(res.Parents), len(res.Parents))
			for _, p := range res.Parents {
				emitToContext(ctx, EventParentCreated(number, p))
			}
			rd.logger.Info().
				Int("round", number).
				Int("attempt", attempt).
				Int("roots", len(roots)).
				Int("parents", len(res.Parents)).
				Dur("duration", time.Since(start)).
				Msg("Round validated")
			return res, nil

		case ctx.Err() != nil:
			rd.metrics.observeRound(string(types.RoundFailed), time.Since(start))
			return nil, &ReductionError{Phase: phase, Round: number, Err: ctx.Err()}

		case errors.Is(err, ErrResolverUnavailable):
			rd.metrics.observeRound(string(types.RoundFailed), time.Since(start))
			return nil, err

		case errors.Is(err, errStalled):
			rd.metrics.observeRound("stalled", time.Since(start))
			rd.logger.Warn().
				Int("round", number).
				Int("attempt", attempt).
				Int("roots", len(roots)).
				Int("parents", len(res.Parents)).
				Int("target", target).
				Msg("Round stalled, retrying with a smaller target")
			target = max(1, target/2)

		default:
			rd.metrics.observeRound("retried", time.Since(start))
			rd.logger.Warn().Err(err).
				Int("round", number).
				Int("attempt", attempt).
				Str("phase", string(phase)).
				Msg("Round attempt failed")
		}
		last, lastErr, lastPhase = res, err, phase
	}

	if errors.Is(lastErr, errStalled) {
		last.Stalled = true
		last.Parents = nil
		return last, nil
	}
	rd.metrics.observeRound(string(types.RoundFailed), 0)
	if lastPhase == types.RoundProposing {
		lastErr = fmt.Errorf("%w: %w", ErrProposalFailed, lastErr)
	}
	return nil, &ReductionError{Phase: lastPhase, Round: number, ClusterIDs: clusterIDs(roots), Err: lastErr}
}

// attempt runs the state machine once. On failure it returns the phase that
// failed.
func (rd *Round) attempt(ctx context.Context, state *forest, resolver *Resolver, roots []*types.Cluster, number, attempt, target int) (*RoundResult, types.RoundState, error) {
	res := &RoundResult{Number: number, Attempts: attempt, Target: target}
	logger := rd.logger.With().Int("round", number).Int("attempt", attempt).Logger()
	emitToContext(ctx, EventRoundStarted(number, attempt, len(roots), target))

	fail := func(phase types.RoundState, err error) (*RoundResult, types.RoundState, error) {
		res.State = types.RoundFailed
		emitToContext(ctx, EventRoundFinished(number, attempt, types.RoundFailed, len(res.Parents), err.Error()))
		return res, phase, err
	}

	if err := res.transition(types.RoundProposing, logger); err != nil {
		return fail(types.RoundProposing, err)
	}
	groups, err := rd.propose(ctx, roots, target, state.centroid)
	if err != nil {
		return fail(types.RoundProposing, err)
	}
	res.Groups = groups
	emitToContext(ctx, EventGroupsProposed(number, groups))

	if err := res.transition(types.RoundResolving, logger); err != nil {
		return fail(types.RoundResolving, err)
	}
	resolutions, err := rd.resolve(ctx, resolver, roots, groups)
	if err != nil {
		if errors.Is(err, ErrResolverUnavailable) {
			err = &ReductionError{Phase: types.RoundResolving, Round: number, ClusterIDs: clusterIDs(roots), Err: err}
		}
		return fail(types.RoundResolving, err)
	}
	res.Resolutions = resolutions
	for i, r := range resolutions {
		emitToContext(ctx, EventResolution(number, r))
		if r.Fallback {
			rd.metrics.observeFallback(r.Reason)
			ev := logger.Warn().Str("cluster_id", r.ClusterID).Str("cluster", roots[i].Name).Str("reason", string(r.Reason)).Int("attempts", r.Attempts)
			if r.Err != nil {
				ev = ev.AnErr("last_error", r.Err)
			}
			if r.Merged {
				ev.Str("group", r.Group).Msg("Catch-all cluster merged into largest group")
			} else {
				ev.Msg("Cluster fell back to Other")
			}
		}
	}

	if err := res.transition(types.RoundMaterializing, logger); err != nil {
		return fail(types.RoundMaterializing, err)
	}
	parents := materialize(number, roots, resolutions, groups, state.centroid)
	if rd.cfg.SynthesizeParents {
		rd.synthesize(ctx, roots, parents)
	}
	res.Parents = parents

	if err := checkRound(state, roots, parents); err != nil {
		return fail(types.RoundValidated, err)
	}
	if len(parents) >= len(roots) {
		return fail(types.RoundMaterializing, fmt.Errorf("%w: %d parents from %d roots", errStalled, len(parents), len(roots)))
	}

	if err := res.transition(types.RoundValidated, logger); err != nil {
		return fail(types.RoundValidated, err)
	}
	emitToContext(ctx, EventRoundFinished(number, attempt, types.RoundValidated, len(parents), ""))
	return res, types.RoundValidated, nil
}

// propose collects candidate groups over all batches. The union keeps the
// first occurrence of each exact name.
func (rd *Round) propose(ctx context.Context, roots []*types.Cluster, target int, vec centroidFunc) ([]types.ProposedGroup, error) {
	batches := planBatches(roots, rd.cfg.ProposerBatchSize, vec)
	results := make([][]types.ProposedGroup, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rd.cfg.ConcurrencyLimit)
	for i, batch := range batches {
		g.Go(func() error {
			groups, err := rd.proposeBatch(gctx, batch, batchTarget(len(batch), target, len(roots)))
			if err != nil {
				return err
			}
			results[i] = groups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var union []types.ProposedGroup
	for _, groups := range results {
		for _, grp := range groups {
			if _, dup := seen[grp.Name]; dup {
				continue
			}
			seen[grp.Name] = struct{}{}
			union = append(union, grp)
		}
	}
	return union, nil
}

// proposeBatch retries a batch and, once its budget is spent, splits it in
// half while it is larger than MinProposerBatch.
func (rd *Round) proposeBatch(ctx context.Context, batch []*types.Cluster, target int) ([]types.ProposedGroup, error) {
	var lastErr error
	for attempt := 1; attempt <= rd.cfg.ProposerRetryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		groups, err := rd.proposer.ProposeGroups(ctx, batch, target)
		if err == nil {
			return groups, nil
		}
		lastErr = err
		rd.logger.Debug().Err(err).Int("batch", len(batch)).Int("attempt", attempt).Msg("Proposal rejected")
	}

	if len(batch) <= rd.cfg.MinProposerBatch {
		return nil, lastErr
	}

	mid := len(batch) / 2
	rd.logger.Warn().Err(lastErr).Int("batch", len(batch)).Msg("Splitting proposer batch")
	left, err := rd.proposeBatch(ctx, batch[:mid], batchTarget(mid, target, len(batch)))
	if err != nil {
		return nil, err
	}
	right, err := rd.proposeBatch(ctx, batch[mid:], batchTarget(len(batch)-mid, target, len(batch)))
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// resolve assigns every root concurrently. Resolver tasks never fail the
// group; only cancellation of ctx aborts the phase.
func (rd *Round) resolve(ctx context.Context, resolver *Resolver, roots []*types.Cluster, groups []types.ProposedGroup) ([]Resolution, error) {
	out := make([]Resolution, len(roots))

	var g errgroup.Group
	g.SetLimit(rd.cfg.ConcurrencyLimit)
	for i, root := range roots {
		g.Go(func() error {
			out[i] = resolver.ResolveParent(ctx, root, groups)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unreachable := 0
	var lastErr error
	for _, r := range out {
		if r.Fallback && (r.Reason == ReasonTimeout || r.Reason == ReasonTransport) {
			unreachable++
			if r.Err != nil {
				lastErr = r.Err
			}
		}
	}
	if unreachable == len(out) {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolverUnavailable, lastErr)
		}
		return nil, ErrResolverUnavailable
	}

	if largest := largestGroup(out, groups); largest != "" {
		for i := range out {
			if out[i].Fallback && roots[i].Synthetic {
				out[i].Group = largest
				out[i].Merged = true
			}
		}
	}
	return out, nil
}

// synthesize rewrites parent names and descriptions from their children.
// Failures keep the proposer's text.
func (rd *Round) synthesize(ctx context.Context, roots []*types.Cluster, parents []*types.Cluster) {
	byID := make(map[string]*types.Cluster, len(roots))
	for _, r := range roots {
		byID[r.ID] = r
	}

	var g errgroup.Group
	g.SetLimit(rd.cfg.ConcurrencyLimit)
	for _, p := range parents {
		if p.Synthetic {
			continue
		}
		children := make([]*types.Cluster, 0, len(p.ChildIDs))
		for _, id := range p.ChildIDs {
			children = append(children, byID[id])
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, rd.cfg.CallTimeout)
			defer cancel()

			var out llm.ParentSynthesisResponse
			err := rd.gen.GenerateStructured(callCtx, llm.StructuredRequest{
				Name:         "ParentSynthesis",
				Instructions: llm.SynthesizeParentInstructions,
				Prompt:       llm.SynthesizeParentPrompt(p.Name, p.Description, children),
				Schema:       llm.ParentSynthesisSchema,
			}, &out)
			rd.metrics.observeCall("synthesizer", err)
			if err != nil {
				rd.logger.Debug().Err(err).Str("parent_id", p.ID).Msg("Parent synthesis failed, keeping proposed label")
				return nil
			}
			if name := reconcile.CleanLabel(out.Name); name != "" {
				p.Name = name
			}
			if desc := strings.TrimSpace(out.Description); desc != "" {
				p.Description = desc
			}
			return nil
		})
	}
	_ = g.Wait()
}
