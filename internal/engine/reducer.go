package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/pkg/types"
)

// Reducer builds a cluster hierarchy by running Rounds until the number of
// roots is at most the requested maximum.
type Reducer struct {
	cfg      Config
	round    *Round
	embedder llm.Embedder
	metrics  *Metrics
	logger   zerolog.Logger
}

// NewReducer creates a Reducer. gen must not be nil.
func NewReducer(gen llm.StructuredGenerator, cfg Config, opts Options) (*Reducer, error) {
	if gen == nil {
		return nil, fmt.Errorf("engine: generator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	return &Reducer{
		cfg:      cfg,
		round:    NewRound(gen, cfg, opts),
		embedder: opts.Embedder,
		metrics:  opts.Metrics,
		logger:   opts.logger().With().Str("component", "reducer").Logger(),
	}, nil
}

// ReduceDefault runs Reduce with the configured MaxClusters and MaxRounds.
func (r *Reducer) ReduceDefault(ctx context.Context, base []types.BaseCluster) (*types.Tree, error) {
	return r.Reduce(ctx, base, r.cfg.MaxClusters, r.cfg.MaxRounds)
}

// Reduce merges base clusters into a hierarchy with at most maxClusters
// roots, running at most maxRounds rounds. The returned tree holds every
// cluster ever created. When the bound cannot be reached the tree is marked
// Degraded and no error is returned. Leaves keep the centroid they arrived
// with; embeddings computed here only feed batching and parent centroids.
// Reduce is safe for concurrent use.
func (r *Reducer) Reduce(ctx context.Context, base []types.BaseCluster, maxClusters, maxRounds int) (*types.Tree, error) {
	if maxClusters < 1 {
		return nil, invalidInput("maxClusters must be >= 1, got %d", maxClusters)
	}
	if maxRounds < 0 {
		return nil, invalidInput("maxRounds must be >= 0, got %d", maxRounds)
	}
	leaves, members, err := prepareBase(base)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	state := newForest(leaves)
	roots := state.roots()
	r.embedMissing(ctx, state, roots)
	r.metrics.observeCommit(0, len(roots))

	r.logger.Info().
		Int("base_clusters", len(roots)).
		Int("conversations", members).
		Int("max_clusters", maxClusters).
		Int("max_rounds", maxRounds).
		Msg("Reduction started")

	rounds := 0
	degraded := ""
	for len(roots) > maxClusters {
		if rounds >= maxRounds {
			degraded = types.DegradedMaxRounds
			break
		}
		target := roundTarget(len(roots), maxClusters, r.cfg.ReductionRatio)
		res, err := r.round.Run(ctx, state, roots, rounds+1, target)
		if err != nil {
			return nil, err
		}
		if res.Stalled {
			degraded = types.DegradedStalled
			break
		}
		rounds++
		roots = sortedByID(res.Parents)
		r.embedMissing(ctx, state, roots)
	}

	tree := types.NewTree(state.all())
	tree.Rounds = rounds
	if degraded != "" {
		tree.Degraded = true
		tree.DegradedReason = degraded
		r.logger.Warn().
			Str("reason", degraded).
			Int("rounds", rounds).
			Int("roots", len(tree.RootIDs)).
			Int("max_clusters", maxClusters).
			Msg("Reduction stopped above the requested root count")
	}
	if err := checkTree(tree, members); err != nil {
		return nil, &ReductionError{Round: rounds, Err: err}
	}

	emitToContext(ctx, EventReductionFinished(tree))
	r.logger.Info().
		Int("rounds", rounds).
		Int("roots", len(tree.RootIDs)).
		Int("clusters", len(tree.Clusters)).
		Int("depth", tree.Depth()).
		Dur("duration", time.Since(start)).
		Msg("Reduction finished")
	return tree, nil
}

// roundTarget is the number of parents a round aims for.
func roundTarget(roots, maxClusters int, ratio float64) int {
	return max(maxClusters, int(math.Ceil(float64(roots)*ratio)))
}

// prepareBase validates the input and converts it to level 0 clusters.
// It returns the number of distinct conversations covered.
func prepareBase(base []types.BaseCluster) ([]*types.Cluster, int, error) {
	if len(base) == 0 {
		return nil, 0, invalidInput("no base clusters")
	}

	ids := make(map[string]struct{}, len(base))
	owner := make(map[string]string)
	leaves := make([]*types.Cluster, 0, len(base))
	for _, b := range base {
		if err := b.Validate(); err != nil {
			return nil, 0, invalidInput("%v", err)
		}
		if _, dup := ids[b.ID]; dup {
			return nil, 0, invalidInput("duplicate base cluster id %s", b.ID)
		}
		ids[b.ID] = struct{}{}

		c := b.ToCluster()
		for _, m := range c.MemberIDs {
			if prev, taken := owner[m]; taken {
				return nil, 0, invalidInput("conversation %s belongs to both %s and %s", m, prev, b.ID)
			}
			owner[m] = b.ID
		}
		leaves = append(leaves, c)
	}
	return leaves, len(owner), nil
}

// embedMissing records vectors in state for roots that have no centroid.
// Failures only disable similarity batching.
func (r *Reducer) embedMissing(ctx context.Context, state *forest, roots []*types.Cluster) {
	if r.embedder == nil {
		return
	}
	var missing []*types.Cluster
	for _, c := range roots {
		if len(state.centroid(c)) == 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return
	}

	texts := make([]string, len(missing))
	for i, c := range missing {
		texts[i] = c.EmbeddableText()
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(missing) {
		r.logger.Warn().Err(err).Int("clusters", len(missing)).Msg("Embedding clusters failed, batching by id")
		return
	}
	for i, c := range missing {
		state.setVector(c.ID, vecs[i])
	}
}
