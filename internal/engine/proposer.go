package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/internal/reconcile"
	"github.com/scrypster/metacluster/pkg/types"
)

// Proposer asks the generative model for candidate parent groups.
type Proposer struct {
	gen     llm.StructuredGenerator
	cfg     Config
	metrics *Metrics
	logger  zerolog.Logger
}

// NewProposer creates a Proposer.
func NewProposer(gen llm.StructuredGenerator, cfg Config, opts Options) *Proposer {
	return &Proposer{
		gen:     gen,
		cfg:     cfg,
		metrics: opts.Metrics,
		logger:  opts.logger().With().Str("component", "proposer").Logger(),
	}
}

// ProposeGroups makes one structured call for clusters and returns the
// cleaned group labels. Empty or duplicated labels are rejected with a
// *ProposalError.
func (p *Proposer) ProposeGroups(ctx context.Context, clusters []*types.Cluster, targetCount int) ([]types.ProposedGroup, error) {
	ids := clusterIDs(clusters)
	if len(clusters) == 0 {
		return nil, &ProposalError{Err: fmt.Errorf("%w: no clusters to group", ErrEmptyProposal)}
	}
	targetCount = max(1, targetCount)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	var out llm.GroupProposalResponse
	err := p.gen.GenerateStructured(callCtx, llm.StructuredRequest{
		Name:         "ProposedGroups",
		Instructions: llm.ProposeGroupsInstructions,
		Prompt:       llm.ProposeGroupsPrompt(clusters, targetCount),
		Schema:       llm.GroupProposalSchema,
	}, &out)
	p.metrics.observeCall("proposer", err)
	if err != nil {
		return nil, &ProposalError{ClusterIDs: ids, Err: err}
	}

	groups, err := cleanGroups(out.Groups)
	if err != nil {
		var pe *ProposalError
		if errors.As(err, &pe) {
			pe.ClusterIDs = ids
		}
		return nil, err
	}

	p.logger.Debug().
		Int("clusters", len(clusters)).
		Int("target", targetCount).
		Int("groups", len(groups)).
		Msg("Groups proposed")
	return groups, nil
}

func cleanGroups(raw []llm.GroupResponse) ([]types.ProposedGroup, error) {
	if len(raw) == 0 {
		return nil, &ProposalError{Err: ErrEmptyProposal}
	}

	groups := make([]types.ProposedGroup, 0, len(raw))
	seen := make(map[string]string, len(raw))
	var empty, dups []string
	for i, g := range raw {
		name := reconcile.CleanLabel(g.Name)
		if name == "" {
			empty = append(empty, fmt.Sprintf("#%d", i+1))
			continue
		}
		key := reconcile.NormalizeKey(name)
		if first, ok := seen[key]; ok {
			dups = append(dups, fmt.Sprintf("%s = %s", first, name))
			continue
		}
		seen[key] = name
		groups = append(groups, types.ProposedGroup{
			Name:        name,
			Description: strings.TrimSpace(g.Description),
		})
	}

	switch {
	case len(empty) > 0:
		return nil, &ProposalError{Names: empty, Err: fmt.Errorf("%w: empty group name", ErrEmptyProposal)}
	case len(dups) > 0:
		return nil, &ProposalError{Names: dups, Err: ErrDuplicateProposal}
	}
	return groups, nil
}

func clusterIDs(cs []*types.Cluster) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
