// Package engine provides the hierarchical cluster-reduction engine.
// A Reducer runs bounded Rounds; each Round proposes parent groups with a
// generative model, resolves every root into one of them concurrently, and
// materializes validated parent clusters until the root count reaches the
// target.
package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/scrypster/metacluster/internal/config"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/internal/reconcile"
)

// Config holds configuration for the reduction engine.
type Config struct {
	// MaxClusters is the default target root count used by ReduceDefault (default: 10).
	MaxClusters int

	// MaxRounds is the default round bound used by ReduceDefault (default: 10).
	MaxRounds int

	// FuzzyThreshold is the reconciler acceptance threshold in [0,1] (default: 0.9).
	FuzzyThreshold float64

	// ConcurrencyLimit bounds in-flight generative calls per round (default: 50).
	ConcurrencyLimit int

	// ResolverRetryBudget is the number of attempts per cluster before falling
	// back to "Other" (default: 3).
	ResolverRetryBudget int

	// RoundRetryBudget is the number of attempts per round (default: 2).
	RoundRetryBudget int

	// ProposerRetryBudget is the number of attempts per proposer batch (default: 3).
	ProposerRetryBudget int

	// ProposerBatchSize bounds the clusters shown in one proposer call (default: 40).
	ProposerBatchSize int

	// MinProposerBatch is the smallest batch that may be split after its
	// attempts are exhausted (default: 4).
	MinProposerBatch int

	// ReductionRatio sets each round's target as a fraction of the current
	// root count (default: 0.5).
	ReductionRatio float64

	// CallTimeout bounds every generative call (default: 45s).
	CallTimeout time.Duration

	// RepresentativeExamples is the number of member summaries shown to the
	// resolver for a leaf cluster (default: 3).
	RepresentativeExamples int

	// SynthesizeParents renames each new parent from its children (default: false).
	SynthesizeParents bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxClusters:            10,
		MaxRounds:              10,
		FuzzyThreshold:         0.9,
		ConcurrencyLimit:       50,
		ResolverRetryBudget:    3,
		RoundRetryBudget:       2,
		ProposerRetryBudget:    3,
		ProposerBatchSize:      40,
		MinProposerBatch:       4,
		ReductionRatio:         0.5,
		CallTimeout:            45 * time.Second,
		RepresentativeExamples: 3,
	}
}

// ConfigFrom converts the file/env configuration section.
func ConfigFrom(c config.EngineConfig) Config {
	return Config{
		MaxClusters:            c.MaxClusters,
		MaxRounds:              c.MaxRounds,
		FuzzyThreshold:         c.FuzzyThreshold,
		ConcurrencyLimit:       c.ConcurrencyLimit,
		ResolverRetryBudget:    c.ResolverRetryBudget,
		RoundRetryBudget:       c.RoundRetryBudget,
		ProposerRetryBudget:    c.ProposerRetryBudget,
		ProposerBatchSize:      c.ProposerBatchSize,
		MinProposerBatch:       c.MinProposerBatch,
		ReductionRatio:         c.ReductionRatio,
		CallTimeout:            c.CallTimeout,
		RepresentativeExamples: c.RepresentativeExamples,
		SynthesizeParents:      c.SynthesizeParents,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if err := reconcile.ValidateThreshold(c.FuzzyThreshold); err != nil {
		return err
	}
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("ConcurrencyLimit must be >= 1, got %d", c.ConcurrencyLimit)
	}
	if c.ResolverRetryBudget < 1 {
		return fmt.Errorf("ResolverRetryBudget must be >= 1, got %d", c.ResolverRetryBudget)
	}
	if c.RoundRetryBudget < 1 {
		return fmt.Errorf("RoundRetryBudget must be >= 1, got %d", c.RoundRetryBudget)
	}
	if c.ProposerRetryBudget < 1 {
		return fmt.Errorf("ProposerRetryBudget must be >= 1, got %d", c.ProposerRetryBudget)
	}
	if c.ProposerBatchSize < 2 {
		return fmt.Errorf("ProposerBatchSize must be >= 2, got %d", c.ProposerBatchSize)
	}
	if c.MinProposerBatch < 1 {
		return fmt.Errorf("MinProposerBatch must be >= 1, got %d", c.MinProposerBatch)
	}
	if c.ReductionRatio <= 0 || c.ReductionRatio >= 1 {
		return fmt.Errorf("ReductionRatio must be within (0,1), got %v", c.ReductionRatio)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("CallTimeout must be > 0, got %v", c.CallTimeout)
	}
	if c.RepresentativeExamples < 0 {
		return fmt.Errorf("RepresentativeExamples must be >= 0, got %d", c.RepresentativeExamples)
	}
	return nil
}

// SummaryLookup returns the summary text for a conversation ID.
type SummaryLookup func(id string) (string, bool)

// Options carries the optional collaborators of a Reducer.
type Options struct {
	// Logger defaults to zerolog.Nop().
	Logger *zerolog.Logger
	// Metrics may be nil.
	Metrics *Metrics
	// Summaries supplies representative examples to the resolver.
	Summaries SummaryLookup
	// Embedder fills in centroids for roots that have none, enabling
	// similarity batching. May be nil.
	Embedder llm.Embedder
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}

// parentNamespace scopes name-based parent IDs.
var parentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/scrypster/metacluster/parent"))

// parentID derives a stable ID for a parent created in round from childIDs.
// The same inputs always yield the same ID; different rounds never collide.
func parentID(round int, synthetic bool, name string, childIDs []string) string {
	sorted := append([]string(nil), childIDs...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(strconv.Itoa(round))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(synthetic))
	b.WriteByte('|')
	b.WriteString(name)
	b.WriteByte('|')
	b.WriteString(strings.Join(sorted, ","))
	return uuid.NewSHA1(parentNamespace, []byte(b.String())).String()
}
