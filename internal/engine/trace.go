package engine

import (
	"context"
	"sync"
	"time"

	"github.com/scrypster/metacluster/pkg/types"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindRoundStarted is emitted at the beginning of every round attempt.
	KindRoundStarted TraceEventKind = "round_started"

	// KindGroupsProposed is emitted once the proposer union is known.
	KindGroupsProposed TraceEventKind = "groups_proposed"

	// KindClusterResolved is emitted for every root assigned to a proposed group.
	KindClusterResolved TraceEventKind = "cluster_resolved"

	// KindFallback is emitted for every root that exhausted its attempts.
	KindFallback TraceEventKind = "fallback"

	// KindParentCreated is emitted for every committed parent.
	KindParentCreated TraceEventKind = "parent_created"

	// KindRoundFinished is emitted when a round attempt ends, validated or not.
	KindRoundFinished TraceEventKind = "round_finished"

	// KindReductionFinished is emitted once per Reduce call.
	KindReductionFinished TraceEventKind = "reduction_finished"
)

// TraceEvent is a single structured event emitted during a reduction. The
// full event stream is an audit log of every decision the engine made.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`
	At   time.Time      `json:"at"`

	Round   int `json:"round,omitempty"`
	Attempt int `json:"attempt,omitempty"`

	// ClusterID is the resolved root or the created parent.
	ClusterID string `json:"cluster_id,omitempty"`

	// Group is the chosen or created group name.
	Group string `json:"group,omitempty"`

	// Names lists proposed group names.
	Names []string `json:"names,omitempty"`

	// ChildIDs lists a created parent's children.
	ChildIDs []string `json:"child_ids,omitempty"`

	// Count is roots at round start, parents at round end, or roots at the end.
	Count int `json:"count,omitempty"`

	Target   int     `json:"target,omitempty"`
	Attempts int     `json:"attempts,omitempty"`
	Score    float64 `json:"score,omitempty"`

	State  types.RoundState `json:"state,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventRoundStarted creates a round_started trace event.
func EventRoundStarted(round, attempt, roots, target int) TraceEvent {
	e := newTraceEvent(KindRoundStarted)
	e.Round = round
	e.Attempt = attempt
	e.Count = roots
	e.Target = target
	return e
}

// EventGroupsProposed creates a groups_proposed trace event.
func EventGroupsProposed(round int, groups []types.ProposedGroup) TraceEvent {
	e := newTraceEvent(KindGroupsProposed)
	e.Round = round
	e.Names = make([]string, len(groups))
	for i, g := range groups {
		e.Names[i] = g.Name
	}
	e.Count = len(groups)
	return e
}

// EventResolution creates a cluster_resolved or fallback trace event.
func EventResolution(round int, r Resolution) TraceEvent {
	kind := KindClusterResolved
	if r.Fallback {
		kind = KindFallback
	}
	e := newTraceEvent(kind)
	e.Round = round
	e.ClusterID = r.ClusterID
	e.Group = r.Group
	e.Attempts = r.Attempts
	e.Score = r.Score
	e.Reason = string(r.Reason)
	return e
}

// EventParentCreated creates a parent_created trace event.
func EventParentCreated(round int, parent *types.Cluster) TraceEvent {
	e := newTraceEvent(KindParentCreated)
	e.Round = round
	e.ClusterID = parent.ID
	e.Group = parent.Name
	e.ChildIDs = parent.ChildIDs
	return e
}

// EventRoundFinished creates a round_finished trace event.
func EventRoundFinished(round, attempt int, state types.RoundState, parents int, reason string) TraceEvent {
	e := newTraceEvent(KindRoundFinished)
	e.Round = round
	e.Attempt = attempt
	e.State = state
	e.Count = parents
	e.Reason = reason
	return e
}

// EventReductionFinished creates a reduction_finished trace event.
func EventReductionFinished(tree *types.Tree) TraceEvent {
	e := newTraceEvent(KindReductionFinished)
	e.Round = tree.Rounds
	e.Count = len(tree.RootIDs)
	e.Reason = tree.DegradedReason
	return e
}

// contextKey is an unexported type for context keys owned by this package.
type contextKey string

const traceKey contextKey = "reduction_trace"

// TraceCollector accumulates TraceEvents for a reduction. It is safe for
// concurrent use by resolver tasks.
type TraceCollector struct {
	mu        sync.Mutex
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.mu.Lock()
	tc.events = append(tc.events, e)
	tc.mu.Unlock()
}

// Events returns a copy of the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]TraceEvent(nil), tc.events...)
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits an event only when a collector is present in the context.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}
