package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scrypster/metacluster/pkg/types"
)

// ---------------------------------------------------------------------------
// TraceEvent constructors
// ---------------------------------------------------------------------------

func TestEventRoundStarted(t *testing.T) {
	e := EventRoundStarted(2, 1, 40, 20)

	if e.Kind != KindRoundStarted {
		t.Errorf("Kind: got %q, want %q", e.Kind, KindRoundStarted)
	}
	if e.Round != 2 || e.Attempt != 1 {
		t.Errorf("Round/Attempt: got %d/%d, want 2/1", e.Round, e.Attempt)
	}
	if e.Count != 40 {
		t.Errorf("Count: got %d, want %d", e.Count, 40)
	}
	if e.Target != 20 {
		t.Errorf("Target: got %d, want %d", e.Target, 20)
	}
	if e.At.IsZero() {
		t.Error("At should not be zero")
	}
}

func TestEventGroupsProposed(t *testing.T) {
	e := EventGroupsProposed(1, []types.ProposedGroup{{Name: "Billing"}, {Name: "Travel"}})
	if e.Kind != KindGroupsProposed {
		t.Errorf("Kind: got %q, want %q", e.Kind, KindGroupsProposed)
	}
	if e.Count != 2 || len(e.Names) != 2 || e.Names[1] != "Travel" {
		t.Errorf("Names: got %v (count %d)", e.Names, e.Count)
	}
}

func TestEventResolution(t *testing.T) {
	ok := EventResolution(1, Resolution{ClusterID: "c1", Group: "Billing", Attempts: 1, Score: 1})
	if ok.Kind != KindClusterResolved {
		t.Errorf("Kind: got %q, want %q", ok.Kind, KindClusterResolved)
	}
	if ok.Group != "Billing" || ok.ClusterID != "c1" {
		t.Errorf("got group %q cluster %q", ok.Group, ok.ClusterID)
	}
	if ok.Reason != "" {
		t.Errorf("Reason: got %q, want empty", ok.Reason)
	}

	fb := EventResolution(1, Resolution{ClusterID: "c2", Group: types.OtherGroupName, Fallback: true, Reason: ReasonTimeout, Attempts: 3})
	if fb.Kind != KindFallback {
		t.Errorf("Kind: got %q, want %q", fb.Kind, KindFallback)
	}
	if fb.Reason != string(ReasonTimeout) {
		t.Errorf("Reason: got %q, want %q", fb.Reason, ReasonTimeout)
	}
	if fb.Attempts != 3 {
		t.Errorf("Attempts: got %d, want 3", fb.Attempts)
	}
}

func TestEventParentCreated(t *testing.T) {
	p := &types.Cluster{ID: "p1", Name: "Billing", ChildIDs: []string{"a", "b"}, Level: 1}
	e := EventParentCreated(3, p)
	if e.Kind != KindParentCreated {
		t.Errorf("Kind: got %q, want %q", e.Kind, KindParentCreated)
	}
	if e.ClusterID != "p1" || e.Group != "Billing" || len(e.ChildIDs) != 2 {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestEventRoundFinished(t *testing.T) {
	e := EventRoundFinished(1, 2, types.RoundFailed, 0, "tree invariant violated")
	if e.Kind != KindRoundFinished {
		t.Errorf("Kind: got %q, want %q", e.Kind, KindRoundFinished)
	}
	if e.State != types.RoundFailed {
		t.Errorf("State: got %q, want %q", e.State, types.RoundFailed)
	}
	if e.Reason == "" {
		t.Error("Reason must not be empty")
	}
}

func TestEventReductionFinished(t *testing.T) {
	tree := &types.Tree{RootIDs: []string{"a", "b"}, Rounds: 4, Degraded: true, DegradedReason: types.DegradedStalled}
	e := EventReductionFinished(tree)
	if e.Round != 4 || e.Count != 2 || e.Reason != types.DegradedStalled {
		t.Errorf("unexpected event %+v", e)
	}
}

// ---------------------------------------------------------------------------
// TraceCollector
// ---------------------------------------------------------------------------

func TestTraceCollector_Emit(t *testing.T) {
	tc := NewTraceCollector()
	tc.Emit(EventRoundStarted(1, 1, 10, 5))
	tc.Emit(EventRoundFinished(1, 1, types.RoundValidated, 5, ""))

	events := tc.Events()
	if len(events) != 2 {
		t.Fatalf("Events: got %d, want 2", len(events))
	}
	if events[0].Kind != KindRoundStarted || events[1].Kind != KindRoundFinished {
		t.Errorf("order: got %q, %q", events[0].Kind, events[1].Kind)
	}

	// The returned slice is a copy.
	events[0].Round = 99
	if tc.Events()[0].Round != 1 {
		t.Error("Events must return a copy")
	}
}

func TestTraceCollector_ConcurrentEmit(t *testing.T) {
	tc := NewTraceCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc.Emit(EventResolution(1, Resolution{ClusterID: "c"}))
		}()
	}
	wg.Wait()
	if n := len(tc.Events()); n != 50 {
		t.Errorf("Events: got %d, want 50", n)
	}
}

func TestTraceCollector_ElapsedMS(t *testing.T) {
	tc := NewTraceCollector()
	time.Sleep(2 * time.Millisecond)
	if tc.ElapsedMS() < 1 {
		t.Errorf("ElapsedMS: got %d, want >= 1", tc.ElapsedMS())
	}
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func TestTraceCollectorFromContext(t *testing.T) {
	if _, ok := TraceCollectorFromContext(context.Background()); ok {
		t.Error("expected no collector in a bare context")
	}

	tc := NewTraceCollector()
	ctx := WithTraceCollector(context.Background(), tc)
	got, ok := TraceCollectorFromContext(ctx)
	if !ok || got != tc {
		t.Fatal("collector not found in context")
	}

	emitToContext(ctx, EventRoundStarted(1, 1, 2, 1))
	if len(tc.Events()) != 1 {
		t.Errorf("emitToContext did not reach the collector")
	}

	// No collector: must not panic.
	emitToContext(context.Background(), EventRoundStarted(1, 1, 2, 1))
}
