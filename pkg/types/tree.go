package types

import "sort"

// Degraded termination reasons reported on a Tree.
const (
	DegradedMaxRounds = "max_rounds_exhausted"
	DegradedStalled   = "stalled"
)

// Tree is the result of a reduction: every cluster ever created, across all
// levels, plus the final root set.
type Tree struct {
	Clusters []*Cluster `json:"clusters"`
	RootIDs  []string   `json:"root_ids"`
	Rounds   int        `json:"rounds"`

	// Degraded is set when reduction stopped above the requested root count.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	index map[string]*Cluster
}

// NewTree builds a Tree from a set of clusters. Clusters are ordered by level
// and then ID; roots are derived from ParentID.
func NewTree(clusters []*Cluster) *Tree {
	sorted := append([]*Cluster(nil), clusters...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Level != sorted[j].Level {
			return sorted[i].Level < sorted[j].Level
		}
		return sorted[i].ID < sorted[j].ID
	})

	t := &Tree{Clusters: sorted}
	for _, c := range sorted {
		if c.ParentID == nil {
			t.RootIDs = append(t.RootIDs, c.ID)
		}
	}
	return t
}

func (t *Tree) buildIndex() {
	if t.index != nil && len(t.index) == len(t.Clusters) {
		return
	}
	t.index = make(map[string]*Cluster, len(t.Clusters))
	for _, c := range t.Clusters {
		t.index[c.ID] = c
	}
}

// Get returns the cluster with the given ID.
func (t *Tree) Get(id string) (*Cluster, bool) {
	t.buildIndex()
	c, ok := t.index[id]
	return c, ok
}

// Roots returns the root clusters in RootIDs order.
func (t *Tree) Roots() []*Cluster {
	t.buildIndex()
	out := make([]*Cluster, 0, len(t.RootIDs))
	for _, id := range t.RootIDs {
		if c, ok := t.index[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Children returns the direct children of the given cluster.
func (t *Tree) Children(id string) []*Cluster {
	t.buildIndex()
	parent, ok := t.index[id]
	if !ok {
		return nil
	}
	out := make([]*Cluster, 0, len(parent.ChildIDs))
	for _, cid := range parent.ChildIDs {
		if c, ok := t.index[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Leaves returns all level 0 clusters.
func (t *Tree) Leaves() []*Cluster {
	var out []*Cluster
	for _, c := range t.Clusters {
		if c.IsLeaf() {
			out = append(out, c)
		}
	}
	return out
}

// Depth returns the highest level present in the tree.
func (t *Tree) Depth() int {
	depth := 0
	for _, c := range t.Clusters {
		if c.Level > depth {
			depth = c.Level
		}
	}
	return depth
}
