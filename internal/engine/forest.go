package engine

import (
	"sort"

	"github.com/scrypster/metacluster/pkg/types"
)

// forest is the set of every cluster created during one reduction.
// It is mutated only by commit and setVector, from the reducer goroutine.
type forest struct {
	clusters map[string]*types.Cluster
	// vectors holds embeddings computed during the reduction for clusters
	// that arrived without a centroid. Clusters themselves are not changed.
	vectors map[string][]float32
}

func newForest(base []*types.Cluster) *forest {
	f := &forest{
		clusters: make(map[string]*types.Cluster, len(base)*2),
		vectors:  make(map[string][]float32),
	}
	for _, c := range base {
		f.clusters[c.ID] = c
	}
	return f
}

// centroid returns the cluster's own centroid, or the embedding computed for
// it during this reduction.
func (f *forest) centroid(c *types.Cluster) []float32 {
	if len(c.Centroid) > 0 {
		return c.Centroid
	}
	return f.vectors[c.ID]
}

func (f *forest) setVector(id string, v []float32) {
	f.vectors[id] = v
}

func (f *forest) get(id string) (*types.Cluster, bool) {
	c, ok := f.clusters[id]
	return c, ok
}

// childNames returns the names of a cluster's children in ChildIDs order.
func (f *forest) childNames(id string) []string {
	c, ok := f.clusters[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(c.ChildIDs))
	for _, cid := range c.ChildIDs {
		if child, ok := f.clusters[cid]; ok {
			names = append(names, child.Name)
		}
	}
	return names
}

// children returns the child clusters of id.
func (f *forest) children(id string) []*types.Cluster {
	c, ok := f.clusters[id]
	if !ok {
		return nil
	}
	out := make([]*types.Cluster, 0, len(c.ChildIDs))
	for _, cid := range c.ChildIDs {
		if child, ok := f.clusters[cid]; ok {
			out = append(out, child)
		}
	}
	return out
}

// roots returns the clusters without a parent, ordered by ID.
func (f *forest) roots() []*types.Cluster {
	var out []*types.Cluster
	for _, c := range f.clusters {
		if c.IsRoot() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *forest) all() []*types.Cluster {
	out := make([]*types.Cluster, 0, len(f.clusters))
	for _, c := range f.clusters {
		out = append(out, c)
	}
	return out
}

// commit adds validated parents and links their children to them.
func (f *forest) commit(parents []*types.Cluster) {
	for _, p := range parents {
		f.clusters[p.ID] = p
		for _, cid := range p.ChildIDs {
			id := p.ID
			f.clusters[cid].ParentID = &id
		}
	}
}
