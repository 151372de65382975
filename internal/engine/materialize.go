package engine

import (
	"sort"

	"github.com/scrypster/metacluster/pkg/types"
)

const otherDescription = "Clusters that could not be placed in any proposed group."

type groupKey struct {
	name      string
	synthetic bool
}

// materialize builds one parent per group that received at least one root.
// Roots and resolutions are index-aligned. Parents are returned in candidate
// order with the catch-all group last. Parent centroids are derived from the
// children's vectors as returned by vec.
func materialize(round int, roots []*types.Cluster, res []Resolution, groups []types.ProposedGroup, vec centroidFunc) []*types.Cluster {
	descriptions := make(map[string]string, len(groups))
	for _, g := range groups {
		descriptions[g.Name] = g.Description
	}

	buckets := make(map[groupKey][]*types.Cluster)
	for i, r := range res {
		k := groupKey{name: r.Group}
		if r.Fallback && !r.Merged {
			k = groupKey{name: types.OtherGroupName, synthetic: true}
		}
		buckets[k] = append(buckets[k], roots[i])
	}

	order := make([]groupKey, 0, len(groups)+1)
	for _, g := range groups {
		order = append(order, groupKey{name: g.Name})
	}
	order = append(order, groupKey{name: types.OtherGroupName, synthetic: true})

	var parents []*types.Cluster
	for _, k := range order {
		children := buckets[k]
		if len(children) == 0 {
			continue
		}
		desc := descriptions[k.name]
		if k.synthetic {
			desc = otherDescription
		}
		parents = append(parents, newParent(round, k, desc, children, vec))
	}
	return parents
}

func newParent(round int, k groupKey, description string, children []*types.Cluster, vec centroidFunc) *types.Cluster {
	childIDs := make([]string, len(children))
	var members []string
	level := 0
	for i, c := range children {
		childIDs[i] = c.ID
		members = append(members, c.MemberIDs...)
		level = max(level, c.Level+1)
	}
	sort.Strings(childIDs)

	return &types.Cluster{
		ID:          parentID(round, k.synthetic, k.name, childIDs),
		Name:        k.name,
		Description: description,
		MemberIDs:   types.SortedUnique(members),
		ChildIDs:    childIDs,
		Level:       level,
		Centroid:    weightedCentroid(children, vec),
		Synthetic:   k.synthetic,
	}
}

// weightedCentroid averages child centroids weighted by member count. It
// returns nil unless every child has a centroid of the same dimension.
func weightedCentroid(children []*types.Cluster, vec centroidFunc) []float32 {
	if !haveCentroids(children, vec) {
		return nil
	}
	dim := len(vec(children[0]))
	sum := make([]float64, dim)
	var total float64
	for _, c := range children {
		w := float64(max(1, c.Count()))
		total += w
		for i, v := range vec(c) {
			sum[i] += w * float64(v)
		}
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / total)
	}
	return out
}

// largestGroup returns the resolved group with the most roots; ties go to the
// earlier candidate. It returns "" when nothing resolved.
func largestGroup(res []Resolution, groups []types.ProposedGroup) string {
	counts := make(map[string]int)
	for _, r := range res {
		if !r.Fallback {
			counts[r.Group]++
		}
	}
	best, bestCount := "", 0
	for _, g := range groups {
		if n := counts[g.Name]; n > bestCount {
			best, bestCount = g.Name, n
		}
	}
	return best
}
