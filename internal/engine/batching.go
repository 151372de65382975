package engine

import (
	"math"
	"sort"

	"github.com/scrypster/metacluster/pkg/types"
)

// planBatches splits roots into proposer batches of at most size clusters,
// with sizes as even as possible. When every root has a centroid of the same
// dimension, batches are filled greedily with the nearest neighbours (cosine)
// of a seed taken in ID order; otherwise roots are chunked in ID order.
// vec supplies each root's centroid.
func planBatches(roots []*types.Cluster, size int, vec centroidFunc) [][]*types.Cluster {
	sorted := sortedByID(roots)
	if len(sorted) == 0 {
		return nil
	}
	if size < 1 || len(sorted) <= size {
		return [][]*types.Cluster{sorted}
	}

	n := (len(sorted) + size - 1) / size
	per := (len(sorted) + n - 1) / n

	if !haveCentroids(sorted, vec) {
		batches := make([][]*types.Cluster, 0, n)
		for start := 0; start < len(sorted); start += per {
			end := min(start+per, len(sorted))
			batches = append(batches, sorted[start:end])
		}
		return batches
	}
	return similarityBatches(sorted, per, vec)
}

func similarityBatches(sorted []*types.Cluster, per int, vec centroidFunc) [][]*types.Cluster {
	used := make([]bool, len(sorted))
	remaining := len(sorted)
	var batches [][]*types.Cluster

	for remaining > 0 {
		seed := -1
		for i := range sorted {
			if !used[i] {
				seed = i
				break
			}
		}
		used[seed] = true
		remaining--
		batch := []*types.Cluster{sorted[seed]}

		type scored struct {
			idx int
			sim float64
		}
		var cands []scored
		for i := range sorted {
			if !used[i] {
				cands = append(cands, scored{i, cosine(vec(sorted[seed]), vec(sorted[i]))})
			}
		}
		// Stable on ID order for equal similarity.
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].sim > cands[b].sim })

		for _, c := range cands {
			if len(batch) == per {
				break
			}
			used[c.idx] = true
			remaining--
			batch = append(batch, sorted[c.idx])
		}
		batches = append(batches, sortedByID(batch))
	}
	return batches
}

// batchTarget is the share of roundTarget assigned to a batch, at least 1.
func batchTarget(batchLen, roundTarget, totalRoots int) int {
	if totalRoots <= 0 {
		return 1
	}
	t := (batchLen*roundTarget + totalRoots - 1) / totalRoots
	return max(1, t)
}

// centroidFunc returns the vector used for a cluster, nil when it has none.
type centroidFunc func(c *types.Cluster) []float32

func haveCentroids(cs []*types.Cluster, vec centroidFunc) bool {
	if len(cs) == 0 || len(vec(cs[0])) == 0 {
		return false
	}
	dim := len(vec(cs[0]))
	for _, c := range cs {
		if len(vec(c)) != dim {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortedByID(cs []*types.Cluster) []*types.Cluster {
	out := append([]*types.Cluster(nil), cs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
