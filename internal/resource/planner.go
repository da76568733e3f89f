package resource

import "slices"

// Edge is one batch/resource association.
type Edge struct {
	BatchID    int64
	ResourceID int64
}

// PlanOrphans returns the resources that lose their last batch when removed
// is subtracted from before. Only resources touched by removed are
// candidates; the result is sorted and free of duplicates.
func PlanOrphans(before, removed []Edge) []int64 {
	gone := make(map[Edge]struct{}, len(removed))
	candidates := make(map[int64]struct{})
	for _, e := range removed {
		gone[e] = struct{}{}
		candidates[e.ResourceID] = struct{}{}
	}

	remaining := make(map[int64]int)
	for _, e := range before {
		if _, ok := gone[e]; ok {
			continue
		}
		remaining[e.ResourceID]++
	}

	orphans := []int64{}
	for id := range candidates {
		if remaining[id] == 0 {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	return orphans
}

// EdgesOfBatch filters edges down to those of batchID.
func EdgesOfBatch(edges []Edge, batchID int64) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out
}
