package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanOrphans(t *testing.T) {
	const b, c = 1, 2

	tests := []struct {
		name    string
		before  []Edge
		removed []Edge
		want    []int64
	}{
		{
			name:    "resource only in removed batch is orphaned",
			before:  []Edge{{b, 10}},
			removed: []Edge{{b, 10}},
			want:    []int64{10},
		},
		{
			name:    "resource shared with another batch survives",
			before:  []Edge{{b, 10}, {c, 10}},
			removed: []Edge{{b, 10}},
			want:    []int64{},
		},
		{
			name:    "mixed",
			before:  []Edge{{b, 10}, {b, 11}, {c, 11}, {b, 12}, {c, 13}},
			removed: []Edge{{b, 10}, {b, 11}, {b, 12}},
			want:    []int64{10, 12},
		},
		{
			name:    "untouched resources are never candidates",
			before:  []Edge{{c, 13}},
			removed: nil,
			want:    []int64{},
		},
		{
			name:    "removing every edge of a shared resource orphans it",
			before:  []Edge{{b, 10}, {c, 10}},
			removed: []Edge{{b, 10}, {c, 10}},
			want:    []int64{10},
		},
		{
			name:    "duplicate removals are harmless",
			before:  []Edge{{b, 10}},
			removed: []Edge{{b, 10}, {b, 10}},
			want:    []int64{10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlanOrphans(tt.before, tt.removed))
		})
	}
}

func TestEdgesOfBatch(t *testing.T) {
	edges := []Edge{{1, 10}, {2, 10}, {1, 11}}
	assert.Equal(t, []Edge{{1, 10}, {1, 11}}, EdgesOfBatch(edges, 1))
	assert.Empty(t, EdgesOfBatch(edges, 3))
}
