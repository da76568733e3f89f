package membership

import "context"

// Source exposes the two edge sets the gate intersects.
type Source interface {
	BatchesOfStudent(ctx context.Context, studentID int64) ([]int64, error)
	BatchesOfResource(ctx context.Context, resourceID int64) ([]int64, error)
}

// Gate decides resource access from batch membership. Every call reads the
// current edges; decisions are never cached.
type Gate struct {
	source Source
}

func NewGate(source Source) *Gate {
	return &Gate{source: source}
}

func (g *Gate) CanAccess(ctx context.Context, studentID, resourceID int64) (bool, error) {
	resourceBatches, err := g.source.BatchesOfResource(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if len(resourceBatches) == 0 {
		return false, nil
	}
	studentBatches, err := g.source.BatchesOfStudent(ctx, studentID)
	if err != nil {
		return false, err
	}
	return Intersects(studentBatches, resourceBatches), nil
}

// Intersects reports whether a and b share an element. Empty sets never intersect.
func Intersects(a, b []int64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
