package geoindex

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geofeat/internal/geo"
)

// Linear is a brute-force index that scans every reference point per query.
// It is the baseline the k-d tree is checked against and is adequate for
// small reference sets.
type Linear struct {
	points []geo.Coord
}

var _ Searcher = (*Linear)(nil)

// NewLinear copies points into a linear-scan index.
func NewLinear(points []geo.Coord) (*Linear, error) {
	if len(points) == 0 {
		return nil, eris.Wrap(ErrEmptyReferenceSet, "geoindex: build linear index")
	}
	return &Linear{points: append([]geo.Coord(nil), points...)}, nil
}

// Len returns the number of reference points.
func (l *Linear) Len() int { return len(l.points) }

// Nearest returns the closest reference point to q.
func (l *Linear) Nearest(q geo.Coord) Neighbor {
	if !q.Finite() {
		return NoNeighbor
	}
	best, bestD := 0, math.Inf(1)
	for i, p := range l.points {
		// Strict comparison keeps the lowest index among ties.
		if d := geo.SquaredDistance(q, p); d < bestD {
			best, bestD = i, d
		}
	}
	return Neighbor{Index: best, Distance: math.Sqrt(bestD)}
}

// KNearest returns up to k closest reference points ordered by distance, then
// index.
func (l *Linear) KNearest(q geo.Coord, k int) []Neighbor {
	if k <= 0 || !q.Finite() {
		return nil
	}
	all := make([]Neighbor, len(l.points))
	for i, p := range l.points {
		all[i] = Neighbor{Index: i, Distance: geo.SquaredDistance(q, p)}
	}
	sortNeighbors(all)
	if k > len(all) {
		k = len(all)
	}
	out := all[:k:k]
	for i := range out {
		out[i].Distance = math.Sqrt(out[i].Distance)
	}
	return out
}

// Within returns the indices of all reference points at distance <= r from q.
func (l *Linear) Within(q geo.Coord, r float64) []int {
	r2 := radiusSquared(r)
	idx := make([]int, 0)
	if !q.Finite() {
		return idx
	}
	for i, p := range l.points {
		if geo.SquaredDistance(q, p) <= r2 {
			idx = append(idx, i)
		}
	}
	return idx
}

// CountWithin returns the radius match count for every query.
func (l *Linear) CountWithin(qs []geo.Coord, r float64) []int {
	r2 := radiusSquared(r)
	counts := make([]int, len(qs))
	for i, q := range qs {
		if !q.Finite() {
			continue
		}
		for _, p := range l.points {
			if geo.SquaredDistance(q, p) <= r2 {
				counts[i]++
			}
		}
	}
	return counts
}
