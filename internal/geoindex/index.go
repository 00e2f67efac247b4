// Package geoindex builds query structures over a reference point set
// (subway stations, parks, schools) answering nearest-neighbour and radius
// queries on planar (latitude, longitude) distance.
//
// An index is immutable once built and may be shared read-only across
// goroutines and record partitions.
package geoindex

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geofeat/internal/geo"
)

// ErrEmptyReferenceSet is returned when an index is built from zero points.
var ErrEmptyReferenceSet = eris.New("geoindex: empty reference set")

// Kind selects the index implementation.
type Kind string

// Index kinds.
const (
	KindKDTree Kind = "kdtree"
	KindLinear Kind = "linear"
)

// Neighbor is a reference point returned by a nearest query: its position in
// the reference set and its distance to the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// NoNeighbor is the Nearest result for a query that cannot be placed.
var NoNeighbor = Neighbor{Index: -1, Distance: math.NaN()}

// Searcher answers queries against one reference point set.
//
// Ties between equidistant reference points are broken by lowest reference
// index, for every implementation.
//
// A query with a NaN or infinite component matches nothing: Nearest returns
// NoNeighbor, KNearest returns nil and the radius queries count zero.
type Searcher interface {
	// Len returns the number of reference points.
	Len() int

	// Nearest returns the closest reference point to q.
	Nearest(q geo.Coord) Neighbor

	// KNearest returns up to k closest reference points ordered by
	// distance, then index. k <= 0 returns nil.
	KNearest(q geo.Coord, k int) []Neighbor

	// Within returns the indices of all reference points at distance <= r
	// from q, in ascending index order. A negative r is treated as 0.
	Within(q geo.Coord, r float64) []int

	// CountWithin returns len(Within(q, r)) for every query, in order.
	CountWithin(qs []geo.Coord, r float64) []int
}

// New builds a Searcher of the given kind. An empty kind selects the k-d tree.
func New(kind Kind, points []geo.Coord) (Searcher, error) {
	switch kind {
	case KindKDTree, "":
		return Build(points)
	case KindLinear:
		return NewLinear(points)
	default:
		return nil, eris.Errorf("geoindex: unknown index kind %q", kind)
	}
}

// radiusSquared clamps negative radii to zero before squaring, so that a
// negative radius keeps only coincident points.
func radiusSquared(r float64) float64 {
	if r < 0 {
		return 0
	}
	return r * r
}

// sortNeighbors orders by distance, then reference index.
func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(a, b int) bool {
		if ns[a].Distance != ns[b].Distance {
			return ns[a].Distance < ns[b].Distance
		}
		return ns[a].Index < ns[b].Index
	})
}

// NearestAll runs Nearest for every query, in order.
func NearestAll(s Searcher, qs []geo.Coord) []Neighbor {
	out := make([]Neighbor, len(qs))
	for i, q := range qs {
		out[i] = s.Nearest(q)
	}
	return out
}

// WithinCounts is the batch radius query used by the feature generators.
func WithinCounts(s Searcher, qs []geo.Coord, r float64) []int {
	return s.CountWithin(qs, r)
}
