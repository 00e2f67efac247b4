package geoindex

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/sells-group/geofeat/internal/geo"
)

// KDTree is a k-d tree over a reference point set.
type KDTree struct {
	tree *kdtree.Tree
	n    int
}

var _ Searcher = (*KDTree)(nil)

// Build constructs a k-d tree over points. The input slice is not retained.
func Build(points []geo.Coord) (*KDTree, error) {
	if len(points) == 0 {
		return nil, eris.Wrap(ErrEmptyReferenceSet, "geoindex: build kd-tree")
	}
	s := make(sites, len(points))
	for i, c := range points {
		s[i] = site{idx: i, c: c}
	}
	return &KDTree{tree: kdtree.New(s, false), n: len(points)}, nil
}

// Len returns the number of reference points.
func (t *KDTree) Len() int { return t.n }

// Nearest returns the closest reference point to q.
func (t *KDTree) Nearest(q geo.Coord) Neighbor {
	ns := t.KNearest(q, 1)
	if len(ns) == 0 {
		return NoNeighbor
	}
	return ns[0]
}

// KNearest returns up to k closest reference points ordered by distance, then
// index.
func (t *KDTree) KNearest(q geo.Coord, k int) []Neighbor {
	if k <= 0 || !q.Finite() {
		return nil
	}
	if k > t.n {
		k = t.n
	}
	qs := site{idx: -1, c: q}

	// The k-th squared distance bounds the answer; a second pass collects
	// every point up to that bound so ties at the boundary resolve by index.
	nk := kdtree.NewNKeeper(k)
	t.tree.NearestSet(nk, qs)
	bound := 0.0
	for _, c := range nk.Heap {
		if c.Comparable != nil && c.Dist > bound {
			bound = c.Dist
		}
	}

	found := t.within(qs, bound)
	out := make([]Neighbor, 0, len(found))
	for _, c := range found {
		out = append(out, Neighbor{Index: c.Comparable.(site).idx, Distance: c.Dist})
	}
	sortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Distance = math.Sqrt(out[i].Distance)
	}
	return out
}

// Within returns the indices of all reference points at distance <= r from q.
func (t *KDTree) Within(q geo.Coord, r float64) []int {
	found := t.within(site{idx: -1, c: q}, radiusSquared(r))
	idx := make([]int, 0, len(found))
	for _, c := range found {
		idx = append(idx, c.Comparable.(site).idx)
	}
	sort.Ints(idx)
	return idx
}

// CountWithin returns the radius match count for every query.
func (t *KDTree) CountWithin(qs []geo.Coord, r float64) []int {
	r2 := radiusSquared(r)
	counts := make([]int, len(qs))
	for i, q := range qs {
		counts[i] = len(t.within(site{idx: -1, c: q}, r2))
	}
	return counts
}

// within returns the points at squared distance <= r2 from q. The keeper's
// bound is nudged up and re-checked exactly: a point tied with the keeper's
// sentinel may be dropped in its place.
func (t *KDTree) within(q site, r2 float64) []kdtree.ComparableDist {
	if !q.c.Finite() {
		return nil
	}
	dk := kdtree.NewDistKeeper(math.Nextafter(r2, math.Inf(1)))
	t.tree.NearestSet(dk, q)
	out := make([]kdtree.ComparableDist, 0, len(dk.Heap))
	for _, c := range dk.Heap {
		if c.Comparable != nil && c.Dist <= r2 {
			out = append(out, c)
		}
	}
	return out
}

// site is a reference point carrying its position in the reference set.
type site struct {
	idx int
	c   geo.Coord
}

// Compare satisfies kdtree.Comparable. The dimensions are:
//
//	0 = lat
//	1 = lon
func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(site)
	switch d {
	case 0:
		return s.c.Lat - q.c.Lat
	case 1:
		return s.c.Lon - q.c.Lon
	default:
		panic("geoindex: illegal dimension")
	}
}

// Dims returns the number of dimensions.
func (s site) Dims() int { return 2 }

// Distance returns the squared planar distance between the receiver and c.
func (s site) Distance(c kdtree.Comparable) float64 {
	return geo.SquaredDistance(s.c, c.(site).c)
}

type sites []site

func (s sites) Index(i int) kdtree.Comparable         { return s[i] }
func (s sites) Len() int                              { return len(s) }
func (s sites) Pivot(d kdtree.Dim) int                { return plane{sites: s, Dim: d}.Pivot() }
func (s sites) Slice(start, end int) kdtree.Interface { return s[start:end] }

type plane struct {
	kdtree.Dim
	sites
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.sites[i].c.Lat < p.sites[j].c.Lat
	case 1:
		return p.sites[i].c.Lon < p.sites[j].c.Lon
	default:
		panic("geoindex: illegal dimension")
	}
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.sites = p.sites[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.sites[i], p.sites[j] = p.sites[j], p.sites[i]
}
