// Package kmeans partitions coordinates into k clusters with Lloyd's
// algorithm seeded by greedy k-means++, keeping the best of several restarts.
package kmeans

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/geofeat/internal/geo"
)

// ErrInvalidClusterCount is returned when k is not positive or exceeds the
// number of distinct input points.
var ErrInvalidClusterCount = eris.New("kmeans: invalid cluster count")

// Unassigned is the label Predict gives a point with a NaN or infinite
// component.
const Unassigned = -1

// Options controls a fit.
type Options struct {
	K         int
	Seed      uint64
	MaxIter   int
	NInit     int
	Tolerance float64
}

// DefaultOptions returns k=10, 300 iterations, 10 restarts and a relative
// tolerance of 1e-4.
func DefaultOptions() Options {
	return Options{K: 10, Seed: 42, MaxIter: 300, NInit: 10, Tolerance: 1e-4}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.NInit <= 0 {
		o.NInit = d.NInit
	}
	if o.Tolerance < 0 {
		o.Tolerance = 0
	}
	return o
}

// Model is a fitted cluster model. It is immutable.
type Model struct {
	centroids  []geo.Coord
	inertia    float64
	iterations int
}

// Centroids returns a copy of the centroid table indexed by cluster ID.
func (m *Model) Centroids() []geo.Coord {
	return append([]geo.Coord(nil), m.centroids...)
}

// K returns the number of clusters.
func (m *Model) K() int { return len(m.centroids) }

// Inertia is the sum of squared distances from each training point to its
// centroid.
func (m *Model) Inertia() float64 { return m.inertia }

// Iterations is the number of Lloyd iterations run by the winning restart.
func (m *Model) Iterations() int { return m.iterations }

// Predict returns the nearest centroid ID for every point. Ties go to the
// lowest ID.
func (m *Model) Predict(points []geo.Coord) []int {
	labels := make([]int, len(points))
	for i, p := range points {
		if !p.Finite() {
			labels[i] = Unassigned
			continue
		}
		labels[i], _ = nearest(m.centroids, p)
	}
	return labels
}

// Fit clusters points. The result depends only on points and opts. Points
// with a NaN or infinite component are ignored.
func Fit(ctx context.Context, points []geo.Coord, opts Options) (*Model, error) {
	opts = opts.withDefaults()
	points = finite(points)
	if distinct := countDistinct(points); opts.K <= 0 || opts.K > distinct {
		return nil, eris.Wrapf(ErrInvalidClusterCount, "kmeans: k=%d with %d distinct points", opts.K, distinct)
	}

	tol := opts.Tolerance * meanVariance(points)

	master := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	seeds := make([]uint64, opts.NInit)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	results := make([]*Model, opts.NInit)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, seed := range seeds {
		g.Go(func() error {
			m, err := run(gctx, points, opts.K, opts.MaxIter, tol, rand.New(rand.NewPCG(seed, uint64(i))))
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "kmeans: fit")
	}

	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].inertia < results[best].inertia {
			best = i
		}
	}

	zap.L().Debug("kmeans: fitted",
		zap.String("component", "kmeans"),
		zap.Int("k", opts.K),
		zap.Int("points", len(points)),
		zap.Int("restart", best),
		zap.Int("iterations", results[best].iterations),
		zap.Float64("inertia", results[best].inertia),
	)
	return results[best], nil
}

// run performs one seeded restart.
func run(ctx context.Context, points []geo.Coord, k, maxIter int, tol float64, rng *rand.Rand) (*Model, error) {
	centroids := seedPlusPlus(points, k, rng)
	labels := make([]int, len(points))
	dists := make([]float64, len(points))

	iter := 0
	for iter < maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iter++
		assign(points, centroids, labels, dists)
		next := update(points, labels, dists, k)

		var shift float64
		for c := range centroids {
			shift += geo.SquaredDistance(centroids[c], next[c])
		}
		centroids = next
		if shift <= tol {
			break
		}
	}

	assign(points, centroids, labels, dists)
	return &Model{centroids: centroids, inertia: floats.Sum(dists), iterations: iter}, nil
}

// seedPlusPlus is greedy k-means++: each new centre is the best of
// 2+floor(ln k) candidates sampled proportionally to squared distance.
func seedPlusPlus(points []geo.Coord, k int, rng *rand.Rand) []geo.Coord {
	trials := 2 + int(math.Log(float64(k)))
	centroids := make([]geo.Coord, 0, k)
	centroids = append(centroids, points[rng.IntN(len(points))])

	closest := make([]float64, len(points))
	for i, p := range points {
		closest[i] = geo.SquaredDistance(p, centroids[0])
	}
	cum := make([]float64, len(points))
	candidate := make([]float64, len(points))
	best := make([]float64, len(points))

	for len(centroids) < k {
		floats.CumSum(cum, closest)
		total := cum[len(cum)-1]

		bestIdx, bestPot := -1, math.Inf(1)
		for range trials {
			var idx int
			if total > 0 {
				x := rng.Float64() * total
				idx = sort.Search(len(cum), func(i int) bool { return cum[i] > x })
			} else {
				idx = rng.IntN(len(points))
			}
			for i, p := range points {
				candidate[i] = math.Min(closest[i], geo.SquaredDistance(p, points[idx]))
			}
			if pot := floats.Sum(candidate); pot < bestPot {
				bestIdx, bestPot = idx, pot
				copy(best, candidate)
			}
		}
		centroids = append(centroids, points[bestIdx])
		copy(closest, best)
	}
	return centroids
}

// assign writes each point's nearest centroid and squared distance.
func assign(points, centroids []geo.Coord, labels []int, dists []float64) {
	for i, p := range points {
		labels[i], dists[i] = nearest(centroids, p)
	}
}

// update recomputes centroids as member means. An empty cluster takes the
// point farthest from its current centroid that no other empty cluster took.
func update(points []geo.Coord, labels []int, dists []float64, k int) []geo.Coord {
	sumLat := make([]float64, k)
	sumLon := make([]float64, k)
	counts := make([]int, k)
	for i, p := range points {
		c := labels[i]
		sumLat[c] += p.Lat
		sumLon[c] += p.Lon
		counts[c]++
	}

	next := make([]geo.Coord, k)
	var far []int
	for c := range next {
		if counts[c] > 0 {
			next[c] = geo.Coord{Lat: sumLat[c] / float64(counts[c]), Lon: sumLon[c] / float64(counts[c])}
			continue
		}
		if far == nil {
			far = farthestFirst(dists)
		}
		next[c] = points[far[0]]
		far = far[1:]
	}
	return next
}

// farthestFirst returns point indices ordered by descending distance, ties
// by index.
func farthestFirst(dists []float64) []int {
	idx := make([]int, len(dists))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return dists[idx[a]] > dists[idx[b]] })
	return idx
}

func nearest(centroids []geo.Coord, p geo.Coord) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centroids {
		if d := geo.SquaredDistance(p, ctr); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

// finite returns points without the non-finite entries. The input is returned
// as is when every point is finite.
func finite(points []geo.Coord) []geo.Coord {
	for i, p := range points {
		if p.Finite() {
			continue
		}
		out := append([]geo.Coord(nil), points[:i]...)
		for _, q := range points[i+1:] {
			if q.Finite() {
				out = append(out, q)
			}
		}
		return out
	}
	return points
}

func countDistinct(points []geo.Coord) int {
	seen := make(map[geo.Coord]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// meanVariance is the mean of the per-axis population variances.
func meanVariance(points []geo.Coord) float64 {
	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	for i, p := range points {
		lats[i], lons[i] = p.Lat, p.Lon
	}
	return (stat.PopVariance(lats, nil) + stat.PopVariance(lons, nil)) / 2
}
