package features

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/geoindex"
	"github.com/sells-group/geofeat/internal/table"
)

var stations = []geo.Coord{
	{Lat: 37.50, Lon: 127.00},
	{Lat: 37.51, Lon: 127.01},
	{Lat: 37.60, Lon: 127.10},
}

func records(coords ...geo.Coord) []table.Record {
	out := make([]table.Record, len(coords))
	for i, c := range coords {
		out[i] = table.Record{Latitude: c.Lat, Longitude: c.Lon, AreaM2: 60}
	}
	return out
}

func randomTable(p table.Partition, seed uint64, n int) *table.Table {
	r := rand.New(rand.NewPCG(seed, seed*31+7))
	recs := make([]table.Record, n)
	for i := range recs {
		recs[i] = table.Record{
			Latitude:  37.4 + r.Float64()*0.3,
			Longitude: 126.8 + r.Float64()*0.4,
			AreaM2:    20 + r.Float64()*200,
		}
	}
	return table.New(p, recs)
}

func mustBuild(t *testing.T, points []geo.Coord) geoindex.Searcher {
	t.Helper()
	s, err := geoindex.Build(points)
	require.NoError(t, err)
	return s
}

func TestNearest(t *testing.T) {
	tbl := table.New(table.Train, records(geo.Coord{Lat: 37.50, Lon: 127.00}, geo.Coord{Lat: 37.59, Lon: 127.10}))
	s := mustBuild(t, stations)

	err := Nearest(tbl, s, NearestSpec{
		DistanceColumn:  ColNearestParkDistance,
		AttributeColumn: ColNearestParkArea,
		Attribute:       []float64{100, 200, 300},
	})
	require.NoError(t, err)

	dist, err := tbl.Float(ColNearestParkDistance)
	require.NoError(t, err)
	assert.Equal(t, 0.0, dist[0])
	assert.InDelta(t, 0.01, dist[1], 1e-12)

	area, err := tbl.Float(ColNearestParkArea)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 300}, area)
	assert.Equal(t, []string{ColNearestParkDistance, ColNearestParkArea}, tbl.Columns())
}

func TestNearest_NonFiniteRow(t *testing.T) {
	for _, kind := range []geoindex.Kind{geoindex.KindKDTree, geoindex.KindLinear} {
		t.Run(string(kind), func(t *testing.T) {
			tbl := table.New(table.Valid, records(
				geo.Coord{Lat: math.NaN(), Lon: 127.00},
				geo.Coord{Lat: 37.60, Lon: 127.10},
			))
			s, err := geoindex.New(kind, stations)
			require.NoError(t, err)

			require.NoError(t, Nearest(tbl, s, NearestSpec{
				DistanceColumn:  ColNearestParkDistance,
				AttributeColumn: ColNearestParkArea,
				Attribute:       []float64{100, 200, 300},
			}))

			dist, err := tbl.Float(ColNearestParkDistance)
			require.NoError(t, err)
			assert.True(t, math.IsNaN(dist[0]))
			assert.Equal(t, 0.0, dist[1])

			area, err := tbl.Float(ColNearestParkArea)
			require.NoError(t, err)
			assert.True(t, math.IsNaN(area[0]))
			assert.Equal(t, 300.0, area[1])
		})
	}
}

func TestNearest_NoAttribute(t *testing.T) {
	tbl := randomTable(table.Valid, 3, 200)
	require.NoError(t, Nearest(tbl, mustBuild(t, stations), NearestSpec{DistanceColumn: ColNearestSubwayDistance}))

	dist, err := tbl.Float(ColNearestSubwayDistance)
	require.NoError(t, err)
	assert.Len(t, dist, 200)
	for _, d := range dist {
		assert.GreaterOrEqual(t, d, 0.0)
	}
	assert.Equal(t, []string{ColNearestSubwayDistance}, tbl.Columns())
}

func TestNearest_AttributeMisaligned(t *testing.T) {
	tbl := table.New(table.Train, records(stations[0]))
	err := Nearest(tbl, mustBuild(t, stations), NearestSpec{
		DistanceColumn:  "d",
		AttributeColumn: "a",
		Attribute:       []float64{1},
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, table.ErrRowCountMismatch))
	assert.Empty(t, tbl.Columns())
}

func TestRadiusCount_StationScenario(t *testing.T) {
	tbl := table.New(table.Test, records(geo.Coord{Lat: 37.505, Lon: 127.005}, geo.Coord{Lat: 38, Lon: 128}))
	err := RadiusCount(context.Background(), tbl, mustBuild(t, stations), RadiusSpec{Column: ColSubwaysWithinRadius, Radius: 0.02})
	require.NoError(t, err)

	counts, err := tbl.Int(ColSubwaysWithinRadius)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, counts)
}

func TestRadiusCount_BatchingDoesNotChangeResults(t *testing.T) {
	r := rand.New(rand.NewPCG(11, 13))
	refs := make([]geo.Coord, 400)
	for i := range refs {
		refs[i] = geo.Coord{Lat: 37.4 + r.Float64()*0.3, Lon: 126.8 + r.Float64()*0.4}
	}
	s := mustBuild(t, refs)
	base := randomTable(table.Train, 5, 25000)

	whole := base.Clone()
	require.NoError(t, RadiusCount(context.Background(), whole, s, RadiusSpec{Column: "n", Radius: 0.01, BatchSize: 25000}))
	want, err := whole.Int("n")
	require.NoError(t, err)

	tests := []struct {
		batch, workers int
	}{
		{10000, 1},
		{10000, 4},
		{7, 3},
		{0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("batch=%d/workers=%d", tt.batch, tt.workers), func(t *testing.T) {
			tbl := base.Clone()
			require.NoError(t, RadiusCount(context.Background(), tbl, s, RadiusSpec{
				Column: "n", Radius: 0.01, BatchSize: tt.batch, Workers: tt.workers,
			}))
			got, err := tbl.Int("n")
			require.NoError(t, err)
			assert.Len(t, got, 25000)
			assert.Equal(t, want, got)
		})
	}
}

func TestRadiusCount_Monotonic(t *testing.T) {
	s := mustBuild(t, stations)
	base := randomTable(table.Train, 8, 300)

	prev := make([]int, 300)
	for _, rad := range []float64{0, 0.01, 0.05, 0.1, 0.5} {
		tbl := base.Clone()
		require.NoError(t, RadiusCount(context.Background(), tbl, s, RadiusSpec{Column: "n", Radius: rad}))
		got, err := tbl.Int("n")
		require.NoError(t, err)
		for i := range got {
			assert.LessOrEqual(t, prev[i], got[i])
		}
		prev = got
	}
}

// truncating answers CountWithin with at most limit counts.
type truncating struct {
	geoindex.Searcher
	limit int
	extra int
}

func (s truncating) CountWithin(qs []geo.Coord, r float64) []int {
	out := s.Searcher.CountWithin(qs, r)
	if s.extra > 0 {
		return append(out, make([]int, s.extra)...)
	}
	if len(out) > s.limit {
		out = out[:s.limit]
	}
	return out
}

func TestRadiusCount_PadsShortBatches(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	near := geo.Coord{Lat: 37.505, Lon: 127.005}
	tbl := table.New(table.Train, records(near, near, near, near, near))
	s := truncating{Searcher: mustBuild(t, stations), limit: 2}

	require.NoError(t, RadiusCount(context.Background(), tbl, s, RadiusSpec{Column: "n", Radius: 0.02, BatchSize: 3}))
	got, err := tbl.Int("n")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 0, 2, 2}, got)
	assert.Equal(t, 1, logs.FilterMessage("features: padding short radius batch with zeros").Len())
}

func TestRadiusCount_LongBatchIsFatal(t *testing.T) {
	tbl := table.New(table.Train, records(stations...))
	s := truncating{Searcher: mustBuild(t, stations), extra: 1}

	err := RadiusCount(context.Background(), tbl, s, RadiusSpec{Column: "n", Radius: 0.02})
	require.Error(t, err)
	assert.True(t, eris.Is(err, table.ErrRowCountMismatch))
	assert.False(t, tbl.HasColumn("n"))
}

func TestRadiusCount_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tbl := randomTable(table.Train, 1, 50)
	err := RadiusCount(ctx, tbl, mustBuild(t, stations), RadiusSpec{Column: "n", Radius: 0.02})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

type fixedModel []geo.Coord

func (m fixedModel) Predict(points []geo.Coord) []int {
	out := make([]int, len(points))
	for i, p := range points {
		best := 0
		for c := range m {
			if geo.SquaredDistance(p, m[c]) < geo.SquaredDistance(p, m[best]) {
				best = c
			}
		}
		out[i] = best
	}
	return out
}

func TestClusterFeatures(t *testing.T) {
	centroids := fixedModel{{Lat: 37.5, Lon: 127.0}, {Lat: 37.6, Lon: 127.1}}
	tbl := table.New(table.Valid, records(
		geo.Coord{Lat: 37.5, Lon: 127.0},
		geo.Coord{Lat: 37.51, Lon: 127.0},
		geo.Coord{Lat: 37.6, Lon: 127.1},
	))

	require.NoError(t, AssignClusters(tbl, centroids))
	require.NoError(t, ClusterDensity(tbl))
	require.NoError(t, CentroidDistance(tbl, centroids))

	clusters, err := tbl.Int(ColCluster)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1}, clusters)

	density, err := tbl.Int(ColDensity)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, density)

	dist, err := tbl.Float(ColDistanceToCentroid)
	require.NoError(t, err)
	assert.Equal(t, 0.0, dist[0])
	assert.InDelta(t, 0.01, dist[1], 1e-12)
	assert.Equal(t, 0.0, dist[2])

	assert.Equal(t, []string{ColCluster, ColDensity, ColDistanceToCentroid}, tbl.Columns())
}

func TestClusterFeatures_NoCluster(t *testing.T) {
	tbl := table.New(table.Test, records(stations...))
	require.NoError(t, tbl.AddInt(ColCluster, []int{0, NoCluster, NoCluster}))
	require.NoError(t, ClusterDensity(tbl))
	require.NoError(t, CentroidDistance(tbl, stations[:1]))

	density, err := tbl.Int(ColDensity)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, density)

	dist, err := tbl.Float(ColDistanceToCentroid)
	require.NoError(t, err)
	assert.Equal(t, 0.0, dist[0])
	assert.True(t, math.IsNaN(dist[1]))
	assert.True(t, math.IsNaN(dist[2]))
}

func TestClusterDensity_SumsPerCluster(t *testing.T) {
	tbl := randomTable(table.Train, 21, 500)
	m := fixedModel{{Lat: 37.45, Lon: 126.9}, {Lat: 37.55, Lon: 127.0}, {Lat: 37.65, Lon: 127.15}}
	require.NoError(t, AssignClusters(tbl, m))
	require.NoError(t, ClusterDensity(tbl))

	clusters, err := tbl.Int(ColCluster)
	require.NoError(t, err)
	density, err := tbl.Int(ColDensity)
	require.NoError(t, err)

	perCluster := make(map[int]int)
	for i, c := range clusters {
		perCluster[c] = density[i]
	}
	var total int
	for _, d := range perCluster {
		total += d
	}
	assert.Equal(t, tbl.Len(), total)
}

func TestClusterFeatures_Errors(t *testing.T) {
	tbl := table.New(table.Train, records(stations...))
	assert.True(t, eris.Is(ClusterDensity(tbl), table.ErrSchema))
	assert.True(t, eris.Is(CentroidDistance(tbl, stations), table.ErrSchema))

	require.NoError(t, tbl.AddInt(ColCluster, []int{0, 1, 5}))
	assert.True(t, eris.Is(CentroidDistance(tbl, stations[:2]), table.ErrSchema))
	assert.False(t, tbl.HasColumn(ColDistanceToCentroid))

	assert.True(t, eris.Is(AssignClusters(nil, fixedModel(stations)), table.ErrSchema))
}

func TestAreaBinLabel(t *testing.T) {
	tests := []struct {
		area float64
		want string
	}{
		{73, "50 - 99"},
		{0, "0 - 49"},
		{49.99, "0 - 49"},
		{50, "50 - 99"},
		{114.7, "100 - 149"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AreaBinLabel(tt.area, DefaultAreaBinWidth), "area %v", tt.area)
	}
}

func TestAreaBins_SharedCategoriesDropFirst(t *testing.T) {
	area := func(p table.Partition, values ...float64) *table.Table {
		recs := make([]table.Record, len(values))
		for i, v := range values {
			recs[i] = table.Record{Latitude: 37.5, Longitude: 127, AreaM2: v}
		}
		return table.New(p, recs)
	}
	train := area(table.Train, 73, 20, 120)
	test := area(table.Test, 160, 55)

	cats := AreaBinCategories(DefaultAreaBinWidth, train, test)
	assert.Equal(t, []string{"0 - 49", "50 - 99", "100 - 149", "150 - 199"}, cats)

	require.NoError(t, AreaBins(train, DefaultAreaBinWidth, cats))
	require.NoError(t, AreaBins(test, DefaultAreaBinWidth, cats))

	wantCols := []string{"area_m2_50 - 99", "area_m2_100 - 149", "area_m2_150 - 199"}
	assert.Equal(t, wantCols, train.Columns())
	assert.Equal(t, wantCols, test.Columns())

	got, err := train.Int("area_m2_50 - 99")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 0}, got)
	got, err = test.Int("area_m2_150 - 199")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, got)
	assert.False(t, train.HasColumn("area_m2_0 - 49"))
}

func TestAreaBins_SingleCategory(t *testing.T) {
	tbl := table.New(table.Train, records(stations...))
	cats := AreaBinCategories(DefaultAreaBinWidth, tbl)
	assert.Equal(t, []string{"50 - 99"}, cats)
	require.NoError(t, AreaBins(tbl, DefaultAreaBinWidth, cats))
	assert.Empty(t, tbl.Columns())
	assert.Error(t, AreaBins(tbl, 0, cats))
}
