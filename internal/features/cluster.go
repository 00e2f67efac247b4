package features

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/table"
)

// Predictor assigns cluster IDs to coordinates. *kmeans.Model satisfies it.
// A point that cannot be assigned gets NoCluster.
type Predictor interface {
	Predict(points []geo.Coord) []int
}

// NoCluster is the cluster ID of a row with a non-finite coordinate. It
// matches kmeans.Unassigned.
const NoCluster = -1

// AssignClusters appends the cluster column.
func AssignClusters(t *table.Table, m Predictor) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return t.AddInt(ColCluster, m.Predict(t.Coords()))
}

// ClusterDensity appends the number of rows in this table sharing each row's
// cluster. Each partition counts only its own rows.
func ClusterDensity(t *table.Table) error {
	clusters, err := t.Int(ColCluster)
	if err != nil {
		return err
	}
	sizes := make(map[int]int)
	for _, c := range clusters {
		sizes[c]++
	}
	density := make([]int, len(clusters))
	for i, c := range clusters {
		density[i] = sizes[c]
	}
	return t.AddInt(ColDensity, density)
}

// CentroidDistance appends each row's planar distance to its cluster's
// centroid. Rows in NoCluster get NaN.
func CentroidDistance(t *table.Table, centroids []geo.Coord) error {
	clusters, err := t.Int(ColCluster)
	if err != nil {
		return err
	}
	dist := make([]float64, len(clusters))
	for i, c := range clusters {
		if c == NoCluster {
			dist[i] = math.NaN()
			continue
		}
		if c < 0 || c >= len(centroids) {
			return eris.Wrapf(table.ErrSchema, "features: row %d has cluster %d outside %d centroids", i, c, len(centroids))
		}
		dist[i] = geo.Distance(t.Records[i].Coord(), centroids[c])
	}
	return t.AddFloat(ColDistanceToCentroid, dist)
}
