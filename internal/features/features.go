// Package features appends derived columns to record tables: nearest
// reference point distance (and attribute), reference points within a
// radius, cluster membership, density and centroid distance, and one-hot
// area bins.
//
// Every generator appends whole columns through table.Table, so a row is
// never dropped or reordered. The same fitted searcher or cluster model is
// applied unchanged to every partition.
package features

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geofeat/internal/geoindex"
	"github.com/sells-group/geofeat/internal/table"
)

// Output column names.
const (
	ColCluster               = "cluster"
	ColDensity               = "density"
	ColDistanceToCentroid    = "distance_to_centroid"
	ColNearestSubwayDistance = "nearest_subway_distance"
	ColSubwaysWithinRadius   = "subways_within_radius"
	ColNearestParkDistance   = "nearest_park_distance"
	ColNearestParkArea       = "nearest_park_area"
	ColSchoolsWithinRadius   = "schools_within_radius"
)

// NearestSpec names the columns a nearest query produces.
type NearestSpec struct {
	DistanceColumn string
	// AttributeColumn receives Attribute[nearest] when Attribute is not nil.
	// Rows without a nearest point get NaN in both columns.
	AttributeColumn string
	Attribute       []float64
}

// Nearest appends the distance from each row to its nearest reference point
// and, optionally, that point's attribute.
func Nearest(t *table.Table, s geoindex.Searcher, spec NearestSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if spec.Attribute != nil && len(spec.Attribute) != s.Len() {
		return eris.Wrapf(table.ErrRowCountMismatch, "features: %d attribute values for %d reference points", len(spec.Attribute), s.Len())
	}

	neighbors := geoindex.NearestAll(s, t.Coords())
	dist := make([]float64, len(neighbors))
	var attr []float64
	if spec.Attribute != nil {
		attr = make([]float64, len(neighbors))
	}
	for i, n := range neighbors {
		if n.Index < 0 {
			dist[i] = math.NaN()
			if attr != nil {
				attr[i] = math.NaN()
			}
			continue
		}
		dist[i] = n.Distance
		if attr != nil {
			attr[i] = spec.Attribute[n.Index]
		}
	}

	if err := t.AddFloat(spec.DistanceColumn, dist); err != nil {
		return err
	}
	if attr != nil {
		if err := t.AddFloat(spec.AttributeColumn, attr); err != nil {
			return err
		}
	}

	zap.L().Debug("features: nearest",
		zap.String("component", "features"),
		zap.String("partition", string(t.Partition)),
		zap.String("column", spec.DistanceColumn),
		zap.Int("rows", t.Len()),
	)
	return nil
}
