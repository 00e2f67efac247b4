package refdata

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/table"
)

// loadShapefile reads point and polygon shapes. A polygon contributes its
// area centroid. X is longitude and Y is latitude.
func loadShapefile(src Source) (*PointSet, error) {
	reader, err := shp.Open(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open shapefile %s", src.Path)
	}
	defer func() { _ = reader.Close() }()

	attr := -1
	if src.AttributeColumn != "" {
		fieldIdx := make(map[string]int)
		for i, f := range reader.Fields() {
			fieldIdx[strings.ToLower(strings.TrimRight(f.String(), "\x00"))] = i
		}
		i, ok := fieldIdx[strings.ToLower(src.AttributeColumn)]
		if !ok {
			return nil, eris.Wrapf(table.ErrSchema, "refdata: shapefile has no field %q", src.AttributeColumn)
		}
		attr = i
	}

	set := &PointSet{Name: src.Name, AttributeName: src.AttributeColumn, Points: []geo.Coord{}}
	if attr >= 0 {
		set.Attribute = []float64{}
	}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		c, ok := shapeCoord(shape)
		if !ok {
			skipped++
			continue
		}
		set.Points = append(set.Points, c)
		if attr >= 0 {
			v, err := parseAttribute(reader.Attribute(attr))
			if err != nil {
				return nil, eris.Wrapf(err, "refdata: shapefile record %d", n)
			}
			set.Attribute = append(set.Attribute, v)
		}
	}

	if skipped > 0 {
		zap.L().Debug("refdata: skipped shapefile records",
			zap.String("component", "refdata"),
			zap.String("name", src.Name),
			zap.Int("skipped", skipped),
		)
	}
	return set, nil
}

func shapeCoord(s shp.Shape) (geo.Coord, bool) {
	switch v := s.(type) {
	case *shp.Point:
		return geo.Coord{Lat: v.Y, Lon: v.X}, true
	case *shp.Polygon:
		mp := multiPolygon(v)
		if mp == nil {
			return geo.Coord{}, false
		}
		return geo.FromXY(xy.MultiPolygonCentroid(mp)), true
	default:
		return geo.Coord{}, false
	}
}

// multiPolygon converts a shapefile polygon to a go-geom multipolygon.
// Clockwise rings are shells and counter-clockwise rings are holes of the
// shell containing them. A hole inside no shell becomes a shell of its own.
// Rings with fewer than three distinct points are dropped.
func multiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var shells, holes [][]float64
	for i := int32(0); i < p.NumParts; i++ {
		start, end := int(p.Parts[i]), len(p.Points)
		if i+1 < p.NumParts {
			end = int(p.Parts[i+1])
		}
		if start < 0 || end > len(p.Points) || end-start < 4 {
			continue
		}
		ring := make([]float64, 0, (end-start)*2)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, pt.X, pt.Y)
		}
		if xy.IsRingCounterClockwise(geom.XY, ring) {
			holes = append(holes, ring)
		} else {
			shells = append(shells, ring)
		}
	}

	polys := make([][][]float64, len(shells))
	for i, s := range shells {
		polys[i] = [][]float64{s}
	}
	for _, h := range holes {
		owner := -1
		for i, s := range shells {
			if xy.IsPointInRing(geom.XY, geom.Coord{h[0], h[1]}, s) {
				owner = i
				break
			}
		}
		if owner < 0 {
			polys = append(polys, [][]float64{h})
			continue
		}
		polys[owner] = append(polys[owner], h)
	}
	if len(polys) == 0 {
		return nil
	}

	var flat []float64
	endss := make([][]int, len(polys))
	for i, rings := range polys {
		for _, r := range rings {
			flat = append(flat, r...)
			endss[i] = append(endss[i], len(flat))
		}
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}
