// Package geo provides the coordinate primitives shared by the spatial index,
// the clustering engine and the feature generators.
//
// Distances are planar Euclidean on raw (latitude, longitude) degrees, not
// geodesic. At Seoul's latitude a radius of 0.01 is roughly one kilometre.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Coord is a (latitude, longitude) pair in degrees.
type Coord struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// XY returns the coordinate in go-geom XY order (x = longitude, y = latitude).
func (c Coord) XY() geom.Coord {
	return geom.Coord{c.Lon, c.Lat}
}

// Finite reports whether both components are neither NaN nor infinite.
func (c Coord) Finite() bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lon) && !math.IsInf(c.Lon, 0)
}

// FromXY converts a go-geom XY coordinate back to a Coord.
func FromXY(c geom.Coord) Coord {
	return Coord{Lat: c.Y(), Lon: c.X()}
}

// Distance returns the planar Euclidean distance between a and b in degrees.
func Distance(a, b Coord) float64 {
	return xy.Distance(a.XY(), b.XY())
}

// SquaredDistance returns the squared planar distance between a and b. It is
// what the nearest-neighbour searches compare, so equal inputs give bit-equal
// results across index implementations.
func SquaredDistance(a, b Coord) float64 {
	dLat := a.Lat - b.Lat
	dLon := a.Lon - b.Lon
	return dLat*dLat + dLon*dLon
}
