package geo

import (
	"github.com/twpayne/go-geom"
)

// Bounds is a latitude/longitude box. Edges are inclusive.
type Bounds struct {
	MinLat float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MinLon float64 `yaml:"min_lon" mapstructure:"min_lon"`
	MaxLon float64 `yaml:"max_lon" mapstructure:"max_lon"`
}

// SeoulBounds covers the Seoul metropolitan area (37–38°N, 126–128°E). Park and
// school reference sets are restricted to it.
var SeoulBounds = Bounds{MinLat: 37, MaxLat: 38, MinLon: 126, MaxLon: 128}

// Valid reports whether the box has non-inverted edges.
func (b Bounds) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon
}

func (b Bounds) geom() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Contains reports whether c lies inside b or on its border.
func (b Bounds) Contains(c Coord) bool {
	return b.geom().OverlapsPoint(geom.XY, c.XY())
}

// Filter returns the indices of the coordinates that fall inside b, in input
// order.
func (b Bounds) Filter(coords []Coord) []int {
	gb := b.geom()
	keep := make([]int, 0, len(coords))
	for i, c := range coords {
		if gb.OverlapsPoint(geom.XY, c.XY()) {
			keep = append(keep, i)
		}
	}
	return keep
}
