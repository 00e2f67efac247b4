// Package refdata loads reference point sets (subway stations, parks,
// schools) from CSV, XLSX, shapefile, SQLite and Postgres sources.
package refdata

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/table"
)

// ErrUnsupportedSource is returned for an unknown source kind or an unsafe
// table or column identifier.
var ErrUnsupportedSource = eris.New("refdata: unsupported source")

// PointSet is a named list of reference points with an optional numeric
// attribute aligned to Points. It is not modified after loading.
type PointSet struct {
	Name          string
	Points        []geo.Coord
	AttributeName string
	Attribute     []float64
}

// Len returns the number of points.
func (s *PointSet) Len() int { return len(s.Points) }

// Validate checks the attribute column is aligned with the points.
func (s *PointSet) Validate() error {
	if s.Attribute != nil && len(s.Attribute) != len(s.Points) {
		return eris.Errorf("refdata: %s has %d attribute values for %d points", s.Name, len(s.Attribute), len(s.Points))
	}
	return nil
}

// Filter returns a new set holding the points inside b, with their
// attribute values.
func (s *PointSet) Filter(b geo.Bounds) *PointSet {
	keep := b.Filter(s.Points)
	out := &PointSet{
		Name:          s.Name,
		Points:        make([]geo.Coord, len(keep)),
		AttributeName: s.AttributeName,
	}
	if s.Attribute != nil {
		out.Attribute = make([]float64, len(keep))
	}
	for j, i := range keep {
		out.Points[j] = s.Points[i]
		if s.Attribute != nil {
			out.Attribute[j] = s.Attribute[i]
		}
	}
	return out
}

// Kind is a source format.
type Kind string

// Source kinds.
const (
	KindCSV      Kind = "csv"
	KindXLSX     Kind = "xlsx"
	KindShape    Kind = "shp"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// Source describes where a point set lives.
type Source struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Path is a file path, or a DSN for sqlite and postgres.
	Path string `mapstructure:"path" yaml:"path"`
	// Kind is inferred from the Path extension when empty.
	Kind  Kind   `mapstructure:"kind" yaml:"kind"`
	Table string `mapstructure:"table" yaml:"table"`
	Sheet string `mapstructure:"sheet" yaml:"sheet"`

	LatColumn       string `mapstructure:"lat_column" yaml:"lat_column"`
	LonColumn       string `mapstructure:"lon_column" yaml:"lon_column"`
	AttributeColumn string `mapstructure:"attribute_column" yaml:"attribute_column"`

	// Encoding is a charset label for CSV input. Empty means UTF-8.
	Encoding string `mapstructure:"encoding" yaml:"encoding"`
}

func (s Source) withDefaults() Source {
	if s.LatColumn == "" {
		s.LatColumn = "latitude"
	}
	if s.LonColumn == "" {
		s.LonColumn = "longitude"
	}
	if s.Kind == "" {
		s.Kind = inferKind(s.Path)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
	}
	return s
}

func inferKind(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return KindCSV
	case ".xlsx":
		return KindXLSX
	case ".shp":
		return KindShape
	case ".db", ".sqlite", ".sqlite3":
		return KindSQLite
	}
	if strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://") {
		return KindPostgres
	}
	return ""
}

// Options carries dependencies some loaders need.
type Options struct {
	// Postgres serves KindPostgres sources. When nil a pool is opened from
	// Source.Path.
	Postgres Querier
}

// Load reads one point set.
func Load(ctx context.Context, src Source, opts Options) (*PointSet, error) {
	src = src.withDefaults()

	var (
		set *PointSet
		err error
	)
	switch src.Kind {
	case KindCSV:
		set, err = loadCSV(src)
	case KindXLSX:
		set, err = loadXLSX(src)
	case KindShape:
		set, err = loadShapefile(src)
	case KindSQLite:
		set, err = loadSQLite(ctx, src)
	case KindPostgres:
		set, err = loadPostgres(ctx, src, opts.Postgres)
	default:
		return nil, eris.Wrapf(ErrUnsupportedSource, "refdata: kind %q for %s", src.Kind, src.Path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: load %s", src.Name)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	zap.L().Info("refdata: loaded point set",
		zap.String("component", "refdata"),
		zap.String("name", set.Name),
		zap.String("kind", string(src.Kind)),
		zap.Int("points", set.Len()),
	)
	return set, nil
}

// Sources names the three reference sets used by the feature pipeline.
type Sources struct {
	Subway Source
	Park   Source
	School Source
}

// Set holds the loaded reference sets.
type Set struct {
	Subway *PointSet
	Park   *PointSet
	School *PointSet
}

// LoadSet loads subway, park and school sets. Parks and schools are
// restricted to bounds; subway stations are kept as loaded.
func LoadSet(ctx context.Context, srcs Sources, bounds geo.Bounds, opts Options) (*Set, error) {
	subway, err := Load(ctx, named(srcs.Subway, "subway"), opts)
	if err != nil {
		return nil, err
	}
	park, err := Load(ctx, named(srcs.Park, "park"), opts)
	if err != nil {
		return nil, err
	}
	school, err := Load(ctx, named(srcs.School, "school"), opts)
	if err != nil {
		return nil, err
	}

	set := &Set{Subway: subway, Park: park.Filter(bounds), School: school.Filter(bounds)}
	zap.L().Info("refdata: filtered to bounds",
		zap.String("component", "refdata"),
		zap.Int("park_dropped", park.Len()-set.Park.Len()),
		zap.Int("school_dropped", school.Len()-set.School.Len()),
	)
	return set, nil
}

func named(s Source, name string) Source {
	if s.Name == "" {
		s.Name = name
	}
	return s
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// selectQuery builds the point query for table-backed sources.
func selectQuery(src Source) (string, error) {
	cols := []string{src.LatColumn, src.LonColumn}
	if src.AttributeColumn != "" {
		cols = append(cols, src.AttributeColumn)
	}
	for _, id := range append([]string{src.Table}, cols...) {
		if !identRe.MatchString(id) {
			return "", eris.Wrapf(ErrUnsupportedSource, "refdata: invalid identifier %q", id)
		}
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + src.Table, nil
}

// parseFloat parses a cell, ignoring surrounding spaces, NUL padding and
// thousands separators.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, eris.Wrapf(table.ErrSchema, "refdata: parse %q: %v", s, err)
	}
	return v, nil
}

// parseAttribute is parseFloat with blank cells read as 0.
func parseAttribute(s string) (float64, error) {
	if strings.TrimSpace(strings.TrimRight(s, "\x00")) == "" {
		return 0, nil
	}
	return parseFloat(s)
}

// indexOf returns the position of each wanted column in header, or an error
// naming the first one missing.
func indexOf(header []string, want ...string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	out := make([]int, len(want))
	for i, w := range want {
		p, ok := pos[w]
		if !ok {
			return nil, eris.Wrapf(table.ErrSchema, "refdata: missing column %q", w)
		}
		out[i] = p
	}
	return out, nil
}
