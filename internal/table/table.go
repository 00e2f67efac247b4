// Package table holds a record partition (train, valid or test) and the
// feature columns appended to it.
//
// Feature columns are stored column-wise in append order. Appending a column
// never drops or reorders rows, and every column always has one value per
// record.
package table

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/geofeat/internal/geo"
)

// Sentinel errors.
var (
	ErrSchema           = eris.New("table: schema violation")
	ErrRowCountMismatch = eris.New("table: row count mismatch")
	ErrDuplicateColumn  = eris.New("table: duplicate column")
)

// Partition names a record table.
type Partition string

// Partitions.
const (
	Train Partition = "train"
	Valid Partition = "valid"
	Test  Partition = "test"
)

// Partitions returns the partitions in processing order.
func Partitions() []Partition { return []Partition{Train, Valid, Test} }

// Input column names every record table must carry.
const (
	ColLatitude  = "latitude"
	ColLongitude = "longitude"
	ColAreaM2    = "area_m2"
)

// Record is one input row. Extra holds the pass-through columns named by the
// table's Header that are not latitude, longitude or area_m2, in input order.
type Record struct {
	Latitude  float64
	Longitude float64
	AreaM2    float64
	Extra     []string
}

// Coord returns the record's location.
func (r Record) Coord() geo.Coord { return geo.Coord{Lat: r.Latitude, Lon: r.Longitude} }

// Kind is a feature column's value type.
type Kind int

// Column kinds.
const (
	KindFloat Kind = iota
	KindInt
)

func (k Kind) String() string {
	if k == KindInt {
		return "int"
	}
	return "float"
}

type column struct {
	name   string
	kind   Kind
	floats []float64
	ints   []int
}

// Table is a record partition plus its feature columns.
type Table struct {
	Partition Partition
	// Header is the input column order. When empty, latitude, longitude and
	// area_m2 are written first, in that order.
	Header  []string
	Records []Record

	cols  []column
	index map[string]int
}

// New returns a table over records. The slice is retained.
func New(p Partition, records []Record) *Table {
	return &Table{Partition: p, Records: records}
}

// Validate checks the table can be enriched.
func (t *Table) Validate() error {
	if t == nil {
		return eris.Wrap(ErrSchema, "table: nil table")
	}
	if t.Partition == "" {
		return eris.Wrap(ErrSchema, "table: missing partition")
	}
	for i, c := range t.cols {
		if n := c.len(); n != len(t.Records) {
			return eris.Wrapf(ErrRowCountMismatch, "table: column %q has %d values for %d rows (position %d)", c.name, n, len(t.Records), i)
		}
	}
	return nil
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.Records) }

// Coords returns the record locations in row order.
func (t *Table) Coords() []geo.Coord {
	out := make([]geo.Coord, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.Coord()
	}
	return out
}

// Columns returns the feature column names in append order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.name
	}
	return out
}

// HasColumn reports whether a feature column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnKind returns the kind of a feature column.
func (t *Table) ColumnKind(name string) (Kind, bool) {
	i, ok := t.index[name]
	if !ok {
		return 0, false
	}
	return t.cols[i].kind, true
}

// AddFloat appends a float column. values is retained.
func (t *Table) AddFloat(name string, values []float64) error {
	if err := t.checkAppend(name, len(values)); err != nil {
		return err
	}
	t.append(column{name: name, kind: KindFloat, floats: values})
	return nil
}

// AddInt appends an int column. values is retained.
func (t *Table) AddInt(name string, values []int) error {
	if err := t.checkAppend(name, len(values)); err != nil {
		return err
	}
	t.append(column{name: name, kind: KindInt, ints: values})
	return nil
}

// Float returns a float column.
func (t *Table) Float(name string) ([]float64, error) {
	c, err := t.column(name, KindFloat)
	if err != nil {
		return nil, err
	}
	return c.floats, nil
}

// Int returns an int column.
func (t *Table) Int(name string) ([]int, error) {
	c, err := t.column(name, KindInt)
	if err != nil {
		return nil, err
	}
	return c.ints, nil
}

// Clone deep-copies records and feature columns.
func (t *Table) Clone() *Table {
	out := &Table{
		Partition: t.Partition,
		Header:    append([]string(nil), t.Header...),
		Records:   make([]Record, len(t.Records)),
	}
	for i, r := range t.Records {
		r.Extra = append([]string(nil), r.Extra...)
		out.Records[i] = r
	}
	for _, c := range t.cols {
		out.append(column{
			name:   c.name,
			kind:   c.kind,
			floats: append([]float64(nil), c.floats...),
			ints:   append([]int(nil), c.ints...),
		})
	}
	return out
}

func (t *Table) checkAppend(name string, n int) error {
	if t.HasColumn(name) {
		return eris.Wrapf(ErrDuplicateColumn, "table: column %q", name)
	}
	if n != len(t.Records) {
		return eris.Wrapf(ErrRowCountMismatch, "table: column %q has %d values for %d rows", name, n, len(t.Records))
	}
	return nil
}

func (t *Table) append(c column) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[c.name] = len(t.cols)
	t.cols = append(t.cols, c)
}

func (t *Table) column(name string, kind Kind) (column, error) {
	i, ok := t.index[name]
	if !ok {
		return column{}, eris.Wrapf(ErrSchema, "table: missing column %q", name)
	}
	c := t.cols[i]
	if c.kind != kind {
		return column{}, eris.Wrapf(ErrSchema, "table: column %q is %s, not %s", name, c.kind, kind)
	}
	return c, nil
}

func (c column) len() int {
	if c.kind == KindInt {
		return len(c.ints)
	}
	return len(c.floats)
}
