package refdata

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/table"
)

// pointRow is decoded through a header rewritten so the configured columns
// map onto fixed tags.
type pointRow struct {
	Lat  float64 `csv:"lat"`
	Lon  float64 `csv:"lon"`
	Attr string  `csv:"attr,omitempty"`
}

func loadCSV(src Source) (*PointSet, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open %s", src.Path)
	}
	defer f.Close() //nolint:errcheck

	return readCSV(f, src)
}

func readCSV(r io.Reader, src Source) (*PointSet, error) {
	dr, err := table.DecodeReader(r, src.Encoding)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(dr)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, eris.Wrap(table.ErrSchema, "refdata: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read csv header")
	}

	want := []string{src.LatColumn, src.LonColumn}
	if src.AttributeColumn != "" {
		want = append(want, src.AttributeColumn)
	}
	idx, err := indexOf(header, want...)
	if err != nil {
		return nil, err
	}

	tags := make([]string, len(header))
	for i := range header {
		tags[i] = "_" + strconv.Itoa(i)
	}
	tags[idx[0]], tags[idx[1]] = "lat", "lon"
	if len(idx) == 3 {
		tags[idx[2]] = "attr"
	}

	dec, err := csvutil.NewDecoder(cr, tags...)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: csv decoder")
	}

	set := &PointSet{Name: src.Name, AttributeName: src.AttributeColumn, Points: []geo.Coord{}}
	if src.AttributeColumn != "" {
		set.Attribute = []float64{}
	}
	for line := 2; ; line++ {
		var row pointRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(table.ErrSchema, "refdata: csv line %d: %v", line, err)
		}
		set.Points = append(set.Points, geo.Coord{Lat: row.Lat, Lon: row.Lon})
		if set.Attribute != nil {
			v, err := parseAttribute(row.Attr)
			if err != nil {
				return nil, eris.Wrapf(err, "refdata: csv line %d", line)
			}
			set.Attribute = append(set.Attribute, v)
		}
	}
	return set, nil
}
