package refdata

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/table"
)

func loadXLSX(src Source) (*PointSet, error) {
	f, err := xlsx.OpenFile(src.Path)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: open xlsx")
	}

	sheet, err := pickSheet(f, src.Sheet)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Wrapf(table.ErrSchema, "refdata: sheet %q is empty", sheet.Name)
	}

	want := []string{src.LatColumn, src.LonColumn}
	if src.AttributeColumn != "" {
		want = append(want, src.AttributeColumn)
	}
	idx, err := indexOf(cellStrings(sheet.Rows[0]), want...)
	if err != nil {
		return nil, err
	}

	set := &PointSet{Name: src.Name, AttributeName: src.AttributeColumn, Points: []geo.Coord{}}
	if src.AttributeColumn != "" {
		set.Attribute = []float64{}
	}
	for i, row := range sheet.Rows[1:] {
		cells := cellStrings(row)
		if blank(cells) {
			continue
		}
		at := func(j int) string {
			if j < len(cells) {
				return cells[j]
			}
			return ""
		}

		lat, err := parseFloat(at(idx[0]))
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: xlsx row %d", i+2)
		}
		lon, err := parseFloat(at(idx[1]))
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: xlsx row %d", i+2)
		}
		set.Points = append(set.Points, geo.Coord{Lat: lat, Lon: lon})

		if set.Attribute != nil {
			v, err := parseAttribute(at(idx[2]))
			if err != nil {
				return nil, eris.Wrapf(err, "refdata: xlsx row %d", i+2)
			}
			set.Attribute = append(set.Attribute, v)
		}
	}
	return set, nil
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("refdata: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("refdata: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
