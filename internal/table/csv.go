package table

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadOptions configures CSV decoding.
type ReadOptions struct {
	// Encoding is a WHATWG charset label such as "euc-kr". Empty means UTF-8.
	Encoding string
}

// row is the typed part of an input record.
type row struct {
	Latitude  float64 `csv:"latitude"`
	Longitude float64 `csv:"longitude"`
	AreaM2    float64 `csv:"area_m2"`
}

// DecodeReader wraps r so it yields UTF-8. A leading byte order mark is
// dropped for UTF-8 input.
func DecodeReader(r io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "table: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// ReadFile reads a record table from a CSV file.
func ReadFile(path string, p Partition, opts ReadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := Read(f, p, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "table: read %s", path)
	}
	return t, nil
}

// Read decodes a record table. The header must name latitude, longitude and
// area_m2; every other column passes through as Record.Extra.
func Read(r io.Reader, p Partition, opts ReadOptions) (*Table, error) {
	dr, err := DecodeReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(dr)
	cr.FieldsPerRecord = -1

	dec, err := csvutil.NewDecoder(cr)
	if err == io.EOF {
		return nil, eris.Wrap(ErrSchema, "table: empty input")
	}
	if err != nil {
		return nil, eris.Wrap(err, "table: read header")
	}

	header := append([]string(nil), dec.Header()...)
	if missing := MissingColumns(header, ColLatitude, ColLongitude, ColAreaM2); len(missing) > 0 {
		return nil, eris.Wrapf(ErrSchema, "table: missing columns %v", missing)
	}
	var extra []int
	for i, h := range header {
		switch h {
		case ColLatitude, ColLongitude, ColAreaM2:
		default:
			extra = append(extra, i)
		}
	}

	t := New(p, nil)
	t.Header = header
	for line := 2; ; line++ {
		var v row
		if err := dec.Decode(&v); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(ErrSchema, "table: line %d: %v", line, err)
		}
		rec := Record{Latitude: v.Latitude, Longitude: v.Longitude, AreaM2: v.AreaM2}
		if len(extra) > 0 {
			raw := dec.Record()
			rec.Extra = make([]string, len(extra))
			for j, i := range extra {
				if i < len(raw) {
					rec.Extra[j] = raw[i]
				}
			}
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// MissingColumns returns the names in want that header lacks.
func MissingColumns(header []string, want ...string) []string {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	var missing []string
	for _, w := range want {
		if !have[w] {
			missing = append(missing, w)
		}
	}
	return missing
}

// WriteFile writes the table as CSV to path, creating or truncating it.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "table: create %s", path)
	}
	if err := t.Write(f); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "table: write %s", path)
	}
	return eris.Wrapf(f.Close(), "table: close %s", path)
}

// Write encodes the input columns in header order followed by the feature
// columns in append order.
func (t *Table) Write(w io.Writer) error {
	if err := t.Validate(); err != nil {
		return err
	}
	header := t.Header
	if len(header) == 0 {
		header = []string{ColLatitude, ColLongitude, ColAreaM2}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), header...), t.Columns()...)); err != nil {
		return eris.Wrap(err, "table: write header")
	}

	out := make([]string, 0, len(header)+len(t.cols))
	for i, r := range t.Records {
		out = out[:0]
		e := 0
		for _, h := range header {
			switch h {
			case ColLatitude:
				out = append(out, formatFloat(r.Latitude))
			case ColLongitude:
				out = append(out, formatFloat(r.Longitude))
			case ColAreaM2:
				out = append(out, formatFloat(r.AreaM2))
			default:
				if e < len(r.Extra) {
					out = append(out, r.Extra[e])
				} else {
					out = append(out, "")
				}
				e++
			}
		}
		for _, c := range t.cols {
			if c.kind == KindInt {
				out = append(out, strconv.Itoa(c.ints[i]))
			} else {
				out = append(out, formatFloat(c.floats[i]))
			}
		}
		if err := cw.Write(out); err != nil {
			return eris.Wrapf(err, "table: write row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "table: flush")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
