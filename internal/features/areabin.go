package features

import (
	"math"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geofeat/internal/table"
)

// DefaultAreaBinWidth is the width of an area_m2 bin.
const DefaultAreaBinWidth = 50

// AreaBinPrefix starts every area indicator column name.
const AreaBinPrefix = table.ColAreaM2 + "_"

func areaBinLow(area float64, width int) int {
	return int(math.Floor(area/float64(width))) * width
}

func areaBinName(lo, width int) string {
	return strconv.Itoa(lo) + " - " + strconv.Itoa(lo+width-1)
}

// AreaBinLabel returns the "lo - hi" label of the bin holding area.
func AreaBinLabel(area float64, width int) string {
	return areaBinName(areaBinLow(area, width), width)
}

// AreaBinCategories returns the labels of every bin occupied by any of the
// tables, ordered by lower bound.
func AreaBinCategories(width int, tables ...*table.Table) []string {
	seen := make(map[int]bool)
	var lows []int
	for _, t := range tables {
		for _, r := range t.Records {
			lo := areaBinLow(r.AreaM2, width)
			if !seen[lo] {
				seen[lo] = true
				lows = append(lows, lo)
			}
		}
	}
	sort.Ints(lows)
	out := make([]string, len(lows))
	for i, lo := range lows {
		out[i] = areaBinName(lo, width)
	}
	return out
}

// AreaBins appends one 0/1 column per category except the first, named
// AreaBinPrefix+label. Sharing categories across partitions keeps their
// columns aligned.
func AreaBins(t *table.Table, width int, categories []string) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if width <= 0 {
		return eris.Errorf("features: area bin width %d", width)
	}
	if len(categories) < 2 {
		return nil
	}

	pos := make(map[string]int, len(categories))
	for i, c := range categories {
		pos[c] = i
	}
	cols := make([][]int, len(categories))
	for i := 1; i < len(categories); i++ {
		cols[i] = make([]int, t.Len())
	}
	for row, r := range t.Records {
		if i, ok := pos[AreaBinLabel(r.AreaM2, width)]; ok && i > 0 {
			cols[i][row] = 1
		}
	}
	for i := 1; i < len(categories); i++ {
		if err := t.AddInt(AreaBinPrefix+categories[i], cols[i]); err != nil {
			return err
		}
	}
	return nil
}
