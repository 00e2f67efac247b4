package features

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geofeat/internal/geoindex"
	"github.com/sells-group/geofeat/internal/table"
)

// DefaultBatchSize bounds the rows sent to the searcher per query batch.
const DefaultBatchSize = 10000

// RadiusSpec configures a radius count column.
type RadiusSpec struct {
	Column string
	Radius float64
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	// Workers is the number of batches queried at once. Defaults to 1.
	Workers int
}

func (s RadiusSpec) withDefaults() RadiusSpec {
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	return s
}

// RadiusCount appends, for each row, the number of reference points within
// spec.Radius (inclusive). Rows are queried in consecutive batches and each
// batch's answer lands at its own row offset, so batching never changes the
// result.
//
// A batch answer shorter than the batch is padded with zeros and logged. A
// longer answer fails with table.ErrRowCountMismatch.
func RadiusCount(ctx context.Context, t *table.Table, s geoindex.Searcher, spec RadiusSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	spec = spec.withDefaults()
	log := zap.L().With(
		zap.String("component", "features"),
		zap.String("partition", string(t.Partition)),
		zap.String("column", spec.Column),
	)

	coords := t.Coords()
	counts := make([]int, len(coords))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(spec.Workers)
	for start := 0; start < len(coords); start += spec.BatchSize {
		end := min(start+spec.BatchSize, len(coords))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			got := geoindex.WithinCounts(s, coords[start:end], spec.Radius)
			want := end - start
			switch {
			case len(got) > want:
				return eris.Wrapf(table.ErrRowCountMismatch, "features: batch at row %d returned %d counts for %d rows", start, len(got), want)
			case len(got) < want:
				log.Warn("features: padding short radius batch with zeros",
					zap.Int("offset", start),
					zap.Int("rows", want),
					zap.Int("returned", len(got)),
				)
			}
			copy(counts[start:end], got)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrapf(err, "features: radius count %s", spec.Column)
	}

	log.Debug("features: radius count",
		zap.Int("rows", len(coords)),
		zap.Float64("radius", spec.Radius),
		zap.Int("batch_size", spec.BatchSize),
	)
	return t.AddInt(spec.Column, counts)
}
