// Package pipeline runs feature generation over the train, valid and test
// partitions with one set of reference indices and one cluster model.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geofeat/internal/config"
	"github.com/sells-group/geofeat/internal/features"
	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/geoindex"
	"github.com/sells-group/geofeat/internal/kmeans"
	"github.com/sells-group/geofeat/internal/refdata"
	"github.com/sells-group/geofeat/internal/table"
)

// Stage names, as they appear in errors and the report.
const (
	StageValidate         = "validate"
	StageIndex            = "index"
	StageClusterFit       = "cluster_fit"
	StageAreaCategories   = "area_categories"
	StageCluster          = "cluster"
	StageDensity          = "density"
	StageCentroidDistance = "centroid_distance"
	StageNearestSubway    = "nearest_subway"
	StageSubwayRadius     = "subway_radius"
	StageNearestPark      = "nearest_park"
	StageSchoolRadius     = "school_radius"
	StageAreaBins         = "area_bins"
)

// partitionAll labels stages that are not tied to one partition.
const partitionAll = "all"

// Input is everything a run reads. It is never modified.
type Input struct {
	Train *table.Table
	Valid *table.Table
	Test  *table.Table
	Refs  *refdata.Set
	// Info is the cluster fit set when cluster.fit_source is "reference".
	Info *refdata.PointSet
}

// Result holds the feature tables, the fitted model and the run report.
type Result struct {
	Train  *table.Table
	Valid  *table.Table
	Test   *table.Table
	Model  *kmeans.Model
	Report *Report
}

// Tables returns the output tables in partition order.
func (r *Result) Tables() []*table.Table {
	return []*table.Table{r.Train, r.Valid, r.Test}
}

// Pipeline generates features for the three partitions.
type Pipeline struct {
	cfg *config.Config
}

// New creates a Pipeline.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// FitModel fits the cluster model on the configured fit source: the train
// coordinates or the info reference points.
func FitModel(ctx context.Context, cfg *config.Config, train []geo.Coord, info *refdata.PointSet) (*kmeans.Model, error) {
	points := train
	if cfg.Cluster.FitSource == config.FitSourceReference {
		if info == nil {
			return nil, eris.Wrap(table.ErrSchema, "pipeline: cluster fit source is reference but no info set was given")
		}
		points = info.Points
	}
	return kmeans.Fit(ctx, points, kmeans.Options{
		K:         cfg.Cluster.K,
		Seed:      cfg.Seed,
		MaxIter:   cfg.Cluster.MaxIter,
		NInit:     cfg.Cluster.NInit,
		Tolerance: cfg.Cluster.Tolerance,
	})
}

// Run appends every feature column to clones of the input tables. On
// failure no tables are returned and the error names the stage and
// partition.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	runID := uuid.New().String()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", runID))
	log.Info("pipeline: starting run")
	runStart := time.Now()

	report := &Report{RunID: runID}

	trackPhase := func(name, partition string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "pipeline: stage %s (%s)", name, partition)
		}
		start := time.Now()
		fnErr := fn()
		duration := time.Since(start).Milliseconds()

		phase := PhaseResult{Name: name, Partition: partition, Duration: duration}
		if fnErr != nil {
			phase.Status = PhaseStatusFailed
			phase.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.String("partition", partition),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			phase.Status = PhaseStatusComplete
			log.Debug("pipeline: phase complete",
				zap.String("phase", name),
				zap.String("partition", partition),
				zap.Int64("duration_ms", duration),
			)
		}
		report.Phases = append(report.Phases, phase)

		if fnErr != nil {
			return eris.Wrapf(fnErr, "pipeline: stage %s (%s)", name, partition)
		}
		return nil
	}

	// Validate inputs and take working copies.
	var tables []*table.Table
	err := trackPhase(StageValidate, partitionAll, func() error {
		var verr error
		tables, verr = p.prepare(in)
		return verr
	})
	if err != nil {
		return nil, err
	}

	// Build reference indices.
	var subway, park, school geoindex.Searcher
	err = trackPhase(StageIndex, partitionAll, func() error {
		kind := geoindex.Kind(p.cfg.Index.Kind)
		var ierr error
		if subway, ierr = geoindex.New(kind, in.Refs.Subway.Points); ierr != nil {
			return eris.Wrap(ierr, "subway")
		}
		if park, ierr = geoindex.New(kind, in.Refs.Park.Points); ierr != nil {
			return eris.Wrap(ierr, "park")
		}
		if school, ierr = geoindex.New(kind, in.Refs.School.Points); ierr != nil {
			return eris.Wrap(ierr, "school")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Fit the cluster model once.
	var model *kmeans.Model
	err = trackPhase(StageClusterFit, partitionAll, func() error {
		var ferr error
		model, ferr = FitModel(ctx, p.cfg, tables[0].Coords(), in.Info)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	centroids := model.Centroids()

	// Shared area vocabulary keeps indicator columns aligned.
	width := p.cfg.Features.AreaBinWidth
	var categories []string
	err = trackPhase(StageAreaCategories, partitionAll, func() error {
		if width <= 0 {
			return eris.Errorf("area bin width %d", width)
		}
		categories = features.AreaBinCategories(width, tables...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	radius := func(column string) features.RadiusSpec {
		return features.RadiusSpec{
			Column:    column,
			Radius:    p.cfg.Features.Radius,
			BatchSize: p.cfg.Features.BatchSize,
			Workers:   p.cfg.Features.BatchWorkers,
		}
	}

	for _, t := range tables {
		part := string(t.Partition)
		before := len(t.Columns())

		stages := []struct {
			name string
			fn   func() error
		}{
			{StageCluster, func() error { return features.AssignClusters(t, model) }},
			{StageDensity, func() error { return features.ClusterDensity(t) }},
			{StageCentroidDistance, func() error { return features.CentroidDistance(t, centroids) }},
			{StageNearestSubway, func() error {
				return features.Nearest(t, subway, features.NearestSpec{DistanceColumn: features.ColNearestSubwayDistance})
			}},
			{StageSubwayRadius, func() error {
				return features.RadiusCount(ctx, t, subway, radius(features.ColSubwaysWithinRadius))
			}},
			{StageNearestPark, func() error {
				return features.Nearest(t, park, features.NearestSpec{
					DistanceColumn:  features.ColNearestParkDistance,
					AttributeColumn: features.ColNearestParkArea,
					Attribute:       in.Refs.Park.Attribute,
				})
			}},
			{StageSchoolRadius, func() error {
				return features.RadiusCount(ctx, t, school, radius(features.ColSchoolsWithinRadius))
			}},
			{StageAreaBins, func() error { return features.AreaBins(t, width, categories) }},
		}
		for _, s := range stages {
			if err := trackPhase(s.name, part, s.fn); err != nil {
				return nil, err
			}
		}

		report.Partitions = append(report.Partitions, PartitionReport{
			Name:    t.Partition,
			Rows:    t.Len(),
			Columns: len(t.Columns()) - before,
		})
		if report.ColumnsAdded == nil {
			report.ColumnsAdded = append([]string(nil), t.Columns()[before:]...)
		}
	}

	fitPoints := tables[0].Len()
	if p.cfg.Cluster.FitSource == config.FitSourceReference {
		fitPoints = in.Info.Len()
	}
	report.Cluster = ClusterReport{
		K:          model.K(),
		FitSource:  p.cfg.Cluster.FitSource,
		FitPoints:  fitPoints,
		Inertia:    model.Inertia(),
		Iterations: model.Iterations(),
	}
	report.Duration = time.Since(runStart).Milliseconds()

	log.Info("pipeline: run complete",
		zap.Int("train_rows", tables[0].Len()),
		zap.Int("valid_rows", tables[1].Len()),
		zap.Int("test_rows", tables[2].Len()),
		zap.Int("columns_added", len(report.ColumnsAdded)),
		zap.Int64("duration_ms", report.Duration),
	)

	return &Result{
		Train:  tables[0],
		Valid:  tables[1],
		Test:   tables[2],
		Model:  model,
		Report: report,
	}, nil
}

// prepare checks the inputs and returns clones of the three tables in
// partition order.
func (p *Pipeline) prepare(in Input) ([]*table.Table, error) {
	if in.Refs == nil || in.Refs.Subway == nil || in.Refs.Park == nil || in.Refs.School == nil {
		return nil, eris.Wrap(table.ErrSchema, "reference sets are required")
	}
	for _, s := range []*refdata.PointSet{in.Refs.Subway, in.Refs.Park, in.Refs.School} {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if in.Refs.Park.Attribute == nil {
		return nil, eris.Wrapf(table.ErrSchema, "park set %s has no area attribute", in.Refs.Park.Name)
	}

	inputs := []*table.Table{in.Train, in.Valid, in.Test}
	out := make([]*table.Table, len(inputs))
	for i, part := range table.Partitions() {
		t := inputs[i]
		if t == nil {
			return nil, eris.Wrapf(table.ErrSchema, "%s table is required", part)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out[i] = t.Clone()
		out[i].Partition = part
	}
	return out, nil
}
