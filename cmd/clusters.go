package main

import (
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geofeat/internal/config"
	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/kmeans"
	"github.com/sells-group/geofeat/internal/pipeline"
	"github.com/sells-group/geofeat/internal/refdata"
	"github.com/sells-group/geofeat/internal/table"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Fit the cluster model and print its centroids",
	Long: `Fit k-means on the train records (--train) or on an info reference set
(--info) and print the centroid table as YAML.

Examples:
  clusters --train train.csv
  clusters --info info.csv --k 25`,
	RunE: runClusters,
}

func init() {
	f := clustersCmd.Flags()
	f.String("train", "", "fit on the coordinates of this record CSV")
	f.String("info", "", "fit on this reference set")
	f.Int("k", 0, "cluster count (0=use config)")
	clustersCmd.MarkFlagsOneRequired("train", "info")
	clustersCmd.MarkFlagsMutuallyExclusive("train", "info")

	rootCmd.AddCommand(clustersCmd)
}

// centroidRow is one line of the centroid table.
type centroidRow struct {
	ID      int     `yaml:"id"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	Members int     `yaml:"members"`
}

type centroidTable struct {
	K          int           `yaml:"k"`
	FitSource  string        `yaml:"fit_source"`
	FitPoints  int           `yaml:"fit_points"`
	Inertia    float64       `yaml:"inertia"`
	Iterations int           `yaml:"iterations"`
	Centroids  []centroidRow `yaml:"centroids"`
}

func runClusters(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := *cfg
	if k, _ := cmd.Flags().GetInt("k"); k > 0 {
		run.Cluster.K = k
	}

	var points []geo.Coord
	if path := flagString(cmd, "train"); path != "" {
		run.Cluster.FitSource = config.FitSourceTrain
		t, err := table.ReadFile(path, table.Train, table.ReadOptions{Encoding: cfg.Datasets.Encoding})
		if err != nil {
			return eris.Wrap(err, "clusters: read train")
		}
		points = t.Coords()
	}

	var info *refdata.PointSet
	if path := flagString(cmd, "info"); path != "" {
		run.Cluster.FitSource = config.FitSourceReference
		var err error
		info, err = refdata.Load(ctx, sourceWithFlag(cfg.Datasets.Info, cfg.Datasets.Encoding, path), refdata.Options{})
		if err != nil {
			return eris.Wrap(err, "clusters: load info")
		}
		points = info.Points
	}

	m, err := pipeline.FitModel(ctx, &run, points, info)
	if err != nil {
		return eris.Wrap(err, "clusters: fit")
	}
	return writeCentroids(cmd.OutOrStdout(), run.Cluster.FitSource, m, points)
}

func writeCentroids(w io.Writer, fitSource string, m *kmeans.Model, points []geo.Coord) error {
	members := make([]int, m.K())
	fitPoints := 0
	for _, c := range m.Predict(points) {
		if c == kmeans.Unassigned {
			continue
		}
		members[c]++
		fitPoints++
	}

	out := centroidTable{
		K:          m.K(),
		FitSource:  fitSource,
		FitPoints:  fitPoints,
		Inertia:    m.Inertia(),
		Iterations: m.Iterations(),
	}
	for i, c := range m.Centroids() {
		out.Centroids = append(out.Centroids, centroidRow{ID: i, Lat: c.Lat, Lon: c.Lon, Members: members[i]})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return eris.Wrap(err, "clusters: encode")
	}
	return enc.Close()
}
