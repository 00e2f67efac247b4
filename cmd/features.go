package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geofeat/internal/config"
	"github.com/sells-group/geofeat/internal/pipeline"
	"github.com/sells-group/geofeat/internal/refdata"
	"github.com/sells-group/geofeat/internal/table"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Generate features for the train, valid and test tables",
	Long: `Load the three record tables and the subway, park and school reference
sets, fit the cluster model, append every feature column and write one CSV per
partition to --out-dir. A YAML run report is printed to stdout.

Reference paths default to datasets.* in config.yaml. A flag replaces the
configured path and re-infers the source kind from its extension.

Examples:
  # Default reference sets from config.yaml
  features --train train.csv --valid valid.csv --test test.csv

  # Explicit reference sets, fitting clusters on an info dataset
  GEOFEAT_CLUSTER_FIT_SOURCE=reference features --train train.csv --valid valid.csv \
    --test test.csv --subway subway.xlsx --park parks.shp --school school.db --info info.csv`,
	RunE: runFeatures,
}

func init() {
	f := featuresCmd.Flags()
	f.String("train", "", "train records CSV (required)")
	f.String("valid", "", "valid records CSV (required)")
	f.String("test", "", "test records CSV (required)")
	f.String("subway", "", "subway station reference set (overrides config)")
	f.String("park", "", "park reference set with an area attribute (overrides config)")
	f.String("school", "", "school reference set (overrides config)")
	f.String("info", "", "cluster fit reference set (overrides config)")
	f.String("out-dir", "out", "directory for the feature CSVs")
	_ = featuresCmd.MarkFlagRequired("train")
	_ = featuresCmd.MarkFlagRequired("valid")
	_ = featuresCmd.MarkFlagRequired("test")

	rootCmd.AddCommand(featuresCmd)
}

func runFeatures(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "features"))
	f := cmd.Flags()

	srcs := refdata.Sources{
		Subway: sourceWithFlag(cfg.Datasets.Subway, cfg.Datasets.Encoding, flagString(cmd, "subway")),
		Park:   sourceWithFlag(cfg.Datasets.Park, cfg.Datasets.Encoding, flagString(cmd, "park")),
		School: sourceWithFlag(cfg.Datasets.School, cfg.Datasets.Encoding, flagString(cmd, "school")),
	}
	refs, err := refdata.LoadSet(ctx, srcs, cfg.Bounds, refdata.Options{})
	if err != nil {
		return eris.Wrap(err, "features: load reference sets")
	}

	in := pipeline.Input{Refs: refs}
	if cfg.Cluster.FitSource == config.FitSourceReference {
		src := sourceWithFlag(cfg.Datasets.Info, cfg.Datasets.Encoding, flagString(cmd, "info"))
		if src.Path == "" {
			return eris.New("features: cluster.fit_source is reference but no info dataset is configured")
		}
		in.Info, err = refdata.Load(ctx, src, refdata.Options{})
		if err != nil {
			return eris.Wrap(err, "features: load info set")
		}
	}

	readOpts := table.ReadOptions{Encoding: cfg.Datasets.Encoding}
	paths := make(map[table.Partition]string, 3)
	for _, p := range table.Partitions() {
		path, _ := f.GetString(string(p))
		paths[p] = path
		t, err := table.ReadFile(path, p, readOpts)
		if err != nil {
			return eris.Wrapf(err, "features: read %s", p)
		}
		switch p {
		case table.Train:
			in.Train = t
		case table.Valid:
			in.Valid = t
		case table.Test:
			in.Test = t
		}
	}

	res, err := pipeline.New(cfg).Run(ctx, in)
	if err != nil {
		return err
	}

	outDir, _ := f.GetString("out-dir")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return eris.Wrapf(err, "features: create %s", outDir)
	}
	for _, t := range res.Tables() {
		out := filepath.Join(outDir, string(t.Partition)+".csv")
		if err := t.WriteFile(out); err != nil {
			return eris.Wrapf(err, "features: write %s", t.Partition)
		}
		log.Info("features: wrote partition",
			zap.String("partition", string(t.Partition)),
			zap.String("input", paths[t.Partition]),
			zap.String("output", out),
			zap.Int("rows", t.Len()),
		)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(res.Report); err != nil {
		return eris.Wrap(err, "features: encode report")
	}
	return enc.Close()
}

// sourceWithFlag replaces the configured path when the flag is set and fills
// the shared CSV encoding.
func sourceWithFlag(src refdata.Source, encoding, path string) refdata.Source {
	if path != "" {
		src.Path = path
		src.Kind = ""
	}
	if src.Encoding == "" {
		src.Encoding = encoding
	}
	return src
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
