package pipeline

import "github.com/sells-group/geofeat/internal/table"

// PhaseStatus is the outcome of one pipeline stage.
type PhaseStatus string

// Phase statuses.
const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records one stage run.
type PhaseResult struct {
	Name      string      `yaml:"name"`
	Partition string      `yaml:"partition"`
	Status    PhaseStatus `yaml:"status"`
	Duration  int64       `yaml:"duration_ms"`
	Error     string      `yaml:"error,omitempty"`
}

// PartitionReport summarizes one output table.
type PartitionReport struct {
	Name    table.Partition `yaml:"name"`
	Rows    int             `yaml:"rows"`
	Columns int             `yaml:"columns"`
}

// ClusterReport summarizes the fitted cluster model.
type ClusterReport struct {
	K          int     `yaml:"k"`
	FitSource  string  `yaml:"fit_source"`
	FitPoints  int     `yaml:"fit_points"`
	Inertia    float64 `yaml:"inertia"`
	Iterations int     `yaml:"iterations"`
}

// Report is the run summary printed by the CLI.
type Report struct {
	RunID        string            `yaml:"run_id"`
	Partitions   []PartitionReport `yaml:"partitions"`
	ColumnsAdded []string          `yaml:"columns_added"`
	Cluster      ClusterReport     `yaml:"cluster"`
	Phases       []PhaseResult     `yaml:"phases"`
	Duration     int64             `yaml:"duration_ms"`
}

// PhaseDuration returns the summed duration of every phase with the given
// name across partitions.
func (r *Report) PhaseDuration(name string) int64 {
	var total int64
	for _, p := range r.Phases {
		if p.Name == name {
			total += p.Duration
		}
	}
	return total
}
