// Package worker runs background jobs over the junction log: periodic report
// export and Pub/Sub triggered jobs.
package worker

import (
	"time"
)

// Report kinds produced by an export run.
const (
	KindTrafficCSV = "traffic_csv"
	KindEfficiency = "efficiency"
	KindPeaks      = "peaks"
)

// ExportConfig holds configuration for the report export job.
type ExportConfig struct {
	// Dir is where report files are written. It is created when missing.
	Dir string

	// Kinds are the reports produced per run.
	// If empty, uses AllKinds.
	Kinds []string

	// Lanes are the logged lanes covered by the efficiency and peaks reports.
	// Default: NS, EW
	Lanes []string

	// PeakLimit is the number of peak slots reported per lane.
	// Default: 5
	PeakLimit int

	// Concurrency is the number of reports generated at once.
	// Default: 2
	Concurrency int

	// Timeout bounds the generation of one report.
	// Default: 30 seconds
	Timeout time.Duration
}

// AllKinds returns every report kind.
func AllKinds() []string {
	return []string{KindTrafficCSV, KindEfficiency, KindPeaks}
}

// DefaultExportConfig returns the default export configuration.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Dir:         "reports",
		Kinds:       AllKinds(),
		Lanes:       []string{"NS", "EW"},
		PeakLimit:   5,
		Concurrency: 2,
		Timeout:     30 * time.Second,
	}
}

func (c ExportConfig) withDefaults() ExportConfig {
	d := DefaultExportConfig()
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if len(c.Kinds) == 0 {
		c.Kinds = d.Kinds
	}
	if len(c.Lanes) == 0 {
		c.Lanes = d.Lanes
	}
	if c.PeakLimit <= 0 {
		c.PeakLimit = d.PeakLimit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}
