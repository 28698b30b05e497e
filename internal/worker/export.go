package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/prediction"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// PeakSource returns the busiest historical slots of a lane.
type PeakSource interface {
	PeakSlots(ctx context.Context, lane string, limit int) ([]prediction.Peak, error)
}

// ExportJob writes report files from the log store.
type ExportJob struct {
	config ExportConfig
	repo   trafficlog.Repository
	peaks  PeakSource
	logger zerolog.Logger
	now    func() time.Time

	metrics *ExportMetrics
}

// ExportMetrics tracks export job statistics.
type ExportMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRuns      int64
	ReportsWritten int64
	ReportsFailed  int64

	// Timings
	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// ExportJobConfig holds configuration for creating an ExportJob.
type ExportJobConfig struct {
	Config     ExportConfig
	Repository trafficlog.Repository

	// Peaks is optional. Without it the peaks report is skipped.
	Peaks PeakSource

	Logger zerolog.Logger

	// Clock returns the current time. Nil uses time.Now.
	Clock func() time.Time
}

// NewExportJob creates a report export job.
func NewExportJob(cfg ExportJobConfig) *ExportJob {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ExportJob{
		config:  cfg.Config.withDefaults(),
		repo:    cfg.Repository,
		peaks:   cfg.Peaks,
		logger:  cfg.Logger,
		now:     clock,
		metrics: &ExportMetrics{},
	}
}

// ExportResult contains the result of one export run.
type ExportResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Files      []string
	Successful int
	Failed     int
	Errors     []ExportError
}

// ExportError describes a report that could not be written.
type ExportError struct {
	Kind  string
	Error string
}

type reportResult struct {
	kind string
	path string
	err  error
}

// Run generates every configured report.
func (j *ExportJob) Run(ctx context.Context) *ExportResult {
	start := j.now()
	result := &ExportResult{StartTime: start}

	j.logger.Info().
		Strs("kinds", j.config.Kinds).
		Str("dir", j.config.Dir).
		Msg("starting report export")

	if err := os.MkdirAll(j.config.Dir, 0o755); err != nil {
		result.Failed = len(j.config.Kinds)
		for _, kind := range j.config.Kinds {
			result.Errors = append(result.Errors, ExportError{Kind: kind, Error: err.Error()})
		}
		j.finish(result)
		return result
	}

	kinds := make(chan string, len(j.config.Kinds))
	results := make(chan reportResult, len(j.config.Kinds))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.exportWorker(ctx, start, kinds, results)
		}()
	}

	for _, kind := range j.config.Kinds {
		kinds <- kind
	}
	close(kinds)

	go func() {
		wg.Wait()
		close(results)
	}()

	for rr := range results {
		if rr.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ExportError{Kind: rr.kind, Error: rr.err.Error()})
			j.logger.Warn().Err(rr.err).Str("kind", rr.kind).Msg("report export failed")
			continue
		}
		if rr.path != "" {
			result.Successful++
			result.Files = append(result.Files, rr.path)
		}
	}

	j.finish(result)
	return result
}

// RunEvery runs the job on interval until ctx ends.
func (j *ExportJob) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

func (j *ExportJob) finish(result *ExportResult) {
	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("report export completed")
}

func (j *ExportJob) exportWorker(ctx context.Context, at time.Time, kinds <-chan string, results chan<- reportResult) {
	for kind := range kinds {
		select {
		case <-ctx.Done():
			results <- reportResult{kind: kind, err: ctx.Err()}
		default:
			path, err := j.export(ctx, kind, at)
			results <- reportResult{kind: kind, path: path, err: err}
		}
	}
}

func (j *ExportJob) export(ctx context.Context, kind string, at time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stamp := at.UTC().Format("20060102_150405")

	switch kind {
	case KindTrafficCSV:
		return j.writeFile(trafficlog.ReportFileName(at), func(w io.Writer) error {
			return trafficlog.WriteReport(ctx, w, j.repo)
		})
	case KindEfficiency:
		report, err := trafficlog.EfficiencyReport(ctx, j.repo, j.config.Lanes, trafficlog.FixedCycleGreen)
		if err != nil {
			return "", err
		}
		return j.writeFile("efficiency_"+stamp+".json", jsonWriter(report))
	case KindPeaks:
		if j.peaks == nil {
			return "", nil
		}
		peaks := make(map[string][]prediction.Peak, len(j.config.Lanes))
		for _, lane := range j.config.Lanes {
			slots, err := j.peaks.PeakSlots(ctx, lane, j.config.PeakLimit)
			if err != nil {
				return "", fmt.Errorf("peaks for %s: %w", lane, err)
			}
			peaks[lane] = slots
		}
		return j.writeFile("peaks_"+stamp+".json", jsonWriter(peaks))
	default:
		return "", fmt.Errorf("unknown report kind %q", kind)
	}
}

// writeFile writes through a temporary file so readers never see a partial report.
func (j *ExportJob) writeFile(name string, write func(io.Writer) error) (string, error) {
	tmp, err := os.CreateTemp(j.config.Dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if err := write(tmp); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	path := filepath.Join(j.config.Dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}

func jsonWriter(v any) func(io.Writer) error {
	return func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func (j *ExportJob) updateMetrics(result *ExportResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.ReportsWritten += int64(result.Successful)
	j.metrics.ReportsFailed += int64(result.Failed)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *ExportJob) GetMetrics() ExportMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return ExportMetrics{
		TotalRuns:       j.metrics.TotalRuns,
		ReportsWritten:  j.metrics.ReportsWritten,
		ReportsFailed:   j.metrics.ReportsFailed,
		LastRunAt:       j.metrics.LastRunAt,
		LastRunDuration: j.metrics.LastRunDuration,
		TotalDuration:   j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *ExportJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"reports_written":   m.ReportsWritten,
		"reports_failed":    m.ReportsFailed,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}

// Ping checks the log store.
func (j *ExportJob) Ping(ctx context.Context) error {
	return j.repo.Ping(ctx)
}
