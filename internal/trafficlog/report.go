package trafficlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/samber/lo"
)

// FixedCycleGreen is the green time, in seconds, of a conventional fixed-cycle
// signal. Efficiency reports compare adaptive green against it.
const FixedCycleGreen = 30

// Efficiency compares the adaptive green time of a logged lane with a fixed cycle.
type Efficiency struct {
	Lane          string  `json:"lane"`
	AdaptiveGreen float64 `json:"adaptive_green_seconds"`
	FixedGreen    int     `json:"fixed_green_seconds"`
	Difference    float64 `json:"difference_seconds"`
	Samples       int     `json:"samples"`
}

// EfficiencyReport returns the efficiency of every lane in want, plus any other
// lane present in the log. Lanes never logged report zero adaptive green.
func EfficiencyReport(ctx context.Context, repo Repository, want []string, fixedGreen int) ([]Efficiency, error) {
	greens, err := repo.AverageGreenByLane(ctx)
	if err != nil {
		return nil, fmt.Errorf("average green by lane: %w", err)
	}

	byLane := lo.KeyBy(greens, func(g LaneGreen) string { return g.Lane })
	lanes := lo.Uniq(append(append([]string{}, want...), lo.Map(greens, func(g LaneGreen, _ int) string { return g.Lane })...))

	return lo.Map(lanes, func(lane string, _ int) Efficiency {
		g := byLane[lane]
		return Efficiency{
			Lane:          lane,
			AdaptiveGreen: g.AverageGreen,
			FixedGreen:    fixedGreen,
			Difference:    g.AverageGreen - float64(fixedGreen),
			Samples:       g.Samples,
		}
	}), nil
}

// ReportFileName returns the export file name for a report generated at t.
func ReportFileName(t time.Time) string {
	return "traffic_report_" + t.UTC().Format("20060102_150405") + ".csv"
}

// WriteReport writes every signal log followed by every violation as CSV.
// The two sections are separated by a blank line and introduced by a title row.
func WriteReport(ctx context.Context, w io.Writer, repo Repository) error {
	signals, err := repo.ListSignals(ctx, 0)
	if err != nil {
		return fmt.Errorf("list signal logs: %w", err)
	}
	violations, err := repo.ListViolations(ctx, 0)
	if err != nil {
		return fmt.Errorf("list violations: %w", err)
	}

	cw := csv.NewWriter(w)

	records := [][]string{
		{"Signal Logs"},
		{"ID", "Timestamp", "Lane", "Load", "Green Seconds", "Emergency", "Reason", "Day Of Week", "Hour"},
	}
	for _, s := range signals {
		records = append(records, []string{
			s.ID,
			s.Timestamp.UTC().Format(time.RFC3339),
			s.Lane,
			strconv.Itoa(s.LoadScore),
			strconv.Itoa(s.GreenSeconds),
			strconv.FormatBool(s.Emergency),
			s.Reason,
			strconv.Itoa(s.DayOfWeek),
			strconv.Itoa(s.Hour),
		})
	}

	records = append(records,
		[]string{},
		[]string{"Violations"},
		[]string{"ID", "Timestamp", "Lane", "Violation", "Amount", "Snapshot"},
	)
	for _, v := range violations {
		records = append(records, []string{
			v.ID,
			v.Timestamp.UTC().Format(time.RFC3339),
			v.Lane,
			v.Type,
			strconv.Itoa(v.PenaltyAmount),
			v.SnapshotPath,
		})
	}

	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
