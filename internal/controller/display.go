package controller

import (
	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/junction"
)

// Display is the signal head the controller drives.
type Display interface {
	ShowPhase(d junction.PhaseDecision)
}

// LogDisplay renders phase changes as log lines.
type LogDisplay struct {
	logger zerolog.Logger
}

// NewLogDisplay creates a display that logs every phase change.
func NewLogDisplay(logger zerolog.Logger) *LogDisplay {
	return &LogDisplay{logger: logger}
}

// ShowPhase logs the lanes that are green and red.
func (d *LogDisplay) ShowPhase(p junction.PhaseDecision) {
	green := make([]string, 0, 2)
	red := make([]string, 0, 4)
	for _, lane := range junction.Lanes() {
		if p.IsGreen(lane) {
			green = append(green, string(lane))
		} else {
			red = append(red, string(lane))
		}
	}

	d.logger.Info().
		Str("pair", string(p.ActivePair)).
		Strs("green", green).
		Strs("red", red).
		Int("duration_s", p.DurationSeconds).
		Str("reason", p.Reason.String()).
		Msg("signal phase")
}
