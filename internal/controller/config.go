// Package controller runs the junction control loop: it reads lane snapshots,
// asks the phase engine for decisions, drives the signal display, captures
// red-light violations and hands everything to the log store asynchronously.
package controller

import (
	"errors"
	"time"
)

// Controller errors.
var (
	ErrNotConfigured  = errors.New("controller is not configured")
	ErrUnknownCommand = errors.New("unknown command")
)

// Config holds configuration for the control loop.
type Config struct {
	// TickInterval is how often the loop samples the feed.
	// Default: 1 second
	TickInterval time.Duration `yaml:"tick_interval"`

	// ViolationLoadThreshold is the load above which a red lane counts as running the light.
	// Default: 5
	ViolationLoadThreshold int `yaml:"violation_load_threshold"`

	// ViolationCooldown is the minimum gap between violations on one lane.
	// Default: 3 seconds
	ViolationCooldown time.Duration `yaml:"violation_cooldown"`

	// ViolationPenalty is the fine recorded per violation.
	// Default: 500
	ViolationPenalty int `yaml:"violation_penalty"`

	// ManualOverrideDuration is how long an operator override holds a lane green.
	// Default: 15 seconds
	ManualOverrideDuration time.Duration `yaml:"manual_override_duration"`
}

// DefaultConfig returns the default control loop configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:           time.Second,
		ViolationLoadThreshold: 5,
		ViolationCooldown:      3 * time.Second,
		ViolationPenalty:       500,
		ManualOverrideDuration: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.ViolationCooldown <= 0 {
		c.ViolationCooldown = d.ViolationCooldown
	}
	if c.ManualOverrideDuration <= 0 {
		c.ManualOverrideDuration = d.ManualOverrideDuration
	}
	return c
}
