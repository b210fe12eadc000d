// Package executor drives the VU pool over time.
package executor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("executor already started")

	// ErrNoStages is returned by Run for a scenario without stages.
	ErrNoStages = errors.New("at least one stage is required")

	// ErrInvalidTick is returned by Run when the control tick is not positive.
	ErrInvalidTick = errors.New("control tick must be greater than 0")
)

// Type identifies the type of executor.
type Type string

const (
	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// Executor defines the interface for load generation strategies.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Run drives the pool until the stages finish, ctx is cancelled or
	// Stop is called, then drains. It may be called once.
	Run(ctx context.Context) (*Result, error)

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early. Run still drains before returning.
	Stop()
}

// Result is what a finished run reports about the pool.
type Result struct {
	StartTime time.Time     `json:"startTime"`
	Elapsed   time.Duration `json:"elapsed"`

	// Interrupted is set when the run ended before the last stage
	Interrupted bool `json:"interrupted"`

	PeakVUs    int `json:"peakVUs"`
	SpawnedVUs int `json:"spawnedVUs"`

	// NotStopped counts VUs still running when the drain timeout expired
	NotStopped int `json:"notStopped"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Stage info
	CurrentStage int `json:"currentStage"`
	TotalStages  int `json:"totalStages"`
}
