// Package config provides scenario configuration parsing and validation for the load generator.
package config

import (
	"time"
)

// ExecutorRampingVUs is the only supported executor kind.
const ExecutorRampingVUs = "ramping-vus"

// Defaults applied to fields left empty in a scenario file.
const (
	DefaultThinkTime      = 100 * time.Millisecond
	DefaultControlTick    = time.Second
	DefaultDrainTimeout   = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultMessage        = "Hello, World!"
)

// File is the on-disk representation of a scenario.
//
// Example YAML:
//
//	name: "message-api"
//	baseUrl: "http://localhost:1323"
//	executor: ramping-vus
//	startVUs: 1
//	thinkTime: 100ms
//	stages:
//	  - target: 10
//	    duration: 2s
//	  - target: 100
//	    duration: "0"
//	  - target: 100
//	    duration: 28s
type File struct {
	// Name of the scenario (for reporting)
	Name string `json:"name" yaml:"name"`

	// BaseURL of the message service under test
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Executor kind, only "ramping-vus" is accepted
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// StartVUs is the VU count before the first stage begins
	StartVUs *int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Stages defines the ramp profile
	Stages []StageFile `json:"stages" yaml:"stages"`

	// ThinkTime is the pause between iterations (e.g. "100ms")
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Tick is how often the desired VU count is recomputed
	Tick string `json:"tick,omitempty" yaml:"tick,omitempty"`

	// GracefulStop bounds the drain phase
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// RequestTimeout is the HTTP client timeout
	RequestTimeout string `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`

	// Message is sent in every POST body
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// TimestampDependency makes GET carry the timestamp returned by POST
	TimestampDependency *bool `json:"timestampDependency,omitempty" yaml:"timestampDependency,omitempty"`

	// ValidateSchema adds a JSON schema check on the POST response body
	ValidateSchema bool `json:"validateSchema,omitempty" yaml:"validateSchema,omitempty"`

	// HTTP connection pool tuning
	MaxIdleConnsPerHost   int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`
}

// StageFile is a single stage as written in a scenario file.
type StageFile struct {
	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Duration of the stage (e.g. "30s", "0")
	Duration string `json:"duration" yaml:"duration"`
}

// Scenario is the validated, typed configuration of one load test run.
// It is built once and not mutated afterwards.
type Scenario struct {
	Name                  string
	BaseURL               string
	Executor              string
	StartVUs              int
	Stages                []Stage
	ThinkTime             time.Duration
	ControlTick           time.Duration
	DrainTimeout          time.Duration
	RequestTimeout        time.Duration
	Message               string
	TimestampDependency   bool
	ValidateSchema        bool
	MaxIdleConnsPerHost   int
	MaxConnectionsPerHost int
}

// Stage is one segment of the ramp profile.
type Stage struct {
	Target   int           `json:"target"`
	Duration time.Duration `json:"duration"`
}

// NewScenario returns a scenario with defaults and the given stages.
func NewScenario(baseURL string, startVUs int, stages ...Stage) *Scenario {
	return &Scenario{
		Name:                "default",
		BaseURL:             baseURL,
		Executor:            ExecutorRampingVUs,
		StartVUs:            startVUs,
		Stages:              stages,
		ThinkTime:           DefaultThinkTime,
		ControlTick:         DefaultControlTick,
		DrainTimeout:        DefaultDrainTimeout,
		RequestTimeout:      DefaultRequestTimeout,
		Message:             DefaultMessage,
		TimestampDependency: true,
	}
}

// TotalDuration returns the sum of all stage durations.
func (s *Scenario) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range s.Stages {
		total += stage.Duration
	}
	return total
}

// MaxTarget returns the highest VU count the scenario can reach.
func (s *Scenario) MaxTarget() int {
	maxVUs := s.StartVUs
	for _, stage := range s.Stages {
		if stage.Target > maxVUs {
			maxVUs = stage.Target
		}
	}
	return maxVUs
}
