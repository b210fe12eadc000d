// Package engine wires a scenario to the VU pool, the ramp executor and the
// metrics aggregator, and turns a finished run into a Report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadgen"
	"github.com/wesleyorama2/rampvu/internal/loadgen/check"
	"github.com/wesleyorama2/rampvu/internal/loadgen/config"
	"github.com/wesleyorama2/rampvu/internal/loadgen/executor"
	"github.com/wesleyorama2/rampvu/internal/loadgen/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadgen/request"
)

// ErrAlreadyRun is returned by Run on a controller that has already run.
var ErrAlreadyRun = errors.New("engine has already run")

// Controller runs one scenario.
//
// Example usage:
//
//	scenario, _ := config.LoadFile("scenario.yaml")
//	ctrl, _ := engine.New(scenario, engine.WithLogger(logger))
//	report, _ := ctrl.Run(ctx)
//	fmt.Printf("checks failed: %d\n", report.ChecksFailed)
type Controller struct {
	scenario *config.Scenario
	logger   *zap.Logger
	client   *http.Client
	identity loadgen.IdentityFunc

	aggregator *metrics.Aggregator
	scheduler  *loadgen.VUScheduler
	executor   executor.Executor

	mu      sync.Mutex
	running bool
	ran     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the client built from the scenario.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		c.client = client
	}
}

// WithIdentityFunc sets how VU identities are generated.
func WithIdentityFunc(fn loadgen.IdentityFunc) Option {
	return func(c *Controller) {
		c.identity = fn
	}
}

// New validates the scenario and prepares a run. An invalid scenario
// yields a *config.ConfigurationError and nothing is started.
func New(scenario *config.Scenario, opts ...Option) (*Controller, error) {
	if scenario == nil {
		errs := &config.ConfigurationError{}
		errs.Add("", "scenario is required")
		return nil, errs
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		scenario: scenario,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	postChecks, getChecks := loadgen.DefaultChecks()
	if scenario.ValidateSchema {
		schema, err := check.CompileSchema(check.MessageResponseSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to compile response schema: %w", err)
		}
		postChecks = append(postChecks, check.BodyMatchesSchema(loadgen.CheckPostBody, schema))
	}

	c.aggregator = metrics.NewAggregator()
	c.scheduler = loadgen.NewVUScheduler(loadgen.SchedulerConfig{
		Builder:    request.NewBuilder(scenario.BaseURL, scenario.Message),
		Aggregator: c.aggregator,
		VU: loadgen.VUOptions{
			ThinkTime:           scenario.ThinkTime,
			TimestampDependency: scenario.TimestampDependency,
			PostChecks:          postChecks,
			GetChecks:           getChecks,
		},
		HTTP:     httpClientConfig(scenario),
		Client:   c.client,
		Identity: c.identity,
		Logger:   c.logger.Named("vus"),
	})

	exec, err := executor.NewExecutor(scenario, c.scheduler, c.aggregator, c.logger.Named("executor"))
	if err != nil {
		return nil, err
	}
	c.executor = exec

	return c, nil
}

func httpClientConfig(s *config.Scenario) loadgen.HTTPClientConfig {
	cfg := loadgen.DefaultHTTPClientConfig()
	if s.RequestTimeout > 0 {
		cfg.Timeout = s.RequestTimeout
	}
	if s.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	cfg.MaxConnsPerHost = s.MaxConnectionsPerHost

	// The pool must hold at least one idle connection per VU.
	if peak := s.MaxTarget(); peak > cfg.MaxIdleConns {
		cfg.MaxIdleConns = peak
	}
	return cfg
}

// Run executes the scenario and blocks until the pool has drained.
// Cancelling ctx or calling Stop ends the ramp early and drains; the
// report is still returned.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	c.ran = true
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.logger.Info("run started",
		zap.String("scenario", c.scenario.Name),
		zap.String("base_url", c.scenario.BaseURL),
		zap.Duration("duration", c.scenario.TotalDuration()),
		zap.Int("max_vus", c.scenario.MaxTarget()),
	)

	result, err := c.executor.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor failed: %w", err)
	}

	report := buildReport(c.scenario, result, c.aggregator.Snapshot())
	c.logger.Info("run finished",
		zap.Int64("requests", report.TotalRequests),
		zap.Int64("checks_failed", report.ChecksFailed),
		zap.Int("not_stopped", report.NotStoppedVUs),
		zap.Bool("interrupted", report.Interrupted),
	)
	return report, nil
}

// Stop ends the ramp early and drains. Safe to call at any time.
func (c *Controller) Stop() {
	c.executor.Stop()
}

// Running reports whether Run is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ActiveVUs returns the current pool size.
func (c *Controller) ActiveVUs() int {
	return c.executor.GetActiveVUs()
}

// Progress returns run progress from 0.0 to 1.0.
func (c *Controller) Progress() float64 {
	return c.executor.GetProgress()
}

// Stats returns live executor statistics.
func (c *Controller) Stats() *executor.Stats {
	return c.executor.GetStats()
}

// Snapshot returns the live metrics.
func (c *Controller) Snapshot() *metrics.Snapshot {
	return c.aggregator.Snapshot()
}

// Scenario returns the scenario being run.
func (c *Controller) Scenario() *config.Scenario {
	return c.scenario
}

// Report summarises a finished run.
type Report struct {
	Name      string        `json:"name"`
	BaseURL   string        `json:"baseUrl"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Interrupted is set when the run was cancelled or stopped early
	Interrupted   bool `json:"interrupted"`
	PeakVUs       int  `json:"peakVUs"`
	SpawnedVUs    int  `json:"spawnedVUs"`
	NotStoppedVUs int  `json:"notStoppedVUs"`

	Iterations      int64   `json:"iterations"`
	TotalRequests   int64   `json:"totalRequests"`
	FailedRequests  int64   `json:"failedRequests"`
	TransportErrors int64   `json:"transportErrors"`
	TotalBytes      int64   `json:"totalBytes"`
	RPS             float64 `json:"rps"`

	Latency  metrics.LatencyStats `json:"latency"`
	Requests []RequestReport      `json:"requests"`

	Checks       []CheckReport `json:"checks"`
	ChecksTotal  int64         `json:"checksTotal"`
	ChecksFailed int64         `json:"checksFailed"`

	ErrorCategories map[string]int64 `json:"errorCategories,omitempty"`
}

// RequestReport contains statistics for one request tag.
type RequestReport struct {
	Tag      string               `json:"tag"`
	Requests int64                `json:"requests"`
	Failed   int64                `json:"failed"`
	Latency  metrics.LatencyStats `json:"latency"`
}

// CheckReport is the pass/fail tally of one named check.
type CheckReport struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	return r.ChecksFailed == 0
}

func buildReport(s *config.Scenario, result *executor.Result, snap *metrics.Snapshot) *Report {
	report := &Report{
		Name:            s.Name,
		BaseURL:         s.BaseURL,
		StartTime:       result.StartTime,
		EndTime:         result.StartTime.Add(result.Elapsed),
		Duration:        result.Elapsed,
		Interrupted:     result.Interrupted,
		PeakVUs:         result.PeakVUs,
		SpawnedVUs:      result.SpawnedVUs,
		NotStoppedVUs:   result.NotStopped,
		Iterations:      snap.Iterations,
		TotalRequests:   snap.TotalRequests,
		FailedRequests:  snap.FailedRequests,
		TransportErrors: snap.TransportErrors,
		TotalBytes:      snap.TotalBytes,
		Latency:         snap.Latency,
		ChecksTotal:     snap.ChecksTotal,
		ChecksFailed:    snap.ChecksFailed,
		ErrorCategories: snap.ErrorCategories,
	}
	if secs := result.Elapsed.Seconds(); secs > 0 {
		report.RPS = float64(snap.TotalRequests) / secs
	}

	for _, tag := range snap.TagNames() {
		ts := snap.Tags[tag]
		report.Requests = append(report.Requests, RequestReport{
			Tag:      tag,
			Requests: ts.Requests,
			Failed:   ts.Failed,
			Latency:  ts.Latency,
		})
	}
	for _, name := range snap.CheckNames() {
		cc := snap.Checks[name]
		report.Checks = append(report.Checks, CheckReport{
			Name:   name,
			Passes: cc.Passes,
			Fails:  cc.Fails,
		})
	}

	return report
}
