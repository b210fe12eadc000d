// Package metrics aggregates request samples and check results from all
// virtual users into summary statistics.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/rampvu/internal/loadgen/check"
)

// Phase is the ramp phase a scenario is in.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDrain    Phase = "drain"
	PhaseDone     Phase = "done"
)

// CategoryAssertion labels checks that failed on their own predicate.
const CategoryAssertion = "assertion"

// Sample is one completed (or failed) HTTP request.
type Sample struct {
	VUID          int
	Tag           string
	Latency       time.Duration
	StatusCode    int
	BytesReceived int64

	// Err is set for transport failures
	Err error
}

// Failed reports whether the sample counts as a failed request.
func (s Sample) Failed() bool {
	return s.Err != nil || s.StatusCode >= 400
}

// Aggregator collects metrics from every VU.
//
// # Thread Safety
//
// All Record methods are safe for concurrent use. Counters and histograms
// share one mutex so that a snapshot is a consistent point-in-time copy;
// the lock is only held while counters are updated or copied.
type Aggregator struct {
	mu sync.Mutex

	// Overall and per-tag latency, in microseconds
	latencyHist *hdrhistogram.Histogram
	tagHists    map[string]*hdrhistogram.Histogram

	totalRequests   int64
	failedRequests  int64
	transportErrors int64
	totalBytes      int64
	iterations      int64

	tagCounts  map[string]*TagCounts
	vuRequests map[int]int64

	checks      map[string]*CheckCounts
	checkTotal  int64
	checkFailed int64
	categories  map[string]int64

	// Live state, written by the ramp controller
	activeVUs atomic.Int32
	phase     atomic.Value

	startTime time.Time
	config    Config
}

// Config contains configuration for the aggregator histograms.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// TagCounts holds request counters for one tag.
type TagCounts struct {
	Requests int64 `json:"requests"`
	Failed   int64 `json:"failed"`
}

// CheckCounts holds pass/fail counters for one check name.
type CheckCounts struct {
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// NewAggregator creates an aggregator with default configuration.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultConfig())
}

// NewAggregatorWithConfig creates an aggregator with custom histogram bounds.
func NewAggregatorWithConfig(config Config) *Aggregator {
	a := &Aggregator{
		config:    config,
		startTime: time.Now(),
	}
	a.resetLocked()
	a.phase.Store(PhaseInit)
	return a
}

func (a *Aggregator) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs)
}

// RecordRequest ingests one request sample.
func (a *Aggregator) RecordRequest(s Sample) {
	latencyMicros := s.Latency.Microseconds()
	if latencyMicros < a.config.HistogramMin {
		latencyMicros = a.config.HistogramMin
	}
	if latencyMicros > a.config.HistogramMax {
		latencyMicros = a.config.HistogramMax
	}
	failed := s.Failed()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalRequests++
	a.totalBytes += s.BytesReceived
	a.vuRequests[s.VUID]++
	if failed {
		a.failedRequests++
	}
	if s.Err != nil {
		a.transportErrors++
	}

	tc, ok := a.tagCounts[s.Tag]
	if !ok {
		tc = &TagCounts{}
		a.tagCounts[s.Tag] = tc
	}
	tc.Requests++
	if failed {
		tc.Failed++
	}

	// Transport failures have no meaningful latency.
	if s.Err != nil {
		return
	}

	_ = a.latencyHist.RecordValue(latencyMicros)
	hist, ok := a.tagHists[s.Tag]
	if !ok {
		hist = a.newHistogram()
		a.tagHists[s.Tag] = hist
	}
	_ = hist.RecordValue(latencyMicros)
}

// RecordChecks ingests the check results of one evaluation.
func (a *Aggregator) RecordChecks(results []check.Result) {
	if len(results) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range results {
		a.checkTotal++

		cc, ok := a.checks[r.Name]
		if !ok {
			cc = &CheckCounts{}
			a.checks[r.Name] = cc
		}

		if r.Passed {
			cc.Passes++
			continue
		}

		cc.Fails++
		a.checkFailed++
		category := string(r.Category)
		if category == "" {
			category = CategoryAssertion
		}
		a.categories[category]++
	}
}

// RecordIteration counts one completed iteration.
func (a *Aggregator) RecordIteration() {
	a.mu.Lock()
	a.iterations++
	a.mu.Unlock()
}

// SetActiveVUs updates the active VU count.
func (a *Aggregator) SetActiveVUs(count int) {
	a.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (a *Aggregator) GetActiveVUs() int {
	return int(a.activeVUs.Load())
}

// SetPhase updates the current phase.
func (a *Aggregator) SetPhase(phase Phase) {
	a.phase.Store(phase)
}

// GetPhase returns the current phase.
func (a *Aggregator) GetPhase() Phase {
	return a.phase.Load().(Phase)
}

// Snapshot returns a consistent point-in-time copy of all metrics.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	snap := &Snapshot{
		TotalRequests:   a.totalRequests,
		FailedRequests:  a.failedRequests,
		TransportErrors: a.transportErrors,
		TotalBytes:      a.totalBytes,
		Iterations:      a.iterations,
		ChecksTotal:     a.checkTotal,
		ChecksFailed:    a.checkFailed,
		Tags:            make(map[string]TagStats, len(a.tagCounts)),
		VURequests:      make(map[int]int64, len(a.vuRequests)),
		Checks:          make(map[string]CheckCounts, len(a.checks)),
		ErrorCategories: make(map[string]int64, len(a.categories)),
	}
	for id, n := range a.vuRequests {
		snap.VURequests[id] = n
	}
	for name, cc := range a.checks {
		snap.Checks[name] = *cc
	}
	for cat, n := range a.categories {
		snap.ErrorCategories[cat] = n
	}

	overall := a.latencyHist.Export()
	tagExports := make(map[string]*hdrhistogram.Snapshot, len(a.tagHists))
	for tag, h := range a.tagHists {
		tagExports[tag] = h.Export()
	}
	for tag, tc := range a.tagCounts {
		snap.Tags[tag] = TagStats{Requests: tc.Requests, Failed: tc.Failed}
	}
	a.mu.Unlock()

	// Percentiles are computed on the copies, outside the lock.
	snap.Latency = latencyStats(hdrhistogram.Import(overall))
	for tag, exp := range tagExports {
		ts := snap.Tags[tag]
		ts.Latency = latencyStats(hdrhistogram.Import(exp))
		snap.Tags[tag] = ts
	}

	snap.ActiveVUs = a.GetActiveVUs()
	snap.Phase = a.GetPhase()
	snap.StartTime = a.startTime
	snap.Timestamp = time.Now()
	snap.Elapsed = snap.Timestamp.Sub(a.startTime)
	if secs := snap.Elapsed.Seconds(); secs > 0 {
		snap.RPS = float64(snap.TotalRequests) / secs
	}
	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.FailedRequests) / float64(snap.TotalRequests)
	}

	return snap
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// Reset clears all metrics and restarts the clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.startTime = time.Now()
	a.mu.Unlock()

	a.activeVUs.Store(0)
	a.phase.Store(PhaseInit)
}

func (a *Aggregator) resetLocked() {
	a.latencyHist = a.newHistogram()
	a.tagHists = make(map[string]*hdrhistogram.Histogram)
	a.tagCounts = make(map[string]*TagCounts)
	a.vuRequests = make(map[int]int64)
	a.checks = make(map[string]*CheckCounts)
	a.categories = make(map[string]int64)
	a.totalRequests = 0
	a.failedRequests = 0
	a.transportErrors = 0
	a.totalBytes = 0
	a.iterations = 0
	a.checkTotal = 0
	a.checkFailed = 0
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64                  `json:"totalRequests"`
	FailedRequests  int64                  `json:"failedRequests"`
	TransportErrors int64                  `json:"transportErrors"`
	TotalBytes      int64                  `json:"totalBytes"`
	Iterations      int64                  `json:"iterations"`
	Latency         LatencyStats           `json:"latency"`
	Tags            map[string]TagStats    `json:"tags"`
	VURequests      map[int]int64          `json:"vuRequests,omitempty"`
	Checks          map[string]CheckCounts `json:"checks"`
	ChecksTotal     int64                  `json:"checksTotal"`
	ChecksFailed    int64                  `json:"checksFailed"`
	ErrorCategories map[string]int64       `json:"errorCategories,omitempty"`
	RPS             float64                `json:"rps"`
	ErrorRate       float64                `json:"errorRate"`
	ActiveVUs       int                    `json:"activeVUs"`
	Phase           Phase                  `json:"phase"`
	Elapsed         time.Duration          `json:"elapsed"`
	StartTime       time.Time              `json:"startTime"`
	Timestamp       time.Time              `json:"timestamp"`
}

// CheckNames returns the check names in sorted order.
func (s *Snapshot) CheckNames() []string {
	names := make([]string, 0, len(s.Checks))
	for name := range s.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TagNames returns the request tags in sorted order.
func (s *Snapshot) TagNames() []string {
	names := make([]string, 0, len(s.Tags))
	for name := range s.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TagStats contains counters and latency for one request tag.
type TagStats struct {
	Requests int64        `json:"requests"`
	Failed   int64        `json:"failed"`
	Latency  LatencyStats `json:"latency"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
