package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadgen"
	"github.com/wesleyorama2/rampvu/internal/loadgen/config"
	"github.com/wesleyorama2/rampvu/internal/loadgen/metrics"
)

// DesiredVUs returns the pool size the stages call for at elapsed.
//
// A stage with a duration interpolates linearly from the previous target
// (startVUs for the first stage) over (start, end], rounded to nearest and
// clamped between the two targets. A zero-duration stage is a step applied
// once elapsed is strictly past its start. After the last stage the last
// target holds.
func DesiredVUs(startVUs int, stages []config.Stage, elapsed time.Duration) int {
	if elapsed <= 0 {
		return startVUs
	}

	prev := startVUs
	var stageStart time.Duration

	for _, stage := range stages {
		if stage.Duration == 0 {
			prev = stage.Target
			continue
		}

		stageEnd := stageStart + stage.Duration
		if elapsed <= stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			vus := int(float64(prev) + float64(stage.Target-prev)*progress + 0.5)
			return clamp(vus, min(prev, stage.Target), max(prev, stage.Target))
		}

		prev = stage.Target
		stageStart = stageEnd
	}

	return prev
}

// StageIndex returns the index of the stage in effect at elapsed.
func StageIndex(stages []config.Stage, elapsed time.Duration) int {
	if len(stages) == 0 {
		return 0
	}

	var stageStart time.Duration
	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration
		if elapsed <= stageEnd && (stage.Duration > 0 || elapsed <= 0) {
			return i
		}
		stageStart = stageEnd
	}
	return len(stages) - 1
}

// StageBoundaries returns the ends of ramp stages strictly between after
// and before, in order. The control loop applies each one before the tick
// at before, so a ramp's end target is held even when the next stage is a
// step and the boundary falls between two ticks.
func StageBoundaries(stages []config.Stage, after, before time.Duration) []time.Duration {
	var out []time.Duration
	var end time.Duration
	for _, stage := range stages {
		if stage.Duration == 0 {
			continue
		}
		end += stage.Duration
		if end > after && end < before {
			out = append(out, end)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RampingVUs ramps VU count up and down according to stages.
//
// The pool is adjusted once at start and then on every control tick. When
// the stages end, or the run is stopped, every VU is asked to stop and the
// executor waits up to the drain timeout before cancelling the context the
// VUs run under.
//
// Example stages:
//
//	stages:
//	  - duration: 2s
//	    target: 10     # Ramp from startVUs to 10 VUs over 2s
//	  - duration: 0
//	    target: 100    # Jump to 100 VUs
//	  - duration: 28s
//	    target: 100    # Hold
type RampingVUs struct {
	scenario   *config.Scenario
	scheduler  *loadgen.VUScheduler
	aggregator *metrics.Aggregator
	logger     *zap.Logger

	mu        sync.RWMutex
	startTime time.Time

	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	started      atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(scenario *config.Scenario, scheduler *loadgen.VUScheduler, aggregator *metrics.Aggregator, logger *zap.Logger) *RampingVUs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RampingVUs{
		scenario:   scenario,
		scheduler:  scheduler,
		aggregator: aggregator,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Run starts the executor and blocks until the pool has drained.
func (e *RampingVUs) Run(ctx context.Context) (*Result, error) {
	if len(e.scenario.Stages) == 0 {
		return nil, ErrNoStages
	}
	if e.scenario.ControlTick <= 0 {
		return nil, ErrInvalidTick
	}
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	// VUs outlive ctx so that cancelling it drains instead of aborting
	// in-flight requests. hardCancel is the last resort after the drain.
	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	total := e.scenario.TotalDuration()
	e.logger.Info("ramp started",
		zap.Int("start_vus", e.scenario.StartVUs),
		zap.Int("stages", len(e.scenario.Stages)),
		zap.Duration("duration", total),
	)

	e.adjust(hardCtx, 0)

	ticker := time.NewTicker(e.scenario.ControlTick)
	defer ticker.Stop()
	deadline := time.NewTimer(total)
	defer deadline.Stop()

	tick := e.scenario.ControlTick
	var last time.Duration
	interrupted := false
loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			e.logger.Info("run cancelled", zap.Error(ctx.Err()))
			break loop
		case <-e.stopCh:
			interrupted = true
			e.logger.Info("run stopped")
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
			// Ticks fire slightly late; evaluate at the nominal tick time.
			now := time.Since(start).Round(tick)
			for _, boundary := range StageBoundaries(e.scenario.Stages, last, now) {
				e.adjust(hardCtx, boundary)
			}
			e.adjust(hardCtx, now)
			last = now
		}
	}

	notStopped := e.drain(hardCancel)

	e.aggregator.SetPhase(metrics.PhaseDone)
	result := &Result{
		StartTime:   start,
		Elapsed:     time.Since(start),
		Interrupted: interrupted,
		PeakVUs:     e.scheduler.PeakVUs(),
		SpawnedVUs:  e.scheduler.Spawned(),
		NotStopped:  notStopped,
	}
	e.logger.Info("ramp done",
		zap.Duration("elapsed", result.Elapsed),
		zap.Int("peak_vus", result.PeakVUs),
		zap.Bool("interrupted", interrupted),
	)
	return result, nil
}

// adjust resizes the pool for elapsed and updates the phase.
func (e *RampingVUs) adjust(ctx context.Context, elapsed time.Duration) {
	stages := e.scenario.Stages
	target := DesiredVUs(e.scenario.StartVUs, stages, elapsed)
	e.targetVUs.Store(int32(target))

	idx := StageIndex(stages, elapsed)
	if prev := e.currentStage.Swap(int32(idx)); int(prev) != idx {
		e.logger.Info("stage changed",
			zap.Int("stage", idx),
			zap.Int("target", stages[idx].Target),
			zap.Duration("duration", stages[idx].Duration),
		)
	}
	e.aggregator.SetPhase(e.phaseFor(idx))

	spawned, stopped := e.scheduler.ScaleTo(ctx, target)
	if len(spawned) > 0 || len(stopped) > 0 {
		e.logger.Debug("pool adjusted",
			zap.Int("target", target),
			zap.Int("spawned", len(spawned)),
			zap.Ints("stopped", stopped),
		)
	}
}

func (e *RampingVUs) phaseFor(idx int) metrics.Phase {
	stages := e.scenario.Stages
	if len(stages) == 0 {
		return metrics.PhaseSteady
	}

	prev := e.scenario.StartVUs
	if idx > 0 {
		prev = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// drain stops every VU and waits up to the drain timeout. Stragglers are
// released by cancelling the hard context. It returns how many VUs had not
// stopped in time.
func (e *RampingVUs) drain(hardCancel context.CancelFunc) int {
	e.aggregator.SetPhase(metrics.PhaseDrain)

	stopped := e.scheduler.StopAll()
	e.logger.Info("draining",
		zap.Int("vus", len(stopped)),
		zap.Duration("timeout", e.scenario.DrainTimeout),
	)

	notStopped := e.scheduler.WaitForAll(e.scenario.DrainTimeout)
	if notStopped > 0 {
		e.logger.Warn("drain timeout expired, cancelling in-flight requests",
			zap.Int("not_stopped", notStopped),
		)
	}

	hardCancel()
	e.scheduler.Wait()
	e.scheduler.Close()
	return notStopped
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if !e.running.Load() {
		if !e.started.Load() {
			return 0.0
		}
		return 1.0
	}

	total := e.scenario.TotalDuration()
	if total == 0 {
		return 1.0
	}

	e.mu.RLock()
	elapsed := time.Since(e.startTime)
	e.mu.RUnlock()

	progress := float64(elapsed) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	return e.scheduler.ActiveCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	return &Stats{
		StartTime:     start,
		CurrentTime:   time.Now(),
		Elapsed:       elapsed,
		TotalDuration: e.scenario.TotalDuration(),
		ActiveVUs:     e.scheduler.ActiveCount(),
		TargetVUs:     int(e.targetVUs.Load()),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.scenario.Stages),
	}
}

// Stop ends the run early. It is safe to call more than once.
func (e *RampingVUs) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
