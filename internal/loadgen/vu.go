// Package loadgen runs virtual users against the message service and keeps
// the pool of running users.
package loadgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadgen/check"
	"github.com/wesleyorama2/rampvu/internal/loadgen/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadgen/request"
)

// Check names recorded by every VU.
const (
	CheckPostStatus          = "POST: /message: 202"
	CheckPostBody            = "POST: /message: body"
	CheckGetStatus           = "GET: /message: 200"
	CheckTimestampDependency = "GET: /message: timestamp dependency"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU has been created but has not started.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop and is
	// finishing its current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TransportError is a request that never produced an HTTP response.
type TransportError struct {
	Tag string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tag, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// VUOptions controls what a VU does in each iteration.
type VUOptions struct {
	// ThinkTime is the pause after every iteration
	ThinkTime time.Duration

	// TimestampDependency makes the GET carry the timestamp returned by the POST
	TimestampDependency bool

	// PostChecks and GetChecks are evaluated against each response
	PostChecks []check.Predicate
	GetChecks  []check.Predicate
}

// DefaultChecks returns the status predicates for both steps.
func DefaultChecks() (post, get []check.Predicate) {
	post = []check.Predicate{check.StatusEquals(CheckPostStatus, http.StatusAccepted)}
	get = []check.Predicate{check.StatusEquals(CheckGetStatus, http.StatusOK)}
	return post, get
}

// VirtualUser is a single simulated user. It keeps one identity for its
// whole life and loops POST then GET until stopped.
type VirtualUser struct {
	// ID is the 1-based creation order
	ID int

	Identity request.Identity

	client     *http.Client
	builder    *request.Builder
	aggregator *metrics.Aggregator
	opts       VUOptions

	state atomic.Int32

	// stopCh is closed once and stays closed
	stopCh   chan struct{}
	stopOnce sync.Once

	doneCh   chan struct{}
	doneOnce sync.Once

	iterations atomic.Int64
	requests   atomic.Int64
}

// NewVirtualUser creates a VU. It does nothing until Run is called.
func NewVirtualUser(id int, identity request.Identity, client *http.Client, builder *request.Builder, aggregator *metrics.Aggregator, opts VUOptions) *VirtualUser {
	if client == nil {
		client = http.DefaultClient
	}
	return &VirtualUser{
		ID:         id,
		Identity:   identity,
		client:     client,
		builder:    builder,
		aggregator: aggregator,
		opts:       opts,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns the number of completed iterations.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

// Requests returns the number of requests sent.
func (vu *VirtualUser) Requests() int64 {
	return vu.requests.Load()
}

// Run loops iterations until a stop is requested or ctx is cancelled.
// The stop signal is observed before each iteration and during think-time.
// ctx is the hard deadline and also bounds in-flight requests.
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.markStopped()

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))

	for {
		if vu.stopRequested() || ctx.Err() != nil {
			return
		}

		vu.RunIteration(ctx)

		if !vu.think(ctx) {
			return
		}
	}
}

// RunIteration sends the POST, evaluates its checks, then sends the GET
// (or records why it was skipped) and evaluates its checks. It never
// returns early because of a stop request.
func (vu *VirtualUser) RunIteration(ctx context.Context) {
	postReq := vu.builder.Post(vu.Identity)
	postResp := vu.send(ctx, postReq)
	vu.aggregator.RecordChecks(check.Evaluate(postResp, vu.opts.PostChecks))

	getReq, err := vu.nextGet(postResp)
	if err != nil {
		vu.aggregator.RecordChecks([]check.Result{
			check.Failed(CheckTimestampDependency, dependencyCategory(err), err),
		})
	} else {
		getResp := vu.send(ctx, getReq)
		vu.aggregator.RecordChecks(check.Evaluate(getResp, vu.opts.GetChecks))
	}

	vu.iterations.Add(1)
	vu.aggregator.RecordIteration()
}

func (vu *VirtualUser) nextGet(postResp *check.Response) (request.Request, error) {
	if vu.opts.TimestampDependency && postResp.Err != nil {
		return request.Request{}, fmt.Errorf("%w: POST failed: %v", request.ErrDependencyMissing, postResp.Err)
	}
	return vu.builder.Get(vu.Identity, postResp.Body, vu.opts.TimestampDependency)
}

func dependencyCategory(err error) check.Category {
	if errors.Is(err, request.ErrMalformedResponse) {
		return check.CategoryMalformedResponse
	}
	return check.CategoryDependencyMissing
}

// send executes one request and records its sample.
func (vu *VirtualUser) send(ctx context.Context, req request.Request) *check.Response {
	resp := vu.execute(ctx, req)

	vu.requests.Add(1)
	vu.aggregator.RecordRequest(metrics.Sample{
		VUID:          vu.ID,
		Tag:           req.Tag,
		Latency:       resp.Latency,
		StatusCode:    resp.StatusCode,
		BytesReceived: int64(len(resp.Body)),
		Err:           resp.Err,
	})

	return resp
}

func (vu *VirtualUser) execute(ctx context.Context, req request.Request) *check.Response {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return &check.Response{Err: &TransportError{Tag: req.Tag, Err: fmt.Errorf("failed to build request: %w", err)}}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	start := time.Now()
	httpResp, err := vu.client.Do(httpReq)
	if err != nil {
		return &check.Response{
			Latency: time.Since(start),
			Err:     &TransportError{Tag: req.Tag, Err: err},
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	latency := time.Since(start)
	if err != nil {
		return &check.Response{
			StatusCode: httpResp.StatusCode,
			Latency:    latency,
			Err:        &TransportError{Tag: req.Tag, Err: fmt.Errorf("failed to read response body: %w", err)},
		}
	}

	return &check.Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Latency:    latency,
	}
}

// think waits out the think-time. It returns false when the VU should exit.
func (vu *VirtualUser) think(ctx context.Context) bool {
	if vu.opts.ThinkTime <= 0 {
		return !vu.stopRequested() && ctx.Err() == nil
	}

	timer := time.NewTimer(vu.opts.ThinkTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (vu *VirtualUser) stopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop asks the VU to stop after its current iteration.
// It is safe to call more than once and from any goroutine.
func (vu *VirtualUser) RequestStop() {
	vu.stopOnce.Do(func() {
		if !vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) {
			vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping))
		}
		close(vu.stopCh)
	})
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed once the VU has stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}
