package loadgen_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rampvu/internal/loadgen"
	"github.com/wesleyorama2/rampvu/internal/loadgen/check"
	"github.com/wesleyorama2/rampvu/internal/loadgen/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadgen/request"
)

var testIdentity = request.Identity{UserID: "user-1", SessionID: "session-1"}

// messageService mimics the target service. postBody is what POST returns.
type messageService struct {
	postBody string

	mu       sync.Mutex
	calls    []string
	lastGet  *http.Request
	getCount atomic.Int64
}

func (m *messageService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls = append(m.calls, r.Method)
	m.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(m.postBody))
	case http.MethodGet:
		m.mu.Lock()
		m.lastGet = r
		m.mu.Unlock()
		m.getCount.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messages": []}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *messageService) methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func newTestVU(t *testing.T, baseURL string, opts loadgen.VUOptions) (*loadgen.VirtualUser, *metrics.Aggregator) {
	t.Helper()
	if opts.PostChecks == nil && opts.GetChecks == nil {
		opts.PostChecks, opts.GetChecks = loadgen.DefaultChecks()
	}
	agg := metrics.NewAggregator()
	vu := loadgen.NewVirtualUser(1, testIdentity, &http.Client{Timeout: 5 * time.Second},
		request.NewBuilder(baseURL, "Hello, World!"), agg, opts)
	return vu, agg
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state loadgen.VUState
		want  string
	}{
		{loadgen.VUStateIdle, "idle"},
		{loadgen.VUStateRunning, "running"},
		{loadgen.VUStateStopping, "stopping"},
		{loadgen.VUStateStopped, "stopped"},
		{loadgen.VUState(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestVirtualUser_HealthyIteration(t *testing.T) {
	svc := &messageService{postBody: `{"timestamp": 1717171717171}`}
	server := httptest.NewServer(svc)
	defer server.Close()

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{TimestampDependency: true})
	assert.Equal(t, loadgen.VUStateIdle, vu.GetState())

	vu.RunIteration(context.Background())

	snap := agg.Snapshot()
	assert.Equal(t, int64(2), snap.ChecksTotal)
	assert.Equal(t, int64(0), snap.ChecksFailed)
	assert.Equal(t, metrics.CheckCounts{Passes: 1}, snap.Checks[loadgen.CheckPostStatus])
	assert.Equal(t, metrics.CheckCounts{Passes: 1}, snap.Checks[loadgen.CheckGetStatus])
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.Iterations)
	assert.Equal(t, int64(2), vu.Requests())
	assert.Equal(t, int64(1), vu.Iterations())

	assert.Equal(t, []string{http.MethodPost, http.MethodGet}, svc.methods())

	svc.mu.Lock()
	q := svc.lastGet.URL.Query()
	svc.mu.Unlock()
	assert.Equal(t, "user-1", q.Get("userId"))
	assert.Equal(t, "session-1", q.Get("sessionId"))
	assert.Equal(t, "1717171717171", q.Get("timestamp"))
}

func TestVirtualUser_MissingTimestamp(t *testing.T) {
	svc := &messageService{postBody: `{"status": "accepted"}`}
	server := httptest.NewServer(svc)
	defer server.Close()

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{TimestampDependency: true})

	vu.RunIteration(context.Background())
	vu.RunIteration(context.Background())

	snap := agg.Snapshot()
	assert.Equal(t, int64(0), svc.getCount.Load(), "GET must be skipped")
	assert.Equal(t, metrics.CheckCounts{Fails: 2}, snap.Checks[loadgen.CheckTimestampDependency])
	assert.Equal(t, int64(2), snap.ErrorCategories[string(check.CategoryDependencyMissing)])
	assert.NotContains(t, snap.Checks, loadgen.CheckGetStatus)
	assert.Equal(t, int64(2), snap.Iterations, "the VU keeps iterating")
}

func TestVirtualUser_MalformedPostBody(t *testing.T) {
	svc := &messageService{postBody: `<html>not json</html>`}
	server := httptest.NewServer(svc)
	defer server.Close()

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{TimestampDependency: true})
	vu.RunIteration(context.Background())

	snap := agg.Snapshot()
	assert.Equal(t, int64(0), svc.getCount.Load())
	assert.Equal(t, metrics.CheckCounts{Fails: 1}, snap.Checks[loadgen.CheckTimestampDependency])
	assert.Equal(t, int64(1), snap.ErrorCategories[string(check.CategoryMalformedResponse)])
}

func TestVirtualUser_WithoutTimestampDependency(t *testing.T) {
	svc := &messageService{postBody: `{}`}
	server := httptest.NewServer(svc)
	defer server.Close()

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{TimestampDependency: false})
	vu.RunIteration(context.Background())

	snap := agg.Snapshot()
	assert.Equal(t, int64(0), snap.ChecksFailed)
	assert.Equal(t, int64(1), svc.getCount.Load())

	svc.mu.Lock()
	q := svc.lastGet.URL.Query()
	svc.mu.Unlock()
	assert.False(t, q.Has("timestamp"))
}

func TestVirtualUser_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	vu, agg := newTestVU(t, url, loadgen.VUOptions{TimestampDependency: true})
	vu.RunIteration(context.Background())
	vu.RunIteration(context.Background())

	snap := agg.Snapshot()
	assert.Equal(t, metrics.CheckCounts{Fails: 2}, snap.Checks[loadgen.CheckPostStatus])
	assert.Equal(t, metrics.CheckCounts{Fails: 2}, snap.Checks[loadgen.CheckTimestampDependency])
	assert.Equal(t, int64(2), snap.ErrorCategories[string(check.CategoryTransport)])
	assert.Equal(t, int64(2), snap.ErrorCategories[string(check.CategoryDependencyMissing)])
	assert.Equal(t, int64(2), snap.TransportErrors)
	assert.Equal(t, int64(2), snap.Iterations)
}

func TestVirtualUser_SchemaCheck(t *testing.T) {
	svc := &messageService{postBody: `{"timestamp": true}`}
	server := httptest.NewServer(svc)
	defer server.Close()

	schema, err := check.CompileSchema(check.MessageResponseSchema)
	require.NoError(t, err)

	post, get := loadgen.DefaultChecks()
	post = append(post, check.BodyMatchesSchema(loadgen.CheckPostBody, schema))

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{
		TimestampDependency: true,
		PostChecks:          post,
		GetChecks:           get,
	})
	vu.RunIteration(context.Background())

	snap := agg.Snapshot()
	assert.Equal(t, metrics.CheckCounts{Passes: 1}, snap.Checks[loadgen.CheckPostStatus])
	assert.Equal(t, metrics.CheckCounts{Fails: 1}, snap.Checks[loadgen.CheckPostBody])
	assert.Equal(t, metrics.CheckCounts{Fails: 1}, snap.Checks[loadgen.CheckTimestampDependency])
}

func TestVirtualUser_StopDuringThinkTime(t *testing.T) {
	svc := &messageService{postBody: `{"timestamp": 1}`}
	server := httptest.NewServer(svc)
	defer server.Close()

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{
		TimestampDependency: true,
		ThinkTime:           10 * time.Second,
	})

	go vu.Run(context.Background())

	require.Eventually(t, func() bool {
		return agg.Snapshot().Iterations >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, loadgen.VUStateRunning, vu.GetState())

	start := time.Now()
	vu.RequestStop()
	vu.RequestStop()

	require.True(t, vu.WaitForStop(time.Second), "stop must interrupt think-time")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, loadgen.VUStateStopped, vu.GetState())
	assert.Equal(t, int64(1), vu.Iterations())
}

func TestVirtualUser_StopCompletesInFlightIteration(t *testing.T) {
	release := make(chan struct{})
	var posts, gets atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			<-release
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"timestamp": 42}`))
			return
		}
		gets.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{TimestampDependency: true})
	go vu.Run(context.Background())

	require.Eventually(t, func() bool { return posts.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	vu.RequestStop()
	assert.Equal(t, loadgen.VUStateStopping, vu.GetState())
	close(release)

	require.True(t, vu.WaitForStop(2*time.Second))
	assert.Equal(t, int64(1), gets.Load(), "the GET of the started iteration is still sent")

	snap := agg.Snapshot()
	assert.Equal(t, int64(1), snap.Iterations)
	assert.Equal(t, int64(0), snap.ChecksFailed)
}

func TestVirtualUser_StopBeforeRun(t *testing.T) {
	vu, _ := newTestVU(t, "http://127.0.0.1:1", loadgen.VUOptions{})

	vu.RequestStop()
	assert.Equal(t, loadgen.VUStateStopping, vu.GetState())

	vu.Run(context.Background())
	assert.Equal(t, loadgen.VUStateStopped, vu.GetState())
	assert.Equal(t, int64(0), vu.Requests())
}

func TestVirtualUser_HardContextCancelsRequest(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only notices a client disconnect once the body is read.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	vu, agg := newTestVU(t, server.URL, loadgen.VUOptions{TimestampDependency: true})

	ctx, cancel := context.WithCancel(context.Background())
	go vu.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	require.True(t, vu.WaitForStop(2*time.Second))
	snap := agg.Snapshot()
	assert.Equal(t, int64(1), snap.Checks[loadgen.CheckPostStatus].Fails)
	assert.Equal(t, int64(1), snap.ErrorCategories[string(check.CategoryTransport)])
}

func TestVirtualUser_WaitForStopTimeout(t *testing.T) {
	vu, _ := newTestVU(t, "http://127.0.0.1:1", loadgen.VUOptions{})
	assert.False(t, vu.WaitForStop(10*time.Millisecond))
}

func TestTransportError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &loadgen.TransportError{Tag: request.TagPost, Err: inner}

	assert.Equal(t, "POST /message: connection refused", err.Error())
	assert.True(t, errors.Is(err, inner))

	var te *loadgen.TransportError
	assert.True(t, errors.As(error(err), &te))
}
