package loadgen

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadgen/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadgen/request"
)

// IdentityFunc returns the identity for a newly spawned VU.
type IdentityFunc func() request.Identity

// NewIdentity generates a fresh random identity.
func NewIdentity() request.Identity {
	return request.Identity{
		UserID:    uuid.New().String(),
		SessionID: uuid.New().String(),
	}
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UseSharedClient indicates whether VUs share a single HTTP client
	UseSharedClient bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
		UseSharedClient:     true,
	}
}

// NewHTTPClient creates an HTTP client with the configured settings.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// SchedulerConfig configures a VUScheduler.
type SchedulerConfig struct {
	Builder    *request.Builder
	Aggregator *metrics.Aggregator
	VU         VUOptions

	HTTP HTTPClientConfig

	// Client overrides the client built from HTTP when set
	Client *http.Client

	// Identity defaults to NewIdentity
	Identity IdentityFunc

	Logger *zap.Logger
}

// VUScheduler owns the pool of running VUs.
//
// The pool is changed only by the control loop through ScaleTo and StopAll.
// Readers may call ActiveCount and ActiveVUs concurrently.
type VUScheduler struct {
	cfg    SchedulerConfig
	client *http.Client
	logger *zap.Logger

	mu sync.RWMutex

	// active holds VUs not yet asked to stop, in spawn order
	active []*VirtualUser

	// all holds every VU spawned, for drain
	all []*VirtualUser

	nextID int
	peak   int

	wg sync.WaitGroup
}

// NewVUScheduler creates a scheduler. No VU is started until ScaleTo.
func NewVUScheduler(cfg SchedulerConfig) *VUScheduler {
	if cfg.Identity == nil {
		cfg.Identity = NewIdentity
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = metrics.NewAggregator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := cfg.Client
	if client == nil && cfg.HTTP.UseSharedClient {
		client = NewHTTPClient(cfg.HTTP)
	}

	return &VUScheduler{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// spawn creates, registers and starts one VU. Caller holds s.mu.
func (s *VUScheduler) spawn(ctx context.Context) *VirtualUser {
	s.nextID++

	client := s.client
	if client == nil {
		client = NewHTTPClient(s.cfg.HTTP)
	}

	vu := NewVirtualUser(s.nextID, s.cfg.Identity(), client, s.cfg.Builder, s.cfg.Aggregator, s.cfg.VU)
	s.active = append(s.active, vu)
	s.all = append(s.all, vu)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		vu.Run(ctx)
	}()

	s.logger.Debug("vu spawned",
		zap.Int("vu_id", vu.ID),
		zap.String("user_id", vu.Identity.UserID),
		zap.String("session_id", vu.Identity.SessionID),
	)
	return vu
}

// stopNewest stops the most recently spawned active VU. Caller holds s.mu.
func (s *VUScheduler) stopNewest() *VirtualUser {
	last := len(s.active) - 1
	vu := s.active[last]
	s.active[last] = nil
	s.active = s.active[:last]

	vu.RequestStop()
	s.logger.Debug("vu stop requested",
		zap.Int("vu_id", vu.ID),
		zap.String("user_id", vu.Identity.UserID),
	)
	return vu
}

// ScaleTo grows or shrinks the pool to target. New VUs run under ctx.
// Shrinking stops the newest VUs first. It returns the IDs spawned and the
// IDs asked to stop, in the order that happened.
func (s *VUScheduler) ScaleTo(ctx context.Context, target int) (spawned, stopped []int) {
	if target < 0 {
		target = 0
	}

	s.mu.Lock()
	for len(s.active) < target {
		spawned = append(spawned, s.spawn(ctx).ID)
	}
	for len(s.active) > target {
		stopped = append(stopped, s.stopNewest().ID)
	}
	if len(s.active) > s.peak {
		s.peak = len(s.active)
	}
	s.pruneLocked()
	count := len(s.active)
	s.mu.Unlock()

	s.cfg.Aggregator.SetActiveVUs(count)
	return spawned, stopped
}

// pruneLocked drops fully stopped VUs from the drain list.
func (s *VUScheduler) pruneLocked() {
	kept := s.all[:0]
	for _, vu := range s.all {
		if vu.GetState() != VUStateStopped {
			kept = append(kept, vu)
		}
	}
	for i := len(kept); i < len(s.all); i++ {
		s.all[i] = nil
	}
	s.all = kept
}

// StopAll asks every active VU to stop, newest first, and returns their IDs.
func (s *VUScheduler) StopAll() []int {
	s.mu.Lock()
	var stopped []int
	for len(s.active) > 0 {
		stopped = append(stopped, s.stopNewest().ID)
	}
	s.mu.Unlock()

	s.cfg.Aggregator.SetActiveVUs(0)
	return stopped
}

// WaitForAll waits for all VUs to stop with a timeout.
//
// Returns the number of VUs that did not stop within the timeout.
func (s *VUScheduler) WaitForAll(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.mu.RLock()
	vus := make([]*VirtualUser, len(s.all))
	copy(vus, s.all)
	s.mu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if vu.GetState() != VUStateStopped {
				notStopped++
			}
			continue
		}
		if !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// Wait blocks until every VU goroutine has exited.
func (s *VUScheduler) Wait() {
	s.wg.Wait()
}

// Close releases idle connections held by the shared client.
func (s *VUScheduler) Close() {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
}

// ActiveCount returns the number of VUs not asked to stop.
func (s *VUScheduler) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// ActiveVUs returns the active VUs in spawn order.
func (s *VUScheduler) ActiveVUs() []*VirtualUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*VirtualUser, len(s.active))
	copy(result, s.active)
	return result
}

// PeakVUs returns the largest pool size reached.
func (s *VUScheduler) PeakVUs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peak
}

// Spawned returns how many VUs have been created.
func (s *VUScheduler) Spawned() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
