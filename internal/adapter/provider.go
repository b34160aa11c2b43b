package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/crypto-temple/internal/logging"
)

// DefaultFailBackAfter is how long the secondary RPC endpoint stays active
// before the primary is tried again.
const DefaultFailBackAfter = 5 * time.Minute

const (
	unhealthyAfterFailures = 5
	minRequestsForRate     = 10
	maxFailureRate         = 0.5
)

// EndpointSelector chooses the JSON-RPC endpoint the chain client dials
// and keeps the numbers behind its health report.
type EndpointSelector interface {
	CurrentURL() (string, error)
	Failover() error
	RecordSuccess(latency time.Duration)
	RecordFailure(err error)
	Health() *ProviderHealth
}

// ProviderHealth is the RPC section of the health endpoint
type ProviderHealth struct {
	CurrentURL          string    `json:"currentUrl"`
	OnSecondary         bool      `json:"onSecondary"`
	Requests            int64     `json:"requests"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	AverageLatencyMs    int64     `json:"averageLatencyMs"`
	LastFailure         time.Time `json:"lastFailure,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	Healthy             bool      `json:"healthy"`
}

// RPCEndpoints is a primary endpoint with an optional secondary. A
// failover moves traffic to the secondary until failBackAfter has passed,
// after which the next lookup returns to the primary.
type RPCEndpoints struct {
	primary       string
	secondary     string
	failBackAfter time.Duration
	now           func() time.Time
	logger        *logging.Logger

	mu          sync.Mutex
	onSecondary bool
	switchedAt  time.Time
	requests    int64
	failures    int64
	successes   int64
	latency     time.Duration
	consecutive int
	lastFailure time.Time
	lastErr     string
}

// NewRPCEndpoints creates the selector. secondary may be empty, in which
// case Failover always fails.
func NewRPCEndpoints(primary, secondary string, failBackAfter time.Duration) (*RPCEndpoints, error) {
	if primary == "" {
		return nil, fmt.Errorf("primary RPC URL cannot be empty")
	}
	if failBackAfter <= 0 {
		failBackAfter = DefaultFailBackAfter
	}
	return &RPCEndpoints{
		primary:       primary,
		secondary:     secondary,
		failBackAfter: failBackAfter,
		now:           time.Now,
		logger:        logging.WithComponent("rpc"),
	}, nil
}

// CurrentURL returns the active endpoint, failing back to the primary
// once the secondary has served for failBackAfter.
func (e *RPCEndpoints) CurrentURL() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.onSecondary && e.now().Sub(e.switchedAt) >= e.failBackAfter {
		e.onSecondary = false
		e.consecutive = 0
		e.logger.WithField("url", e.primary).Info("Failing back to primary RPC endpoint")
	}
	return e.activeLocked(), nil
}

// Failover swaps the active endpoint
func (e *RPCEndpoints) Failover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.secondary == "" {
		return fmt.Errorf("no secondary RPC endpoint configured")
	}
	e.onSecondary = !e.onSecondary
	e.switchedAt = e.now()
	e.consecutive = 0
	return nil
}

// RecordSuccess counts a completed call
func (e *RPCEndpoints) RecordSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.requests++
	e.successes++
	e.latency += latency
	e.consecutive = 0
}

// RecordFailure counts a failed call
func (e *RPCEndpoints) RecordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.requests++
	e.failures++
	e.consecutive++
	e.lastFailure = e.now()
	if err != nil {
		e.lastErr = err.Error()
	}
}

// Health reports the active endpoint and its counters. The endpoint is
// unhealthy after five failures in a row, or once more than half of at
// least ten calls have failed.
func (e *RPCEndpoints) Health() *ProviderHealth {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := &ProviderHealth{
		CurrentURL:          e.activeLocked(),
		OnSecondary:         e.onSecondary,
		Requests:            e.requests,
		Failures:            e.failures,
		ConsecutiveFailures: e.consecutive,
		LastFailure:         e.lastFailure,
		LastError:           e.lastErr,
		Healthy:             true,
	}
	if e.successes > 0 {
		h.AverageLatencyMs = (e.latency / time.Duration(e.successes)).Milliseconds()
	}
	if e.consecutive >= unhealthyAfterFailures {
		h.Healthy = false
	}
	if e.requests >= minRequestsForRate && float64(e.failures)/float64(e.requests) > maxFailureRate {
		h.Healthy = false
	}
	return h
}

func (e *RPCEndpoints) activeLocked() string {
	if e.onSecondary {
		return e.secondary
	}
	return e.primary
}
