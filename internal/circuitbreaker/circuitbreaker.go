package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/clock"
	"github.com/lalithlochan/nudge/internal/metrics"
)

// State of a breaker.
//
//	Closed -> Open:      consecutive failures reach MaxFailures
//	Open -> HalfOpen:    Cooldown elapsed since the last failure
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a transport is being skipped.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name is the transport the breaker guards, e.g. "sns" or "webhook".
	Name string

	// MaxFailures is the number of consecutive failures before opening.
	MaxFailures int

	// Cooldown is how long an open breaker waits before letting a probe through.
	Cooldown time.Duration

	// Probes is how many requests a half-open breaker admits.
	Probes int
}

// DefaultConfig returns the defaults used for push transports.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		Probes:      1,
	}
}

// CircuitBreaker stops the dispatcher from hammering a push transport that
// keeps failing. Fired notifications are not lost while it is open: the
// delivered hook still runs, only the relay is skipped.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	clock  clock.Clocker
	logger *zap.Logger

	state        State
	failures     int
	lastFailure  time.Time
	lastChange   time.Time
	probesIssued int

	requests  int64
	successes int64
	failed    int64
	rejected  int64
}

// New creates a closed breaker.
func New(cfg Config, clk clock.Clocker, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}

	cb := &CircuitBreaker{
		config:     cfg,
		clock:      clk,
		logger:     logger,
		state:      StateClosed,
		lastChange: clk.Now(),
	}
	metrics.SetBreakerState(cfg.Name, int(StateClosed))
	return cb
}

// Allow reports whether a request may go to the transport.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailure) >= cb.config.Cooldown {
			cb.transitionTo(StateHalfOpen)
			cb.probesIssued = 1
			return true
		}
	case StateHalfOpen:
		if cb.probesIssued < cb.config.Probes {
			cb.probesIssued++
			return true
		}
	}
	cb.rejected++
	return false
}

// RecordSuccess closes a half-open breaker and clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
	}
}

// RecordFailure counts a failure and opens the breaker when warranted.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failed++
	cb.failures++
	cb.lastFailure = cb.clock.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time snapshot, served by the ledger debug endpoint.
type Stats struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Failures   int       `json:"failures"`
	Requests   int64     `json:"requests"`
	Successes  int64     `json:"successes"`
	Errors     int64     `json:"errors"`
	Rejected   int64     `json:"rejected"`
	LastChange time.Time `json:"lastChange"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:       cb.config.Name,
		State:      cb.state.String(),
		Failures:   cb.failures,
		Requests:   cb.requests,
		Successes:  cb.successes,
		Errors:     cb.failed,
		Rejected:   cb.rejected,
		LastChange: cb.lastChange,
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(StateClosed)
	cb.failures = 0
}

// must be called with lock held
func (cb *CircuitBreaker) transitionTo(next State) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	cb.lastChange = cb.clock.Now()
	cb.probesIssued = 0
	metrics.SetBreakerState(cb.config.Name, int(next))

	level := cb.logger.Info
	if next == StateOpen {
		level = cb.logger.Warn
	}
	level("circuit breaker state changed",
		zap.String("name", cb.config.Name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Int("failures", cb.failures),
	)
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.config.Name, cb.state, cb.failures, cb.config.MaxFailures)
}
