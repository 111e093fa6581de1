// Package circuit implements the circuit breaker guarding upstream calls.
//
// A Breaker moves between three states:
//
//   - Closed: calls pass through; consecutive failures are counted
//   - Open: calls fail immediately with ErrOpen until the open window elapses
//   - HalfOpen: a single trial call decides between Closed and Open
//
// State is kept in memory only and starts Closed on every process start.
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for circuit breakers.
var (
	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hn_circuit_state",
		Help: "Circuit breaker state by name (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	circuitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_circuit_rejections_total",
		Help: "Total number of calls short-circuited by an open breaker",
	}, []string{"name"})
)

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = errors.New("circuit open")

// State is the breaker state.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the open window elapses.
	Open
	// HalfOpen allows a single trial call.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// Name labels metrics and state change callbacks.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before a trial call is allowed.
	OpenTimeout time.Duration

	// IsFailure decides whether a non-nil error counts against the breaker.
	// Errors for which it returns false leave the failure count untouched.
	// Defaults to counting every non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns 5 failures / 30 seconds.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// New creates a closed breaker. Zero values in cfg fall back to DefaultConfig.
func New(cfg Config) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}

	circuitState.WithLabelValues(cfg.Name).Set(float64(Closed))

	return &Breaker{
		cfg:   cfg,
		now:   time.Now,
		state: Closed,
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Returns ErrOpen without calling fn while the circuit is open or a trial is in flight.
func (b *Breaker) Execute(fn func() error) error {
	if from, to, err := b.allow(); err != nil {
		circuitRejectionsTotal.WithLabelValues(b.cfg.Name).Inc()
		return err
	} else if from != to {
		b.notify(from, to)
	}

	err := fn()

	if from, to := b.record(err); from != to {
		b.notify(from, to)
	}
	return err
}

// State returns the current state. An open circuit whose window has elapsed
// still reports Open until the next call moves it to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() (State, State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return from, from, ErrOpen
		}
		b.transitionTo(HalfOpen)
		b.trial = true
		return from, HalfOpen, nil
	case HalfOpen:
		if b.trial {
			return from, from, ErrOpen
		}
		b.trial = true
		return from, from, nil
	default:
		return from, from, nil
	}
}

func (b *Breaker) record(err error) (State, State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	switch {
	case err == nil:
		switch b.state {
		case HalfOpen:
			b.transitionTo(Closed)
		case Closed:
			b.failures = 0
		}
	case b.cfg.IsFailure(err):
		switch b.state {
		case HalfOpen:
			b.transitionTo(Open)
		case Closed:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.transitionTo(Open)
			}
		}
	default:
		// Neutral outcome: free the trial slot so the next call can decide.
		if b.state == HalfOpen {
			b.trial = false
		}
	}
	return from, b.state
}

func (b *Breaker) transitionTo(next State) {
	b.state = next
	b.trial = false
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.failures = 0
	}
	circuitState.WithLabelValues(b.cfg.Name).Set(float64(next))
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
