// Package resilience wraps calls to external providers with retry and
// circuit breaking.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrCircuitOpen is returned when a breaker rejects a call.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker state.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig controls when a breaker opens and how long it stays open.
type BreakerConfig struct {
	// Threshold is the number of consecutive tripping failures that open
	// the breaker.
	Threshold int

	// ResetTimeout is how long an open breaker rejects calls before letting
	// a trial call through.
	ResetTimeout time.Duration

	// ShouldTrip decides which errors count. Defaults to IsTransient, so a
	// provider that answers "not found" does not open the circuit.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State)

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultBreakerConfig opens after five consecutive failures for one minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, ResetTimeout: time.Minute}
}

// Breaker fails fast once a provider has failed repeatedly.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the provider the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, reporting HalfOpen once the reset
// timeout has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cfg.Clock.Since(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow returns ErrCircuitOpen while the breaker is open. Once the reset
// timeout passes exactly one trial call is admitted; others are rejected
// until that call is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.cfg.Clock.Since(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.setState(HalfOpen)
	}
	if b.trial {
		return ErrCircuitOpen
	}
	b.trial = true
	return nil
}

// Record updates the breaker with the outcome of a call admitted by Allow.
// A cancelled call says nothing about the provider and only frees the
// half-open slot.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil || !b.cfg.ShouldTrip(err) {
		b.failures = 0
		if b.state == HalfOpen {
			b.setState(Closed)
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.cfg.Clock.Now()
		if b.state != Open {
			b.setState(Open)
		}
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	if b.state != Closed {
		b.setState(Closed)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Guard runs fn through b.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.Record(err)
	return val, err
}

// Breakers holds one breaker per provider.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty set sharing cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *Breakers) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.cfg)
		s.breakers[name] = b
	}
	return b
}

// States snapshots every breaker's state.
func (s *Breakers) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}
