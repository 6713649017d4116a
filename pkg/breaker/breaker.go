package breaker

import (
	"errors"
	"strings"
	"sync"
	"time"

	"schedkit/pkg/clock"
)

// ErrOpen is returned by Execute when the circuit is open and the
// operation was not invoked.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config controls a single breaker instance.
//
// Zero values get defaults in New; a zero Config yields a usable breaker.
type Config struct {
	// MaxFailures is the consecutive-failure threshold that trips
	// CLOSED -> OPEN. Any recorded success resets the count.
	MaxFailures int

	// ResetTimeout is the cooldown after opening before probes are allowed.
	// The OPEN -> HALF_OPEN transition is evaluated lazily on observation,
	// never by a background timer.
	ResetTimeout time.Duration

	// HalfOpenSuccesses is the number of consecutive probe successes
	// required to close from HALF_OPEN. A single half-open failure reopens
	// regardless of this value.
	HalfOpenSuccesses int

	// TaskID is an observability label; TaskID() reports "unset" when empty.
	TaskID string

	// CountProbes enables the half-open probe counter.
	CountProbes bool

	// OnStateChange, if set, fires exactly once per actual transition.
	// It is invoked outside the breaker lock.
	OnStateChange func(from, to State)
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = time.Minute
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = 1
	}
	return c
}

// Breaker is a consecutive-failure circuit breaker:
// CLOSED -> (MaxFailures consecutive failures) -> OPEN
// OPEN -> (ResetTimeout elapsed, observed lazily) -> HALF_OPEN
// HALF_OPEN -> (HalfOpenSuccesses consecutive successes) -> CLOSED
// HALF_OPEN -> (any failure) -> OPEN
//
// All methods are safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config
	clk clock.Clock

	state          State
	failures       int
	halfOpenStreak int
	openedAt       time.Time
	probes         int
}

func New(cfg Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.System()
	}
	return &Breaker{cfg: cfg.withDefaults(), clk: clk}
}

// Execute runs op through the breaker. If the (lazily refreshed) state is
// OPEN it returns ErrOpen without invoking op. Otherwise op runs and its
// result is recorded; op's error is returned unchanged.
func (b *Breaker) Execute(op func() error) error {
	if b.State() == StateOpen {
		return ErrOpen
	}
	err := op()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// RecordSuccess resets the failure count. While HALF_OPEN it advances the
// probe streak and closes the circuit once HalfOpenSuccesses consecutive
// successes are observed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	trans := b.refreshLocked()

	b.failures = 0
	if b.state == StateHalfOpen {
		if b.cfg.CountProbes {
			b.probes++
		}
		b.halfOpenStreak++
		if b.halfOpenStreak >= b.cfg.HalfOpenSuccesses {
			trans = append(trans, b.setStateLocked(StateClosed)...)
			b.failures = 0
			b.halfOpenStreak = 0
		}
	}
	b.mu.Unlock()
	b.fire(trans)
}

// RecordFailure increments the failure count. A CLOSED breaker opens once
// the count reaches MaxFailures; a HALF_OPEN breaker reopens immediately
// and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	trans := b.refreshLocked()

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.MaxFailures {
			trans = append(trans, b.setStateLocked(StateOpen)...)
			b.openedAt = b.clk.Now()
		}
	case StateHalfOpen:
		trans = append(trans, b.setStateLocked(StateOpen)...)
		b.openedAt = b.clk.Now()
		b.halfOpenStreak = 0
	}
	b.mu.Unlock()
	b.fire(trans)
}

// State returns the current state, applying the lazy OPEN -> HALF_OPEN
// transition when the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	trans := b.refreshLocked()
	st := b.state
	b.mu.Unlock()
	b.fire(trans)
	return st
}

// Reset unconditionally forces CLOSED and zeroes the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	trans := b.setStateLocked(StateClosed)
	b.failures = 0
	b.halfOpenStreak = 0
	b.mu.Unlock()
	b.fire(trans)
}

func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) ProbeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probes
}

// TaskID returns the configured label, or "unset" when none was provided.
func (b *Breaker) TaskID() string {
	if strings.TrimSpace(b.cfg.TaskID) == "" {
		return "unset"
	}
	return b.cfg.TaskID
}

type transition struct{ from, to State }

// refreshLocked applies the lazy OPEN -> HALF_OPEN check.
// Call with b.mu held.
func (b *Breaker) refreshLocked() []transition {
	if b.state != StateOpen {
		return nil
	}
	if b.clk.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
		return nil
	}
	trans := b.setStateLocked(StateHalfOpen)
	b.halfOpenStreak = 0
	return trans
}

// setStateLocked records an actual transition (no-op if the state is
// unchanged). Call with b.mu held.
func (b *Breaker) setStateLocked(to State) []transition {
	if b.state == to {
		return nil
	}
	t := transition{from: b.state, to: to}
	b.state = to
	return []transition{t}
}

func (b *Breaker) fire(trans []transition) {
	if b.cfg.OnStateChange == nil {
		return
	}
	for _, t := range trans {
		b.cfg.OnStateChange(t.from, t.to)
	}
}
