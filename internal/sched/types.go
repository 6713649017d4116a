package sched

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"schedkit/pkg/breaker"
)

// TaskState is the lifecycle state of a task record.
type TaskState int

const (
	StatePending TaskState = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Definition describes a task at registration time. It is copied into the
// registry; later mutation by the caller has no effect.
//
// Triggers: set Interval for periodic firing (0 means manual-only), or Spec
// for a cron expression. Setting both is a configuration error.
//
// Zero values match the defaults: enabled, overlap-suppressed.
type Definition struct {
	ID  string
	Run func(ctx context.Context) error

	// Interval is the periodic firing period. Jitter, if set, adds a random
	// delay in [0, Jitter] to every firing so tasks with identical intervals
	// don't fire in lockstep.
	Interval time.Duration
	Jitter   time.Duration

	// Spec is an optional cron expression ("*/5 * * * *", "@hourly", ...)
	// used instead of Interval.
	Spec string

	// MutexGroup names a set of tasks that never execute concurrently with
	// one another. Invocations within a group run FIFO.
	MutexGroup string

	// Breaker, if set, attaches a circuit breaker to this task. Tasks
	// without one carry no breaker state at all.
	Breaker *breaker.Config

	// Disabled tasks are skipped by timer firings; RunNow still executes them.
	Disabled bool

	// AllowOverlap permits a timer firing while a previous invocation of the
	// same task is still in flight. Default (false) skips the new firing.
	AllowOverlap bool
}

// Status is the externally visible view of a task record.
type Status struct {
	ID        string
	State     TaskState
	Enabled   bool
	RunCount  int
	FailCount int
	LastRunAt time.Time
	LastError string

	// Breaker is nil when the task has no circuit breaker configured.
	Breaker *BreakerStatus
}

type BreakerStatus struct {
	State        breaker.State
	FailureCount int
	ProbeCount   int
}

// Outcome reports how a single invocation attempt ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeSkippedOpen
	OutcomeSkippedOverlap
	OutcomeSkippedDisabled
	OutcomeSkippedStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkippedOpen:
		return "skipped_circuit_open"
	case OutcomeSkippedOverlap:
		return "skipped_overlap"
	case OutcomeSkippedDisabled:
		return "skipped_disabled"
	case OutcomeSkippedStopped:
		return "skipped_stopped"
	default:
		return "unknown"
	}
}

// Config controls the scheduler.
type Config struct {
	// OnTaskError, if set, is invoked once per failed invocation
	// (cancellations included).
	OnTaskError func(id string, err error)

	// FailureLogEvery bounds how often repeated failures of the same task
	// are written to the error log sink. State updates and OnTaskError are
	// never throttled. Default 5s.
	FailureLogEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureLogEvery <= 0 {
		c.FailureLogEvery = 5 * time.Second
	}
	return c
}

// TaskEvent is the bus payload for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Trigger  string        `json:"trigger,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// BreakerEvent is the bus payload for circuit breaker transitions.
type BreakerEvent struct {
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// record is the scheduler-private runtime state of one task.
// All fields are guarded by Scheduler.mu except br, which has its own lock.
type record struct {
	def     Definition
	enabled bool

	state     TaskState
	runCount  int
	failCount int
	lastRunAt time.Time
	lastErr   error

	// inflight counts invocations that are running or waiting for their
	// mutex-group turn; the overlap gate treats queued as running.
	inflight int

	// cancel aborts the current invocation; cancelRequested marks that the
	// abort was operator-initiated so the breaker ignores the failure.
	cancel          context.CancelFunc
	cancelRequested bool

	br *breaker.Breaker

	entryID cron.EntryID

	// warnLimit throttles repeated failure logging for this task.
	warnLimit *rate.Limiter
}
