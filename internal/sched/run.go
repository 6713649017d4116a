package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/pkg/breaker"
	logx "schedkit/pkg/logx"
)

type trigger int

const (
	triggerTimer trigger = iota
	triggerManual
)

func (t trigger) String() string {
	if t == triggerManual {
		return "manual"
	}
	return "timer"
}

// RunNow executes the task immediately through the same path as a timer
// firing (breaker check, mutex-group queueing, state transitions) and
// returns once the invocation settles. Task-level failures are captured
// into the record, never returned; the error is non-nil only for unknown
// ids.
func (s *Scheduler) RunNow(ctx context.Context, id string) (Outcome, error) {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return OutcomeSkippedStopped, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.invoke(ctx, rec, triggerManual), nil
}

// invoke is the single execution path shared by timer firings and RunNow.
//
// Step order matters: the disabled and breaker checks happen before any
// counter is touched, the overlap gate is taken before queueing (queued
// counts as running), and the mutex-group slot is released before failure
// reporting so the next invocation in the group is not delayed by sinks.
func (s *Scheduler) invoke(ctx context.Context, rec *record, trig trigger) Outcome {
	id := rec.def.ID

	s.mu.Lock()
	if s.shutdown || s.tasks[id] != rec {
		s.mu.Unlock()
		return OutcomeSkippedStopped
	}
	if trig == triggerTimer && !rec.enabled {
		s.mu.Unlock()
		s.log.Debug("task disabled; skipping timer firing", logx.String("task", id))
		return OutcomeSkippedDisabled
	}
	if rec.br != nil && rec.br.State() == breaker.StateOpen {
		s.mu.Unlock()
		s.log.Info("circuit breaker OPEN; skipping task", logx.String("task", id))
		s.publish(eventbus.TypeTaskSkipped, id, TaskEvent{ID: id, Trigger: trig.String(), Reason: "circuit_open"})
		return OutcomeSkippedOpen
	}
	if trig == triggerTimer && !rec.def.AllowOverlap && rec.inflight > 0 {
		s.mu.Unlock()
		s.log.Debug("previous invocation still in flight; skipping timer firing", logx.String("task", id))
		s.publish(eventbus.TypeTaskSkipped, id, TaskEvent{ID: id, Trigger: trig.String(), Reason: "overlap"})
		return OutcomeSkippedOverlap
	}
	rec.inflight++
	s.wg.Add(1)
	stopCh := s.stopCh
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		rec.inflight--
		s.mu.Unlock()
	}()

	// Mutex group: wait for the exclusive slot, FIFO. Aborted on shutdown.
	var g *groupQueue
	if rec.def.MutexGroup != "" {
		g = s.group(rec.def.MutexGroup)
		if !g.acquire(stopCh) {
			s.publish(eventbus.TypeTaskSkipped, id, TaskEvent{ID: id, Trigger: trig.String(), Reason: "shutdown"})
			return OutcomeSkippedStopped
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	// Re-check after the group wait: unregister (or shutdown) may have won.
	if s.tasks[id] != rec || s.shutdown {
		s.mu.Unlock()
		cancel()
		if g != nil {
			g.release()
		}
		return OutcomeSkippedStopped
	}
	rec.state = StateRunning
	rec.cancel = cancel
	rec.cancelRequested = false
	s.mu.Unlock()

	started := s.clk.Now()
	s.log.Debug("task started", logx.String("task", id), logx.String("trigger", trig.String()))
	s.publish(eventbus.TypeTaskStarted, id, TaskEvent{ID: id, Trigger: trig.String(), Started: started})

	err := runGuarded(runCtx, id, rec.def.Run, s.log)
	cancel()

	finished := s.clk.Now()
	dur := finished.Sub(started)

	s.mu.Lock()
	alive := s.tasks[id] == rec
	cancelled := rec.cancelRequested || errors.Is(err, ErrTaskCancelled) || errors.Is(err, context.Canceled)
	rec.cancel = nil
	rec.cancelRequested = false
	if alive {
		if err == nil {
			rec.state = StateCompleted
			rec.runCount++
			rec.lastRunAt = finished
		} else {
			rec.state = StateFailed
			rec.failCount++
			if cancelled {
				rec.lastErr = ErrTaskCancelled
			} else {
				rec.lastErr = err
			}
		}
	}
	warnOK := err != nil && alive && rec.warnLimit.Allow()
	s.mu.Unlock()

	// Feed the breaker only for live tasks, and never for cancellations:
	// an operator abort is not an operational fault.
	if alive && rec.br != nil {
		if err == nil {
			rec.br.RecordSuccess()
		} else if !cancelled {
			rec.br.RecordFailure()
		}
	}

	if g != nil {
		g.release()
	}

	if !alive {
		s.log.Debug("task unregistered mid-run; dropping result", logx.String("task", id))
		return OutcomeSkippedStopped
	}

	if err != nil {
		reported := err
		if cancelled {
			reported = ErrTaskCancelled
		}
		s.reportFailure(id, trig, started, dur, reported, cancelled, warnOK)
		return OutcomeFailed
	}

	s.log.Debug("task completed", logx.String("task", id), logx.Duration("dur", dur))
	s.publish(eventbus.TypeTaskCompleted, id, TaskEvent{ID: id, Trigger: trig.String(), Started: started, Duration: dur})
	return OutcomeCompleted
}

func (s *Scheduler) reportFailure(id string, trig trigger, started time.Time, dur time.Duration, err error, cancelled bool, warnOK bool) {
	typ := eventbus.TypeTaskFailed
	if cancelled {
		typ = eventbus.TypeTaskCancelled
	}
	s.publish(typ, id, TaskEvent{ID: id, Trigger: trig.String(), Started: started, Duration: dur, Error: err.Error()})

	// Repeated failures of the same task are throttled at the log sink;
	// the callback always fires.
	if warnOK {
		s.log.Error("task failed", logx.String("task", id), logx.Err(err), logx.Duration("dur", dur), logx.Bool("cancelled", cancelled))
	}
	if s.cfg.OnTaskError != nil {
		s.cfg.OnTaskError(id, err)
	}
}

// runGuarded invokes the task function with panic recovery so one bad task
// cannot take down the scheduling loop.
func runGuarded(ctx context.Context, id string, fn func(context.Context) error, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panicked", logx.String("task", id), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(ctx)
}
