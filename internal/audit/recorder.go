package audit

import (
	"context"
	"strings"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/sched"
	logx "schedkit/pkg/logx"
)

// Recorder consumes scheduler events and appends one RunEntry per settled
// invocation (completed, failed, cancelled, or skipped).
type Recorder struct {
	store Store
	log   logx.Logger
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run subscribes to the bus and blocks until ctx is done. A nil store makes
// Run return immediately, so callers don't need a disabled-storage branch.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) {
	if r.store == nil || bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.record(ev)
		}
	}
}

func (r *Recorder) record(ev eventbus.Event) {
	outcome, ok := outcomeFor(ev.Type)
	if !ok {
		return
	}
	e := RunEntry{At: ev.Time, Task: ev.Task, Outcome: outcome}
	if te, ok := ev.Data.(sched.TaskEvent); ok {
		e.Trigger = te.Trigger
		e.Reason = te.Reason
		e.Error = te.Error
		e.TookMS = te.Duration.Milliseconds()
		if !te.Started.IsZero() {
			e.At = te.Started
		}
	}

	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.AppendRun(wctx, e); err != nil {
		r.log.Warn("audit append failed", logx.String("task", e.Task), logx.Err(err))
	}
}

// outcomeFor maps settled-invocation event types to stored outcomes.
// Registration and start events are intentionally not recorded.
func outcomeFor(typ string) (string, bool) {
	switch typ {
	case eventbus.TypeTaskCompleted:
		return "completed", true
	case eventbus.TypeTaskFailed:
		return "failed", true
	case eventbus.TypeTaskCancelled:
		return "cancelled", true
	case eventbus.TypeTaskSkipped:
		return "skipped", true
	default:
		return "", false
	}
}

// OutcomeLabel normalizes a raw outcome/reason pair for display.
func OutcomeLabel(outcome, reason string) string {
	if reason == "" {
		return outcome
	}
	return outcome + ":" + strings.TrimSpace(reason)
}
