package sched

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"schedkit/internal/eventbus"
	"schedkit/pkg/breaker"
	"schedkit/pkg/clock"
	logx "schedkit/pkg/logx"
)

type Scheduler struct {
	cfg Config
	clk clock.Clock
	log logx.Logger
	bus eventbus.Bus

	parser cron.Parser

	mu       sync.Mutex
	tasks    map[string]*record
	groups   map[string]*groupQueue
	cron     *cron.Cron
	running  bool
	shutdown bool

	// stopCh aborts mutex-group waits on Shutdown; wg tracks in-flight
	// invocations for the drain.
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg: cfg.withDefaults(),
		clk: clk,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tasks:  map[string]*record{},
		groups: map[string]*groupQueue{},
		stopCh: make(chan struct{}),
	}
}

// Register adds a task to the registry. The record starts in PENDING; its
// circuit breaker (if configured) is created here and shares the record's
// lifetime. When the scheduler is running, the task's trigger is armed
// immediately.
func (s *Scheduler) Register(def Definition) error {
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if def.Run == nil {
		return fmt.Errorf("task %q: Run is nil", def.ID)
	}
	if def.Interval < 0 || def.Jitter < 0 {
		return fmt.Errorf("task %q: interval and jitter must be >= 0", def.ID)
	}
	def.Spec = strings.TrimSpace(def.Spec)
	if def.Spec != "" && def.Interval > 0 {
		return fmt.Errorf("task %q: set either Interval or Spec, not both", def.ID)
	}
	if def.Spec != "" {
		if _, err := s.parser.Parse(def.Spec); err != nil {
			return fmt.Errorf("task %q: invalid cron spec %q: %w", def.ID, def.Spec, err)
		}
	}

	rec := &record{
		def:       def,
		enabled:   !def.Disabled,
		state:     StatePending,
		warnLimit: rate.NewLimiter(rate.Every(s.cfg.FailureLogEvery), 1),
	}
	if def.Breaker != nil {
		rec.br = s.newTaskBreaker(def.ID, *def.Breaker)
	}

	s.mu.Lock()
	if _, exists := s.tasks[def.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, def.ID)
	}
	s.tasks[def.ID] = rec
	var armErr error
	if s.running && s.cron != nil {
		armErr = s.addEntryLocked(rec)
	}
	s.mu.Unlock()

	if armErr != nil {
		// Spec was validated above, so this is unexpected; keep the task
		// registered for RunNow but surface the trigger failure.
		s.log.Error("task trigger registration failed", logx.String("task", def.ID), logx.Err(armErr))
	}

	fields := []logx.Field{logx.String("task", def.ID)}
	if def.Spec != "" {
		fields = append(fields, logx.String("spec", def.Spec))
	} else if def.Interval > 0 {
		fields = append(fields, logx.Duration("interval", def.Interval))
		if def.Jitter > 0 {
			fields = append(fields, logx.Duration("jitter", def.Jitter))
		}
	}
	if def.MutexGroup != "" {
		fields = append(fields, logx.String("group", def.MutexGroup))
	}
	if rec.br != nil {
		fields = append(fields, logx.Bool("breaker", true))
	}
	s.log.Info("task registered", fields...)
	s.publish(eventbus.TypeTaskRegistered, def.ID, TaskEvent{ID: def.ID})
	return nil
}

// newTaskBreaker builds the per-task breaker, defaulting its label to the
// task id and teeing state transitions onto the bus.
func (s *Scheduler) newTaskBreaker(id string, bcfg breaker.Config) *breaker.Breaker {
	if strings.TrimSpace(bcfg.TaskID) == "" {
		bcfg.TaskID = id
	}
	user := bcfg.OnStateChange
	bcfg.OnStateChange = func(from, to breaker.State) {
		s.log.Info("circuit breaker state changed",
			logx.String("task", id),
			logx.String("from", from.String()),
			logx.String("to", to.String()),
		)
		s.publish(eventbus.TypeBreakerState, id, BreakerEvent{TaskID: id, From: from.String(), To: to.String()})
		if user != nil {
			user(from, to)
		}
	}
	return breaker.New(bcfg, s.clk)
}

// Unregister removes the task. A currently running invocation is not
// aborted, but its continuation will find the record gone and drop all
// bookkeeping (no rescheduling, no counter updates).
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	delete(s.tasks, id)
	if rec.entryID != 0 && s.cron != nil {
		s.cron.Remove(rec.entryID)
	}
	rec.entryID = 0
	s.mu.Unlock()

	s.log.Info("task unregistered", logx.String("task", id))
	s.publish(eventbus.TypeTaskUnregistered, id, TaskEvent{ID: id})
	return nil
}

// Enable allows timer firings to invoke the task again. Manual RunNow is
// never gated by this flag.
func (s *Scheduler) Enable(id string) error { return s.setEnabled(id, true) }

// Disable stops timer firings from invoking the task. The trigger keeps
// firing and is skipped cheaply; RunNow still executes the task.
func (s *Scheduler) Disable(id string) error { return s.setEnabled(id, false) }

func (s *Scheduler) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	changed := rec.enabled != enabled
	rec.enabled = enabled
	s.mu.Unlock()
	if changed {
		s.log.Info("task toggled", logx.String("task", id), logx.Bool("enabled", enabled))
	}
	return nil
}

// Start arms the triggers for all registered tasks. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running || s.shutdown {
		s.mu.Unlock()
		return
	}
	s.cron = cron.New(cron.WithParser(s.parser))
	for _, rec := range s.tasks {
		rec.entryID = 0
		if err := s.addEntryLocked(rec); err != nil {
			s.log.Error("task trigger registration failed", logx.String("task", rec.def.ID), logx.Err(err))
		}
	}
	s.cron.Start()
	s.running = true
	n := len(s.tasks)
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Int("tasks", n))
}

// Stop disarms all triggers. In-flight invocations keep running; use
// Shutdown to cancel and drain. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.cron = nil
	s.running = false
	for _, rec := range s.tasks {
		rec.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Cancel signals cancellation to the task's current invocation. It is a
// no-op when the task is not running; the task function must observe its
// context cooperatively.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	cancel := rec.cancel
	if rec.state == StateRunning && cancel != nil {
		rec.cancelRequested = true
	} else {
		cancel = nil
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.log.Info("task cancellation requested", logx.String("task", id))
	}
	return nil
}

// Status reports the task's current runtime state.
func (s *Scheduler) Status(id string) (Status, error) {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	st := s.statusLocked(rec)
	s.mu.Unlock()
	return st, nil
}

// Statuses reports all registered tasks, sorted by id.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	out := make([]Status, 0, len(s.tasks))
	for _, rec := range s.tasks {
		out = append(out, s.statusLocked(rec))
	}
	s.mu.Unlock()

	sortStatuses(out)
	return out
}

func (s *Scheduler) statusLocked(rec *record) Status {
	st := Status{
		ID:        rec.def.ID,
		State:     rec.state,
		Enabled:   rec.enabled,
		RunCount:  rec.runCount,
		FailCount: rec.failCount,
		LastRunAt: rec.lastRunAt,
	}
	if rec.lastErr != nil {
		st.LastError = rec.lastErr.Error()
	}
	if rec.br != nil {
		st.Breaker = &BreakerStatus{
			State:        rec.br.State(),
			FailureCount: rec.br.FailureCount(),
			ProbeCount:   rec.br.ProbeCount(),
		}
	}
	return st
}

func sortStatuses(ss []Status) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j].ID < ss[j-1].ID; j-- {
			ss[j], ss[j-1] = ss[j-1], ss[j]
		}
	}
}

// Shutdown stops all triggers, cancels running invocations, and waits up to
// timeout for them to settle. Idempotent; a second call returns immediately.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	c := s.cron
	s.cron = nil
	s.running = false
	close(s.stopCh)
	for _, rec := range s.tasks {
		rec.entryID = 0
		if rec.state == StateRunning && rec.cancel != nil {
			rec.cancelRequested = true
			rec.cancel()
		}
	}
	s.mu.Unlock()

	s.log.Info("scheduler shutdown requested", logx.Duration("timeout", timeout))
	if c != nil {
		c.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case <-done:
		s.log.Info("scheduler shutdown complete")
	case <-tmr.C:
		s.log.Warn("scheduler shutdown timed out; tasks still running", logx.Duration("timeout", timeout))
	}
}

// group returns the queue for a mutex group, creating it on first use.
// Queues are kept for the scheduler's lifetime (they are two words each);
// logical membership is only the set of queued/running invocations.
func (s *Scheduler) group(name string) *groupQueue {
	s.mu.Lock()
	g := s.groups[name]
	if g == nil {
		g = &groupQueue{}
		s.groups[name] = g
	}
	s.mu.Unlock()
	return g
}

func (s *Scheduler) publish(typ, task string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clk.Now(), Task: task, Data: data})
}
