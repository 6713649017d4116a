package sched

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// addEntryLocked registers the task's trigger with the running cron.
// Manual-only tasks (no Interval, no Spec) get no entry.
// Call with s.mu held and s.cron non-nil.
func (s *Scheduler) addEntryLocked(rec *record) error {
	id := rec.def.ID
	job := cron.FuncJob(func() {
		// A task unregistered (or re-registered) after this firing was
		// scheduled must not run against a stale record.
		s.mu.Lock()
		cur := s.tasks[id]
		s.mu.Unlock()
		if cur != rec {
			return
		}
		s.invoke(context.Background(), rec, triggerTimer)
	})

	if spec := strings.TrimSpace(rec.def.Spec); spec != "" {
		eid, err := s.cron.AddJob(spec, job)
		if err != nil {
			return err
		}
		rec.entryID = eid
		return nil
	}
	if rec.def.Interval > 0 {
		rec.entryID = s.cron.Schedule(newJitterSchedule(rec.def.Interval, rec.def.Jitter, id), job)
	}
	return nil
}

var jitterSeq uint64

// jitterSchedule fires every `every` plus a fresh random delay in
// [0, jitter] per firing, so many tasks with the same interval drift apart
// instead of firing in lockstep.
type jitterSchedule struct {
	every  time.Duration
	jitter time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newJitterSchedule(every, jitter time.Duration, tag string) cron.Schedule {
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&jitterSeq, 1)<<17) ^ int64(fnv64a(tag))
	return &jitterSchedule{
		every:  every,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (js *jitterSchedule) Next(t time.Time) time.Time {
	next := t.Add(js.every)
	if js.jitter > 0 {
		js.mu.Lock()
		d := time.Duration(js.rng.Int63n(int64(js.jitter) + 1))
		js.mu.Unlock()
		next = next.Add(d)
	}
	return next
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
