package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Audit controls run-history persistence. Nil means disabled.
	Audit *AuditConfig `json:"audit,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls scheduler-wide behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	// FailureLogEvery throttles repeated failure logs per task.
	// "0s" or omitted keeps the built-in default.
	FailureLogEvery string `json:"failure_log_every,omitempty"`

	// ShutdownTimeout bounds the drain on exit. Default "10s".
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// AuditConfig controls the optional run-history store.
//
// Example:
//
//	"audit": { "driver": "sqlite", "path": "./schedkit.db" }
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Keep        int    `json:"keep,omitempty"`         // max retained rows
}

// TaskConfig declares one scheduled command.
//
// Exactly one of Schedule (cron spec) or Interval may be set; a task with
// neither only runs on demand.
type TaskConfig struct {
	Name    string   `json:"name"`
	Command []string `json:"command"`

	Schedule string `json:"schedule,omitempty"` // cron spec, e.g. "*/5 * * * *"
	Interval string `json:"interval,omitempty"` // Go duration string
	Jitter   string `json:"jitter,omitempty"`   // Go duration string
	Timeout  string `json:"timeout,omitempty"`  // per-run timeout; "0s" disables

	MutexGroup   string `json:"mutex_group,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
	AllowOverlap bool   `json:"allow_overlap,omitempty"`

	Breaker *BreakerConfig `json:"breaker,omitempty"`
}

type BreakerConfig struct {
	MaxFailures       int    `json:"max_failures,omitempty"`
	ResetTimeout      string `json:"reset_timeout,omitempty"` // Go duration string
	HalfOpenSuccesses int    `json:"half_open_successes,omitempty"`
}

// Validate checks the static shape of the config: names, commands, and
// duration syntax. Trigger collisions across tasks are a scheduler-level
// concern and are reported separately.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := ParseDurationField("scheduler.failure_log_every", c.Scheduler.FailureLogEvery); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.shutdown_timeout", c.Scheduler.ShutdownTimeout); err != nil {
		return err
	}
	if c.Audit != nil {
		if _, err := ParseDurationField("audit.busy_timeout", c.Audit.BusyTimeout); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, name)
		}
		seen[name] = true
		if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
			return fmt.Errorf("task %q: command is required", name)
		}
		if strings.TrimSpace(t.Schedule) != "" && strings.TrimSpace(t.Interval) != "" {
			return fmt.Errorf("task %q: set either schedule or interval, not both", name)
		}
		for _, f := range []struct{ field, raw string }{
			{"interval", t.Interval},
			{"jitter", t.Jitter},
			{"timeout", t.Timeout},
		} {
			if _, err := ParseDurationField("task "+name+" "+f.field, f.raw); err != nil {
				return err
			}
		}
		if t.Breaker != nil {
			if t.Breaker.MaxFailures < 0 || t.Breaker.HalfOpenSuccesses < 0 {
				return fmt.Errorf("task %q: breaker counts must be >= 0", name)
			}
			if _, err := ParseDurationField("task "+name+" breaker.reset_timeout", t.Breaker.ResetTimeout); err != nil {
				return err
			}
		}
	}
	return nil
}
