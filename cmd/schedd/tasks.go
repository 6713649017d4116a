package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"schedkit/internal/config"
	"schedkit/internal/sched"
	"schedkit/pkg/breaker"
	logx "schedkit/pkg/logx"
)

// maxOutputTail bounds how much command output is kept for error reporting.
const maxOutputTail = 8 << 10

// taskDefinition converts one config entry into a scheduler definition whose
// Run executes the configured command.
func taskDefinition(t config.TaskConfig, log logx.Logger) (sched.Definition, error) {
	name := t.Name
	interval, err := config.ParseDurationField("task "+name+" interval", t.Interval)
	if err != nil {
		return sched.Definition{}, err
	}
	jitter, err := config.ParseDurationField("task "+name+" jitter", t.Jitter)
	if err != nil {
		return sched.Definition{}, err
	}
	timeout, err := config.ParseDurationField("task "+name+" timeout", t.Timeout)
	if err != nil {
		return sched.Definition{}, err
	}

	def := sched.Definition{
		ID:           name,
		Spec:         t.Schedule,
		Interval:     interval,
		Jitter:       jitter,
		MutexGroup:   t.MutexGroup,
		Disabled:     t.Disabled,
		AllowOverlap: t.AllowOverlap,
		Run:          commandRunner(name, t.Command, timeout, log),
	}
	if t.Breaker != nil {
		reset, err := config.ParseDurationField("task "+name+" breaker.reset_timeout", t.Breaker.ResetTimeout)
		if err != nil {
			return sched.Definition{}, err
		}
		def.Breaker = &breaker.Config{
			MaxFailures:       t.Breaker.MaxFailures,
			ResetTimeout:      reset,
			HalfOpenSuccesses: t.Breaker.HalfOpenSuccesses,
		}
	}
	return def, nil
}

// commandRunner builds the task function: run the command, honoring the
// invocation context (scheduler cancel) plus the optional per-run timeout.
func commandRunner(name string, argv []string, timeout time.Duration, log logx.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		if err == nil {
			log.Debug("command finished",
				logx.String("task", name),
				logx.Int("output_bytes", out.Len()),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w (output: %s)", argv[0], err, outputTail(&out))
	}
}

func outputTail(b *bytes.Buffer) string {
	s := bytes.TrimSpace(b.Bytes())
	if len(s) > maxOutputTail {
		s = s[len(s)-maxOutputTail:]
	}
	if len(s) == 0 {
		return "<none>"
	}
	return string(s)
}
