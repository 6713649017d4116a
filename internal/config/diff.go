package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedkit/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections, (2) safe
// structured attrs for logging, and (3) the names of tasks whose definition
// changed (added, removed, or edited).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.failure_log_every", strings.TrimSpace(newCfg.Scheduler.FailureLogEvery)),
			logx.String("scheduler.shutdown_timeout", strings.TrimSpace(newCfg.Scheduler.ShutdownTimeout)),
		)
	}

	// Nil means disabled.
	oldA, newA := derefAudit(oldCfg.Audit), derefAudit(newCfg.Audit)
	if !reflect.DeepEqual(oldA, newA) {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.String("audit.driver", strings.TrimSpace(newA.Driver)),
			logx.Bool("audit.path_set", strings.TrimSpace(newA.Path) != ""),
		)
	}

	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Int("tasks.total", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

func derefAudit(a *AuditConfig) AuditConfig {
	if a == nil {
		return AuditConfig{}
	}
	return *a
}

func diffTasks(oldT, newT []TaskConfig) []string {
	oldM := tasksByName(oldT)
	newM := tasksByName(newT)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func tasksByName(ts []TaskConfig) map[string]TaskConfig {
	m := make(map[string]TaskConfig, len(ts))
	for _, t := range ts {
		m[strings.TrimSpace(t.Name)] = t
	}
	return m
}
