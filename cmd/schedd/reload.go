package main

import (
	"errors"

	"schedkit/internal/config"
	"schedkit/internal/sched"
	logx "schedkit/pkg/logx"
)

// applyReload applies a committed config revision to the running process:
// logging changes take effect via the log service, changed tasks are
// re-registered in place. The audit store is fixed at startup; changing it
// needs a restart.
func applyReload(s *sched.Scheduler, logSvc *logx.Service, log logx.Logger, oldCfg, newCfg *config.Config) {
	sections, attrs, taskNames := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		return
	}
	log.Info("applying config reload", append([]logx.Field{logx.Any("sections", sections)}, attrs...)...)

	for _, sec := range sections {
		switch sec {
		case "logging":
			logSvc.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File:    logx.FileConfig{Enabled: newCfg.Logging.File.Enabled, Path: newCfg.Logging.File.Path},
			})
		case "audit":
			log.Warn("audit config changed; restart required to take effect")
		case "scheduler":
			log.Warn("scheduler config changed; restart required to take effect")
		case "tasks":
			applyTaskChanges(s, log, newCfg, taskNames)
		}
	}
}

// applyTaskChanges re-registers each changed task: removed tasks are
// unregistered, edited ones replaced (their counters and breaker state reset
// with the new definition), added ones registered. Running invocations of a
// replaced task finish detached and don't touch the fresh record.
func applyTaskChanges(s *sched.Scheduler, log logx.Logger, newCfg *config.Config, names []string) {
	byName := map[string]config.TaskConfig{}
	for _, t := range newCfg.Tasks {
		byName[t.Name] = t
	}

	for _, name := range names {
		if err := s.Unregister(name); err != nil && !errors.Is(err, sched.ErrUnknownTask) {
			log.Warn("task unregister failed during reload", logx.String("task", name), logx.Err(err))
			continue
		}
		tc, ok := byName[name]
		if !ok {
			log.Info("task removed by reload", logx.String("task", name))
			continue
		}
		def, err := taskDefinition(tc, log.With(logx.String("comp", "task")))
		if err != nil {
			// The validator vets revisions before publish, so this is unexpected.
			log.Error("task definition invalid during reload", logx.String("task", name), logx.Err(err))
			continue
		}
		if err := s.Register(def); err != nil {
			log.Error("task re-registration failed", logx.String("task", name), logx.Err(err))
		}
	}

	warnOverlaps(log, mustDefinitions(newCfg, log))
}

func mustDefinitions(cfg *config.Config, log logx.Logger) []sched.Definition {
	defs, err := buildDefinitions(cfg, log)
	if err != nil {
		return nil
	}
	return defs
}
