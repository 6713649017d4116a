package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"schedkit/internal/audit"
	"schedkit/internal/config"
	"schedkit/internal/eventbus"
	"schedkit/internal/sched"
	"schedkit/pkg/clock"
	logx "schedkit/pkg/logx"
)

func main() {
	var cfgPath string
	var check bool
	flag.StringVar(&cfgPath, "config", "./schedd.yaml", "path to config (yaml or json)")
	flag.BoolVar(&check, "check", false, "validate config and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if check {
		os.Exit(runCheck(cfg))
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()

	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := buildDefinitions(c, log)
		return err
	})

	bus := eventbus.New()

	store, err := audit.Open(auditConfig(cfg.Audit), log.With(logx.String("comp", "audit")))
	if err != nil {
		log.Error("audit store init failed", logx.Err(err))
		os.Exit(1)
	}
	if store != nil {
		go audit.NewRecorder(store, log.With(logx.String("comp", "audit"))).Run(ctx, bus)
	}

	failEvery, _ := config.ParseDurationField("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery)
	s := sched.New(
		sched.Config{FailureLogEvery: failEvery},
		clock.System(),
		log.With(logx.String("comp", "sched")),
		bus,
	)

	defs, err := buildDefinitions(cfg, log)
	if err != nil {
		log.Error("task config invalid", logx.Err(err))
		os.Exit(1)
	}
	warnOverlaps(log, defs)
	for _, def := range defs {
		if err := s.Register(def); err != nil {
			log.Error("task registration failed", logx.String("task", def.ID), logx.Err(err))
			os.Exit(1)
		}
	}

	s.Start()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("schedd started", logx.Int("tasks", len(defs)), logx.String("config", cfgPath))

	go func() { _ = mgr.Watch(ctx) }()
	updates := mgr.Subscribe(4)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case newCfg := <-updates:
			applyReload(s, logSvc, log, cfg, newCfg)
			cfg = newCfg
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	timeout, _ := config.ParseDurationOrDefault("scheduler.shutdown_timeout", cfg.Scheduler.ShutdownTimeout, 10*time.Second)
	s.Shutdown(timeout)
	if store != nil {
		_ = store.Close()
	}
	log.Info("schedd stopped")
}

// runCheck validates the already-parsed config and reports trigger
// collisions. Exit code 1 means the task set is ambiguous.
func runCheck(cfg *config.Config) int {
	defs, err := buildDefinitions(cfg, logx.Nop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid:", err)
		return 1
	}
	res := sched.ValidateMECE(defs)
	for _, ov := range res.Overlaps {
		fmt.Fprintf(os.Stderr, "overlap (%s): %s\n", ov.Kind, ov.Detail)
	}
	if !res.Valid {
		return 1
	}
	fmt.Printf("ok: %d tasks\n", len(defs))
	return 0
}

func buildDefinitions(cfg *config.Config, log logx.Logger) ([]sched.Definition, error) {
	defs := make([]sched.Definition, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		def, err := taskDefinition(t, log.With(logx.String("comp", "task")))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func warnOverlaps(log logx.Logger, defs []sched.Definition) {
	res := sched.ValidateMECE(defs)
	for _, ov := range res.Overlaps {
		log.Warn("task set overlap", logx.String("kind", string(ov.Kind)), logx.String("detail", ov.Detail))
	}
}

func auditConfig(a *config.AuditConfig) audit.Config {
	if a == nil {
		return audit.Config{}
	}
	busy, _ := config.ParseDurationField("audit.busy_timeout", a.BusyTimeout)
	return audit.Config{Driver: a.Driver, Path: a.Path, BusyTimeout: busy, Keep: a.Keep}
}
