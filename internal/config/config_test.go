package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
scheduler:
  shutdown_timeout: 5s
audit:
  driver: sqlite
  path: ./runs.db
  busy_timeout: 2s
tasks:
  - name: backup
    command: ["/usr/local/bin/backup.sh", "--full"]
    interval: 1h
    jitter: 5m
    mutex_group: disk
    breaker:
      max_failures: 3
      reset_timeout: 10m
  - name: report
    command: ["report-gen"]
    schedule: "0 6 * * *"
    disabled: true
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Audit == nil || cfg.Audit.Driver != "sqlite" {
		t.Fatalf("audit = %+v", cfg.Audit)
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("got %d tasks", len(cfg.Tasks))
	}
	b := cfg.Tasks[0]
	if b.Name != "backup" || b.Interval != "1h" || b.MutexGroup != "disk" {
		t.Fatalf("backup task = %+v", b)
	}
	if b.Breaker == nil || b.Breaker.MaxFailures != 3 {
		t.Fatalf("backup breaker = %+v", b.Breaker)
	}
	if !cfg.Tasks[1].Disabled || cfg.Tasks[1].Schedule != "0 6 * * *" {
		t.Fatalf("report task = %+v", cfg.Tasks[1])
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "scheduler": {},
  "tasks": [{"name": "ping", "command": ["ping", "-c1", "gw"]}]
}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0].Name != "ping" {
		t.Fatalf("tasks = %+v", cfg.Tasks)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
scheduler: {}
taskz: []
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown top-level key accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Tasks: []TaskConfig{{Name: "a", Command: []string{"true"}}}}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing name", mutate: func(c *Config) { c.Tasks[0].Name = " " }},
		{name: "missing command", mutate: func(c *Config) { c.Tasks[0].Command = nil }},
		{name: "duplicate name", mutate: func(c *Config) { c.Tasks = append(c.Tasks, c.Tasks[0]) }},
		{name: "schedule and interval", mutate: func(c *Config) {
			c.Tasks[0].Schedule = "@hourly"
			c.Tasks[0].Interval = "5m"
		}},
		{name: "bad interval", mutate: func(c *Config) { c.Tasks[0].Interval = "five minutes" }},
		{name: "negative jitter", mutate: func(c *Config) { c.Tasks[0].Jitter = "-1s" }},
		{name: "bad breaker timeout", mutate: func(c *Config) { c.Tasks[0].Breaker = &BreakerConfig{ResetTimeout: "later"} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("base config invalid: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate accepted bad config")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got (%v, %v)", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Tasks: []TaskConfig{
			{Name: "a", Command: []string{"true"}, Interval: "1m"},
			{Name: "b", Command: []string{"true"}},
		},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Tasks: []TaskConfig{
			{Name: "a", Command: []string{"true"}, Interval: "2m"},
			{Name: "c", Command: []string{"true"}},
		},
	}

	changed, _, tasks := SummarizeChange(oldCfg, newCfg)
	wantSections := []string{"logging", "tasks"}
	if len(changed) != len(wantSections) || changed[0] != "logging" || changed[1] != "tasks" {
		t.Fatalf("changed = %v, want %v", changed, wantSections)
	}
	wantTasks := []string{"a", "b", "c"}
	if len(tasks) != 3 {
		t.Fatalf("tasks = %v, want %v", tasks, wantTasks)
	}
	for i := range wantTasks {
		if tasks[i] != wantTasks[i] {
			t.Fatalf("tasks = %v, want %v", tasks, wantTasks)
		}
	}
}

func TestSummarizeChangeNoDiff(t *testing.T) {
	t.Parallel()
	cfg := &Config{Tasks: []TaskConfig{{Name: "a", Command: []string{"true"}}}}
	changed, _, tasks := SummarizeChange(cfg, cfg)
	if len(changed) != 0 || len(tasks) != 0 {
		t.Fatalf("got changed=%v tasks=%v for identical configs", changed, tasks)
	}
}
