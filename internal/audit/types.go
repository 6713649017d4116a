package audit

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit storage disabled")

// Config configures run-history storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Keep        int           // max retained rows; 0 means default
}

// RunEntry records one settled task invocation.
// Keep it compact and schema-stable.
type RunEntry struct {
	At      time.Time `json:"at"`
	Task    string    `json:"task"`
	Trigger string    `json:"trigger"`
	Outcome string    `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
