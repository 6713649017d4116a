package audit

// Package audit persists task run history.
//
// It currently supports:
//   - Run outcome appends (one row per invocation)
//   - Recent-run queries for status/inspection surfaces
