// Package sched implements the task scheduling core.
//
// It owns the task registry and drives execution from two paths that share
// one code path: cron/interval triggers and manual RunNow calls. Per task it
// enforces overlap suppression, optional circuit breaking, and FIFO mutual
// exclusion across tasks sharing a mutex group. Invocations are cancellable
// cooperatively and the whole scheduler drains with a bounded timeout on
// Shutdown.
package sched
