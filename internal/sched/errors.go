package sched

import "errors"

var (
	// ErrDuplicateTask is returned by Register when the id is taken.
	ErrDuplicateTask = errors.New("task id already registered")

	// ErrUnknownTask is returned for operations on ids that are not registered.
	ErrUnknownTask = errors.New("unknown task id")

	// ErrTaskCancelled is the sentinel stored as a task's last error when a
	// running invocation is aborted via Cancel or Shutdown. Cancellations
	// count as task failures but are never fed into the circuit breaker.
	ErrTaskCancelled = errors.New("task was cancelled")
)
