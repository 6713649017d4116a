// Package breaker implements a reusable consecutive-failure circuit breaker.
//
// It guards any fallible operation: after MaxFailures consecutive failures
// the circuit opens and calls fail fast; after a cooldown it allows probe
// attempts, and enough consecutive probe successes close it again.
//
// All time-based transitions are computed lazily from an injected clock at
// the moment of observation, which keeps the state machine deterministic
// under test.
package breaker
