// Package dispatch drives the fixed-interval loop that reconciles the shared
// job table with the workers this instance supervises.
//
// Each cycle fetches every non-terminal job and routes it by its persisted
// status and whether a worker is registered for it:
//
//	malformed status                     -> Error
//	Pending, not registered              -> start, RunRequested
//	Pending, registered                  -> RunRequested (no second spawn)
//	RunRequested/Running, registered     -> kill-file check, then poll
//	RunRequested/Running, not registered -> recover (kill-file -> Error, else start)
//	CancelRequested, registered          -> kill-file check, then cancel
//	CancelRequested, not registered      -> Cancelled
//
// An unknown assessment or an unresolvable model is only fatal to a job when
// a worker would be started for it, and marks it Error.
//
// Error handling:
//   - Job table unreachable: log, append to the admin error log, skip the cycle
//   - Status write fails: log, carry on with the next job
//   - Launch fails: Error, nothing registered
//   - Duplicate registration: the loop stops with registry.ErrDuplicate
//
// The loop is single-threaded. Routing, the registry and every supervisor call
// happen on the goroutine running Run; the status server reads the snapshot
// published at the end of each cycle.
package dispatch
