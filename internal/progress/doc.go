// Package progress owns the live training status of a run. A Tracker receives
// checkpoint calls from the training loop, keeps the authoritative Snapshot,
// and hands immutable copies to a Publisher that fans them out to sinks on a
// single background goroutine without ever blocking the caller.
package progress
