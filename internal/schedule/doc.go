// Package schedule provides wall-clock triggers (cron, fixed intervals and
// one-shot deadlines) whose jobs run on the host's main cycle.
//
// Triggers fire on robfig/cron's goroutine; the job itself is always handed to
// cycle.Host.RunTask, so jobs may touch main-cycle state without locking.
// A trigger that fires while the previous run is still queued is skipped.
package schedule
