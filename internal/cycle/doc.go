// Package cycle is the cooperative task runtime shared by every plugin.
//
// A host advances one logical main cycle in discrete ticks. Components in this
// package register a per-cycle callback with the host only while they have
// work (Lifecycle), drain queued items under a strict per-cycle time budget
// (BoundedQueue), run recurring per-cycle listeners (SnapshotWorker), delay
// work by a number of cycles (DelayedActions), and hand values computed on
// worker goroutines back to the main cycle (Relay, Future).
//
// Unless stated otherwise, mutating methods are safe to call from any
// goroutine, while item execution always happens on the main cycle.
package cycle
