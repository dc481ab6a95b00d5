// Package track owns frame-to-frame association of detections into
// persistent tracked entities.
//
// Responsibilities: greedy proximity matching, identity assignment
// (process-unique IDs and monotonically increasing display numbers),
// entity lifecycle (active, memory, expired), and stability diagnostics.
// Key types: TrackedEntity, Tracker.
//
// The tracker is deterministic: detections are matched in input order,
// candidate entities are scanned in creation order, and score ties are
// broken by the lowest display number. No SQL/database code is allowed
// in this package; persistence hooks go through the RemovalSink interface.
package track
