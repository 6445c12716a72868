// Package registry owns every backend record the gateway aggregates.
//
// Each backend carries a linear lifecycle (Unstarted → Starting → Running →
// Stopping → Stopped, with Failed reachable from anywhere) guarded by a
// per-backend mutex so transitions serialize without holding the registry
// map lock across I/O. A backend owns at most one live transport handle,
// dropped on teardown. Stopping keeps the catalog entry in place: a stopped
// backend restarts on the next routed call when lazy start allows it.
package registry
