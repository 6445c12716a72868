// Package lifecycle decides when an idle backend gets reaped.
//
// Every routed request marks its backend used and claims it for the calling
// client; a client disconnect releases its claims. Once a backend has no
// active clients, a reap deadline is registered with the single scheduler
// goroutine that owns all deadlines; there is no timer object per backend.
// Activity before the deadline cancels it; a deadline that fires while the
// backend is still idle hands the id to the reap callback.
package lifecycle
