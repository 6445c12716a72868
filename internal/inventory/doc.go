// Package inventory caches which tools each backend advertises.
//
// The cache is persisted to a single JSON artifact after every mutation
// (written via temp-file-and-rename so a crash never leaves a torn file)
// and reloaded at startup. Entries age out of freshness after five minutes;
// the router treats a stale entry as absent, which forces a fresh
// start-then-discover cycle. Concurrent discoveries of one backend coalesce
// into a single tools/list.
package inventory
