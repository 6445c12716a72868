// Package logging provides a thin subsystem-tagged wrapper over log/slog.
//
// Every component logs through Debug/Info/Warn/Error with a short subsystem
// tag (e.g. "Router", "Registry") so that a single gateway log stream can be
// filtered per concern. Init must be called once at startup; until then all
// output falls back to stderr.
package logging
