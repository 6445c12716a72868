// Package app is the composition root: it builds every subsystem from the
// loaded catalog, starts them in dependency order, and tears them down in
// reverse on shutdown.
package app
