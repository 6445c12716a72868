// Package credential owns every secret the gateway knows about.
//
// Values come from two places at bootstrap: an allowlisted slice of process
// environment variables and a key-value file. Nothing else in the gateway
// reads the process environment; children get their credentials injected
// explicitly through the transport layer. The store is mutable at runtime,
// readers take snapshots, and subscribers are notified on every change
// (including file reloads picked up through fsnotify).
package credential
