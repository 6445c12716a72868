// Package health runs the periodic liveness loop.
//
// Every running backend is probed on its own terms: a child process is
// healthy while it is alive, an HTTP backend answers a GET on its /health
// suffix within five seconds, an SSE backend is healthy while its stream is
// open. Probes classify by response time and never stop a backend; a slow or
// failed probe only surfaces through the status endpoints. A child or SSE
// transport found closed under a Running backend marks that backend Failed.
package health
