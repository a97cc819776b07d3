// Package server hosts the Fiber HTTP service, the request middleware chain and
// the origin registry that maps Host headers to per-origin fetch coordinators.
// Bootstrap wires each configured origin to its upstream client, memory tier
// and the shared disk store; routes and proxy build on the exported types.
package server
