// Package fetch coordinates asset retrieval across the stub registry, the
// memory tier, the disk tier and the network. A Coordinator walks those
// stages in order for every request; a TransferManager guarantees at most one
// network transfer per canonical key and fans the outcome out to every
// waiter. Results are delivered through callbacks whose dispatch is governed
// by DispatchMode.
package fetch
