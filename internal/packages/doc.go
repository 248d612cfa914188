// Package packages implements the Package & Container Lifecycle Manager:
// a transactional, declarative installer for tool-server packages. It
// composes a Package Index (multi-registry, failover-backed), a Dependency
// Resolver, a Transaction Log, and a Container Manager behind a single
// Registry Service that orchestrates install/update/remove/rollback.
//
// Every write to the declared-state file goes through a short critical
// section; runtime container identifiers are reconciled into memory at
// startup and are never persisted, keeping the declared-state file
// portable across hosts.
package packages
