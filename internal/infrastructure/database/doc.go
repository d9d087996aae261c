// Package database provides SQLite connectivity for Door Lock Core.
//
// The lock is an offline-first appliance: access decisions must be recorded
// locally even when the cloud backend is unreachable. This package manages:
//   - Opening the SQLite file with WAL mode and busy timeout pragmas
//   - Embedded schema migrations applied at startup
//   - Health checks for the daemon's readiness probe
//
// SQLite is configured with a single writer connection, which matches the
// daemon's access pattern (one tick loop, occasional API reads).
package database
