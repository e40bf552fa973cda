// Package storage is the job store: one-shot scheduled events, the
// append-only execution audit, and last-fired bookkeeping for recurring jobs.
//
// Drivers:
//   - sqlite: modernc.org/sqlite database file (default)
//   - file:   JSON snapshot + journal, dependency-free
//   - memory: process-local, nothing survives a restart
//
// All timestamps are stored as naive UTC "YYYY-MM-DD HH:MM:SS".
package storage
