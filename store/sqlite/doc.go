// Package sqlite provides a SQLite implementation of store.Store backed
// by modernc.org/sqlite (pure Go, no cgo). A single store serves one
// engine process; writes are serialized through an internal mutex so the
// database never sees concurrent writers. Suitable for single-node
// deployments and integration tests that need durability without a
// Postgres server.
package sqlite
