// Package store persists collections and the subscription ledger in SQLite.
//
// Store implements collection.Repository and ledger.RecordStore over one
// WAL-mode database. Writes retry on SQLITE_BUSY with a short backoff.
// Ledger rows carry a version column for optimistic concurrency, and
// ReorderCollections rewrites every order index inside one transaction.
//
// The schema is embedded and versioned; a database with a different
// version is rejected with ErrSchemaMismatch.
package store
