// Package app assembles curator's runtime graph from configuration: the
// SQLite store, the subscription ledger, the collection service, upstream
// clients, and the evaluator, plus the API services the daemon serves.
//
// Both the daemon and the CLI build an App so they share one wiring path.
package app
