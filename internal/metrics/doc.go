// Package metrics exposes the Prometheus collectors for curator.
//
// HTTP traffic is recorded by Middleware, keyed on chi route patterns so path
// parameters do not explode label cardinality. Engine collectors cover
// collection materialization, ledger transitions, and upstream calls.
package metrics
