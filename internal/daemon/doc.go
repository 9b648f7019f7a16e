// Package daemon coordinates the long-running curator process.
//
// It owns the flock-based single-instance lock, the chi HTTP API, and the
// release-check loop that promotes pending releases once their UTC release
// day begins. Handlers stay thin: request decoding and status mapping live
// here while collection and ledger semantics live in the api, collection,
// evaluator and ledger packages.
package daemon
