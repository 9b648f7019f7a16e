// Package evaluator materializes collections into classified, ordered items.
//
// Materialize resolves raw candidates for a definition (catalog query, merged
// ranked lists, or provider recommendations), optionally filters them with
// the collection's dynamic rules for one viewer, annotates every item with a
// classification from the ledger and media-server presence, sorts, and
// pages. The viewer-agnostic part is shared between concurrent callers.
//
// Collaborator failures fail the whole call: there is no partial result.
package evaluator
