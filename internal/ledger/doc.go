// Package ledger tracks per-media subscription state.
//
// Each (mediaId, itemType, season) key moves through a small state machine:
// NONE, WANTED, PENDING_RELEASE, SUBSCRIBED and IGNORED. Ledger.Transition
// enforces the allowed moves, records provenance, and writes through a
// RecordStore with optimistic versioning so concurrent writers to one key are
// serialized while different keys proceed in parallel. ApplyBatch runs many
// independent transitions and reports one outcome per request.
//
// PromoteReleased moves PENDING_RELEASE records whose release date has passed
// (00:00 UTC of the release day) to WANTED; the daemon calls it on a timer.
package ledger
