// Package preflight provides readiness checks for the upstream services and
// filesystem paths that curator depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start, since collections backed only by the local ledger still work. The
// CLI "config check" command prints the same results as a table.
//
// Each upstream check is gated by its config toggle; disabled features are skipped.
package preflight
