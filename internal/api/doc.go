// Package api defines wire-format types and services for the HTTP API and
// the CLI. It translates collection definitions, materialized results and
// ledger records into transport-friendly DTOs without coupling consumers to
// internal types.
//
// # Key Types
//
// TransitionItem/TransitionResponse: the batch transition surface. Items are
// validated with go-playground/validator before they reach the ledger and
// outcomes are reported per item in input order.
//
// SubscriptionRecord: a ledger record with RFC3339 timestamps.
//
// RuleValidationResponse: the normalized rule set, or itemized errors, so a
// UI and the server share the same auto-repair result.
//
// DaemonStatus: runtime information, ledger counts and upstream health.
//
// # Services
//
// CollectionService wraps collection CRUD with materialization and gap-fill.
// SubscriptionService wraps the ledger and enforces the batch size cap.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums (ledger status, item type) are exposed
// as their canonical strings. Timestamps use RFC3339 with milliseconds.
package api
