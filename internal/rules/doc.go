// Package rules defines the predicate schema for collection filters and the
// validation and compilation of rule sets.
//
// Two schemas exist. The static schema covers catalog metadata evaluated once
// when a collection is generated; the dynamic schema covers per-viewer state
// (favorites, playback) evaluated at read time. The schemas never share a
// field.
//
// Validate is pure: it repairs a missing operator to the field's first allowed
// operator, coerces values to canonical types, and reports every invalid
// predicate. Compile turns a valid rule set into an expr-lang program.
package rules
