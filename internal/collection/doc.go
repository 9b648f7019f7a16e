// Package collection defines virtual collections and their persistence rules.
//
// A Definition carries a Spec that is exactly one of FilterSpec, ListSpec or
// RecommendationSpec, selected by the definition's Type. Normalize validates
// a definition (rule sets are checked against the static and dynamic
// schemas) and applies defaults before anything is stored. Service wraps a
// Repository with id assignment, timestamps, visibility filtering, and the
// whole-set Reorder operation.
package collection
