// Package aggregate merges ranked candidate lists from registry sources.
//
// The registry is an explicit, versioned YAML document mapping source ids to
// definitions (static lists, TMDB lists and charts, JSON feeds). A Resolver
// fetches the lists for a collection in parallel; Aggregate concatenates them
// in source order, honoring per-source limits and dropping later duplicates.
package aggregate
