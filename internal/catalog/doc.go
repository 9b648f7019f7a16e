// Package catalog holds the media item model shared by the aggregator, the
// evaluator, and the external integrations.
package catalog
