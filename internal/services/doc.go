// Package services defines shared utilities consumed by the engine packages
// and the external integrations under it.
//
// Key responsibilities:
//   - Context helpers that stamp correlation and viewer identifiers for
//     logging.
//   - Structured error markers plus the Wrap helper so HTTP handlers and the
//     CLI can classify failures (validation, not found, upstream timeout)
//     without string matching.
//
// The subpackages wrap the catalog (tmdb), media server (emby), and
// recommendation (llm) HTTP APIs.
package services
