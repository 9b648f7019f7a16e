// Package emby talks to an Emby or Jellyfin media server.
//
// The Client answers library presence checks by TMDB provider id, reads
// per-viewer favorite and playback state for dynamic rules, lists library
// contents for scoped filter collections, and exposes a viewer's watch
// history to the recommendation provider. Requests authenticate with the
// X-Emby-Token header.
package emby
