// Package llm provides an OpenRouter chat client that returns JSON payloads.
//
// The recommendation provider sends a system prompt describing the expected
// JSON shape plus a user prompt built from the viewer's history, and decodes
// the reply with DecodeJSON, which tolerates code fences and surrounding
// prose.
//
// Requests are retried on HTTP 408/429/5xx, network timeouts and empty
// completions with exponential backoff (base 1s, max 10s, 5 attempts by
// default). Failures carry the services error markers so callers can tell a
// bad key (ErrConfiguration) from an outage (ErrUpstreamUnavailable) or a
// deadline (ErrUpstreamTimeout).
package llm
