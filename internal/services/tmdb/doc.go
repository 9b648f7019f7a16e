// Package tmdb wraps the subset of The Movie Database API that curator
// relies on.
//
// The Client handles request signing, throttling and error classification.
// Catalog builds on it to answer rule-set queries, pushing the filters TMDB
// understands into /discover and evaluating the rest locally. ListFetcher and
// ChartFetcher expose TMDB lists and charts as ranked-list sources, and
// Matcher resolves free-text titles to catalog ids.
package tmdb
