// Package textutil provides title normalization and similarity helpers.
//
// Fold and NormalizeTitle use golang.org/x/text to strip accents and case so
// titles from different sources compare equal. Fingerprints are term
// frequency vectors used to match free-text titles (from ranked feeds or the
// recommendation provider) against catalog search results.
package textutil
