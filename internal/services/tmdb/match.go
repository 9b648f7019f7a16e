package tmdb

import (
	"context"
	"errors"

	"curator/internal/aggregate"
	"curator/internal/catalog"
	"curator/internal/services"
	"curator/internal/textutil"
)

// minTitleSimilarity is the score a search result needs to count as a match.
const minTitleSimilarity = 0.8

// Matcher resolves free-text titles to TMDB ids.
type Matcher struct {
	client *Client
}

// NewMatcher wraps client.
func NewMatcher(client *Client) *Matcher {
	return &Matcher{client: client}
}

// Match searches for title and returns the best result whose title is close
// enough. A year, when known, must match within one year. The boolean is
// false when nothing qualifies.
func (m *Matcher) Match(ctx context.Context, title string, year int, itemType catalog.ItemType) (catalog.Item, bool, error) {
	if itemType == "" {
		itemType = catalog.Movie
	}
	search := m.client.SearchMovie
	if itemType == catalog.Series {
		search = m.client.SearchTV
	}
	resp, err := search(ctx, title, year)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return catalog.Item{}, false, nil
		}
		return catalog.Item{}, false, err
	}
	if len(resp.Results) == 0 && year > 0 {
		if resp, err = search(ctx, title, 0); err != nil {
			return catalog.Item{}, false, err
		}
	}

	var (
		best  catalog.Item
		score float64
	)
	for _, r := range resp.Results {
		candidate := toItem(r, itemType, nil)
		if year > 0 && candidate.Year > 0 && abs(candidate.Year-year) > 1 {
			continue
		}
		s := max(
			textutil.TitleSimilarity(title, candidate.Title),
			textutil.TitleSimilarity(title, candidate.OriginalTitle),
		)
		if textutil.NormalizeTitle(title) == textutil.NormalizeTitle(candidate.Title) {
			s = 1
		}
		if s > score {
			best, score = candidate, s
		}
	}
	if score < minTitleSimilarity {
		return catalog.Item{}, false, nil
	}
	return best, true, nil
}

// MatchingFetcher resolves unidentified candidates produced by another
// fetcher. Candidates that still cannot be matched stay unidentified.
type MatchingFetcher struct {
	next    aggregate.Fetcher
	matcher *Matcher
}

// NewMatchingFetcher wraps next.
func NewMatchingFetcher(next aggregate.Fetcher, matcher *Matcher) *MatchingFetcher {
	return &MatchingFetcher{next: next, matcher: matcher}
}

// Fetch delegates to the wrapped fetcher and then matches titles.
func (f *MatchingFetcher) Fetch(ctx context.Context, def aggregate.SourceDefinition, limit int) ([]aggregate.Candidate, error) {
	candidates, err := f.next.Fetch(ctx, def, limit)
	if err != nil {
		return nil, err
	}
	for i, c := range candidates {
		if c.Identified() || c.Title == "" {
			continue
		}
		item, ok, err := f.matcher.Match(ctx, c.Title, c.Year, c.ItemType)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates[i].Item = item
		}
	}
	return candidates, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
