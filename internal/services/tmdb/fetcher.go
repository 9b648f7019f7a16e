package tmdb

import (
	"context"
	"fmt"

	"curator/internal/aggregate"
	"curator/internal/catalog"
)

// resultsPerPage is TMDB's fixed page size for charts.
const resultsPerPage = 20

// ListFetcher exposes public TMDB lists as ranked-list sources.
type ListFetcher struct {
	client *Client
}

// NewListFetcher wraps client.
func NewListFetcher(client *Client) *ListFetcher {
	return &ListFetcher{client: client}
}

// Fetch returns the list entries in list order. Entries that are neither
// movies nor series are skipped.
func (f *ListFetcher) Fetch(ctx context.Context, def aggregate.SourceDefinition, limit int) ([]aggregate.Candidate, error) {
	list, err := f.client.List(ctx, def.ListID)
	if err != nil {
		return nil, fmt.Errorf("tmdb list %s: %w", def.ListID, err)
	}
	fallback := defaultItemType(def)
	out := make([]aggregate.Candidate, 0, len(list.Items))
	for _, r := range list.Items {
		itemType, ok := itemTypeFor(r.MediaType, fallback)
		if !ok {
			continue
		}
		out = append(out, aggregate.Candidate{
			Item:     toItem(r, itemType, nil),
			SourceID: def.ID,
			Rank:     len(out) + 1,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ChartFetcher exposes TMDB charts (popular, top_rated, trending, ...) as
// ranked-list sources.
type ChartFetcher struct {
	client   *Client
	maxPages int
}

// NewChartFetcher wraps client. maxPages bounds reads when no limit is set.
func NewChartFetcher(client *Client, maxPages int) *ChartFetcher {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &ChartFetcher{client: client, maxPages: maxPages}
}

// Fetch reads chart pages until limit entries are collected.
func (f *ChartFetcher) Fetch(ctx context.Context, def aggregate.SourceDefinition, limit int) ([]aggregate.Candidate, error) {
	itemType := defaultItemType(def)
	pages := f.maxPages
	if limit > 0 {
		pages = min(pages, (limit+resultsPerPage-1)/resultsPerPage)
	}
	var out []aggregate.Candidate
	seen := map[int64]struct{}{}
	for page := 1; page <= pages; page++ {
		resp, err := f.client.Chart(ctx, mediaTypeFor(itemType), def.Chart, page)
		if err != nil {
			return nil, fmt.Errorf("tmdb chart %s: %w", def.Chart, err)
		}
		for _, r := range resp.Results {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, aggregate.Candidate{
				Item:     toItem(r, itemType, nil),
				SourceID: def.ID,
				Rank:     len(out) + 1,
			})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if page >= resp.TotalPages {
			break
		}
	}
	return out, nil
}

func defaultItemType(def aggregate.SourceDefinition) catalog.ItemType {
	if def.ItemType == "" {
		return catalog.Movie
	}
	t, err := catalog.ParseItemType(def.ItemType)
	if err != nil {
		return catalog.Movie
	}
	return t
}
