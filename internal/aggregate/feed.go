package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"curator/internal/catalog"
)

// HTTPDoer captures the subset of http.Client used by the feed fetcher.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// FeedFetcher reads custom ranked feeds: a JSON document of the form
// {"items":[{"tmdb_id":603,"type":"movie","title":"The Matrix","year":1999}]}.
// Entries without a tmdb_id are kept as unidentified candidates.
type FeedFetcher struct {
	client HTTPDoer
}

// NewFeedFetcher constructs a feed fetcher. A nil client uses http.DefaultClient.
func NewFeedFetcher(client HTTPDoer) *FeedFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeedFetcher{client: client}
}

type feedDocument struct {
	Items []feedItem `json:"items"`
}

type feedItem struct {
	TMDBID int64  `json:"tmdb_id"`
	Type   string `json:"type"`
	Season *int   `json:"season"`
	Title  string `json:"title"`
	Year   int    `json:"year"`
}

// Fetch downloads and decodes the feed at def.URL.
func (f *FeedFetcher) Fetch(ctx context.Context, def SourceDefinition, limit int) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, def.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %d", def.ID, resp.StatusCode)
	}

	var doc feedDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	items := doc.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]Candidate, 0, len(items))
	for i, item := range items {
		typeName := item.Type
		if typeName == "" {
			typeName = def.ItemType
		}
		entry := StaticItem{MediaID: item.TMDBID, ItemType: typeName, Season: item.Season, Title: item.Title, Year: item.Year}
		c, err := entry.candidate(def.ID, i+1)
		if err != nil {
			return nil, fmt.Errorf("feed %s item %d: %w", def.ID, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s StaticItem) candidate(sourceID string, rank int) (Candidate, error) {
	itemType, err := catalog.ParseItemType(s.ItemType)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Item: catalog.Item{
			MediaID:  s.MediaID,
			ItemType: itemType,
			Title:    strings.TrimSpace(s.Title),
			Year:     s.Year,
		},
		Season:   s.Season,
		SourceID: sourceID,
		Rank:     rank,
	}, nil
}
