package tmdb_test

import (
	"context"
	"net/http"
	"testing"

	"curator/internal/aggregate"
	"curator/internal/catalog"
	"curator/internal/services/tmdb"
)

func searchServer(t *testing.T) *tmdb.Client {
	return newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/movie" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"page":1,"results":[
			{"id":604,"title":"The Matrix Reloaded","release_date":"2003-05-15"},
			{"id":603,"title":"The Matrix","release_date":"1999-03-31"}
		]}`))
	}))
}

func TestMatcherPicksClosestTitle(t *testing.T) {
	matcher := tmdb.NewMatcher(searchServer(t))
	ctx := context.Background()

	item, ok, err := matcher.Match(ctx, "The Matrix", 1999, catalog.Movie)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !ok || item.MediaID != 603 {
		t.Fatalf("expected The Matrix, got %+v (ok=%v)", item, ok)
	}

	_, ok, err = matcher.Match(ctx, "Completely Different", 0, catalog.Movie)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if ok {
		t.Fatal("expected no match for an unrelated title")
	}
}

func TestMatchingFetcherResolvesTitles(t *testing.T) {
	matcher := tmdb.NewMatcher(searchServer(t))
	next := aggregate.FetcherFunc(func(context.Context, aggregate.SourceDefinition, int) ([]aggregate.Candidate, error) {
		return []aggregate.Candidate{
			{Item: catalog.Item{ItemType: catalog.Movie, Title: "The Matrix", Year: 1999}, SourceID: "s", Rank: 1},
			{Item: catalog.Item{MediaID: 27205, ItemType: catalog.Movie, Title: "Inception"}, SourceID: "s", Rank: 2},
		}, nil
	})
	fetcher := tmdb.NewMatchingFetcher(next, matcher)
	got, err := fetcher.Fetch(context.Background(), aggregate.SourceDefinition{ID: "s"}, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got[0].MediaID != 603 || got[0].Rank != 1 || got[1].MediaID != 27205 {
		t.Fatalf("unexpected candidates %+v", got)
	}
}
