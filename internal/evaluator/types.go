package evaluator

import (
	"context"
	"time"

	"curator/internal/aggregate"
	"curator/internal/catalog"
	"curator/internal/ledger"
	"curator/internal/rules"
)

// Catalog queries and enriches catalog metadata.
type Catalog interface {
	QueryByRuleSet(ctx context.Context, rs rules.RuleSet, itemTypes []catalog.ItemType, libraryScope []string) ([]catalog.Item, error)
	// Enrich fills metadata for identified items that lack it.
	Enrich(ctx context.Context, items []catalog.Item) ([]catalog.Item, error)
}

// ListResolver fetches ranked lists for list collections.
type ListResolver interface {
	Resolve(ctx context.Context, specs []aggregate.SourceSpec, limit *int) ([]aggregate.RankedList, error)
}

// Recommender returns ranked items for a user. Items it could not match to
// a catalog id carry MediaID 0.
type Recommender interface {
	Recommend(ctx context.Context, targetUserID, prompt string, limit int) ([]catalog.Item, error)
}

// Presence reports whether an item exists in the media server library.
type Presence interface {
	IsInLibrary(ctx context.Context, mediaID int64, itemType catalog.ItemType, season *int) (bool, string, error)
}

// ViewerStates supplies per-viewer favorite and playback data keyed by media id.
type ViewerStates interface {
	UserState(ctx context.Context, userID string, items []catalog.Item) (map[int64]catalog.ViewerState, error)
}

// LedgerReader loads subscription records.
type LedgerReader interface {
	ForMedia(ctx context.Context, mediaIDs []int64) ([]ledger.Record, error)
}

// BatchApplier submits ledger transitions.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, reqs []ledger.TransitionRequest) ledger.BatchResult
}

// ViewerContext identifies the viewer a materialization is for.
type ViewerContext struct {
	UserID string
}

// Page selects a window of the result.
type Page struct {
	Offset int
	Limit  int
}

// Classification is the availability of one item.
type Classification string

const (
	ClassInLibrary    Classification = "in_library"
	ClassMissing      Classification = "missing"
	ClassUnreleased   Classification = "unreleased"
	ClassSubscribed   Classification = "subscribed"
	ClassPaused       Classification = "paused"
	ClassUnidentified Classification = "unidentified"
)

// Item is one materialized entry.
type Item struct {
	catalog.Item
	Season           *int           `json:"season,omitempty"`
	SourceID         string         `json:"sourceId,omitempty"`
	Rank             int            `json:"rank"`
	Status           Classification `json:"status"`
	LedgerStatus     ledger.Status  `json:"ledgerStatus"`
	LibraryItemID    string         `json:"libraryItemId,omitempty"`
	FirstRequestedAt *time.Time     `json:"firstRequestedAt,omitempty"`
}

// Result is one page of a materialized collection.
type Result struct {
	CollectionID string                 `json:"collectionId"`
	ViewerID     string                 `json:"viewerId,omitempty"`
	Items        []Item                 `json:"items"`
	Total        int                    `json:"total"`
	Offset       int                    `json:"offset"`
	Limit        int                    `json:"limit"`
	Counts       map[Classification]int `json:"counts"`
	GeneratedAt  time.Time              `json:"generatedAt"`
}
