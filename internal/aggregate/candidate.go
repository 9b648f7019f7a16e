package aggregate

import (
	"curator/internal/catalog"
	"curator/internal/textutil"
)

// Candidate is one ranked entry produced by a source.
type Candidate struct {
	catalog.Item
	Season   *int   `json:"season,omitempty"`
	SourceID string `json:"sourceId,omitempty"`
	// Rank is the 1-based position within the originating source.
	Rank int `json:"rank"`
}

// Key identifies a candidate for de-duplication. Identified candidates are
// keyed by (mediaId, itemType, season); unidentified ones by normalized title
// and year.
type Key struct {
	MediaID   int64
	ItemType  catalog.ItemType
	Season    int
	HasSeason bool
	Title     string
	Year      int
}

// Key returns the de-duplication key for c.
func (c Candidate) Key() Key {
	k := Key{MediaID: c.MediaID, ItemType: c.ItemType}
	if c.Season != nil {
		k.Season = *c.Season
		k.HasSeason = true
	}
	if c.MediaID <= 0 {
		k.MediaID = 0
		k.Title = textutil.NormalizeTitle(c.Title)
		k.Year = c.Year
	}
	return k
}

// RankedList is the ordered output of one source, with an optional take limit.
type RankedList struct {
	SourceID string
	Items    []Candidate
	Limit    *int
}

// SourceSpec selects a registry source for a list collection.
type SourceSpec struct {
	SourceID string `json:"sourceId" yaml:"source_id"`
	Limit    *int   `json:"limit,omitempty" yaml:"limit,omitempty"`
}
