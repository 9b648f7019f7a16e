package catalog

import (
	"fmt"
	"strings"
	"time"

	"curator/internal/rules"
)

// ItemType distinguishes movies from series.
type ItemType string

const (
	Movie  ItemType = "Movie"
	Series ItemType = "Series"
)

// AllItemTypes returns the supported item types in display order.
func AllItemTypes() []ItemType {
	return []ItemType{Movie, Series}
}

// ParseItemType accepts the canonical names plus common aliases.
func ParseItemType(value string) (ItemType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "movie", "movies", "film":
		return Movie, nil
	case "series", "tv", "show", "shows":
		return Series, nil
	default:
		return "", fmt.Errorf("unknown item type %q", value)
	}
}

// Item is the catalog metadata the engine needs about one title.
type Item struct {
	MediaID          int64      `json:"mediaId"`
	ItemType         ItemType   `json:"itemType"`
	Title            string     `json:"title"`
	OriginalTitle    string     `json:"originalTitle,omitempty"`
	Overview         string     `json:"overview,omitempty"`
	Year             int        `json:"year,omitempty"`
	ReleaseDate      *time.Time `json:"releaseDate,omitempty"`
	Genres           []string   `json:"genres,omitempty"`
	Rating           float64    `json:"rating,omitempty"`
	VoteCount        int64      `json:"voteCount,omitempty"`
	Popularity       float64    `json:"popularity,omitempty"`
	Runtime          int        `json:"runtime,omitempty"`
	OriginalLanguage string     `json:"originalLanguage,omitempty"`
	Certification    string     `json:"certification,omitempty"`
	Cast             []int64    `json:"-"`
	Directors        []int64    `json:"-"`
	PosterPath       string     `json:"posterPath,omitempty"`
}

// Identified reports whether the item carries a catalog id.
func (it Item) Identified() bool { return it.MediaID > 0 }

// ReleasedBy reports whether the item's release date is on or before the
// UTC calendar day of now. Items without a date are treated as released.
func (it Item) ReleasedBy(now time.Time) bool {
	if it.ReleaseDate == nil {
		return true
	}
	return !ReleaseInstant(*it.ReleaseDate).After(now)
}

// ReleaseInstant maps a date-precision release date to 00:00 UTC of that day.
func ReleaseInstant(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RuleEnv returns the static rule environment for the item.
func (it Item) RuleEnv() map[string]any {
	env := map[string]any{
		rules.FieldTitle:    it.Title,
		rules.FieldGenres:   it.Genres,
		rules.FieldActor:    it.Cast,
		rules.FieldDirector: it.Directors,
	}
	if it.Year > 0 {
		env[rules.FieldYear] = float64(it.Year)
	}
	if it.VoteCount > 0 || it.Rating > 0 {
		env[rules.FieldRating] = it.Rating
	}
	if it.Runtime > 0 {
		env[rules.FieldRuntime] = float64(it.Runtime)
	}
	if it.OriginalLanguage != "" {
		env[rules.FieldOriginalLanguage] = it.OriginalLanguage
	}
	if it.Certification != "" {
		env[rules.FieldCertification] = it.Certification
	}
	if it.ReleaseDate != nil {
		env[rules.FieldReleaseDate] = *it.ReleaseDate
	}
	return env
}

// ViewerState is per-viewer data for one item, supplied by the media server.
type ViewerState struct {
	Favorite   bool
	Played     bool
	InProgress bool
	LastPlayed *time.Time
}

// PlaybackStatus collapses played/in-progress flags into the dynamic field value.
func (s ViewerState) PlaybackStatus() string {
	switch {
	case s.Played:
		return rules.PlaybackPlayed
	case s.InProgress:
		return rules.PlaybackInProgress
	default:
		return rules.PlaybackUnplayed
	}
}

// RuleEnv returns the dynamic rule environment for the state.
func (s ViewerState) RuleEnv() map[string]any {
	env := map[string]any{
		rules.FieldIsFavorite:     s.Favorite,
		rules.FieldPlaybackStatus: s.PlaybackStatus(),
	}
	if s.LastPlayed != nil {
		env[rules.FieldLastPlayed] = *s.LastPlayed
	}
	return env
}
