package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"curator/internal/catalog"
)

// Key identifies one ledger row. Season is set only for season-level records
// of a series.
type Key struct {
	MediaID  int64            `json:"mediaId"`
	ItemType catalog.ItemType `json:"itemType"`
	Season   *int             `json:"season,omitempty"`
}

// SeriesKey returns the key without its season.
func (k Key) SeriesKey() Key {
	return Key{MediaID: k.MediaID, ItemType: k.ItemType}
}

// SeasonNumber returns the season, or -1 for whole-item keys.
func (k Key) SeasonNumber() int {
	if k.Season == nil {
		return -1
	}
	return *k.Season
}

func (k Key) String() string {
	s := string(k.ItemType) + ":" + strconv.FormatInt(k.MediaID, 10)
	if k.Season != nil {
		s += ":s" + strconv.Itoa(*k.Season)
	}
	return s
}

// Validate checks the key's shape.
func (k Key) Validate() error {
	if k.MediaID <= 0 {
		return fmt.Errorf("media id must be positive")
	}
	switch k.ItemType {
	case catalog.Movie:
		if k.Season != nil {
			return fmt.Errorf("movies do not have seasons")
		}
	case catalog.Series:
		if k.Season != nil && *k.Season < 0 {
			return fmt.Errorf("season must not be negative")
		}
	default:
		return fmt.Errorf("unknown item type %q", k.ItemType)
	}
	return nil
}

// Provenance types.
const (
	ProvenanceUser         = "user"
	ProvenanceActorRule    = "actor_rule"
	ProvenanceCollection   = "collection"
	ProvenanceReleaseCheck = "release_check"
	ProvenanceImport       = "import"
)

// Provenance records why a subscription request exists.
type Provenance struct {
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// ParseProvenance reads the "type" or "type:detail" form used by the API.
func ParseProvenance(value string) (Provenance, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Provenance{}, fmt.Errorf("source is required")
	}
	typ, detail, _ := strings.Cut(value, ":")
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ == "" {
		return Provenance{}, fmt.Errorf("source type is required")
	}
	return Provenance{Type: typ, Detail: strings.TrimSpace(detail)}, nil
}

func (p Provenance) String() string {
	if p.Detail == "" {
		return p.Type
	}
	return p.Type + ":" + p.Detail
}

// maxProvenance bounds the history kept on one record.
const maxProvenance = 25

// Record is the persisted state of one key.
type Record struct {
	Key
	Status           Status       `json:"status"`
	Sources          []Provenance `json:"sources"`
	IgnoreReason     string       `json:"ignoreReason,omitempty"`
	Paused           bool         `json:"paused"`
	ReleaseDate      *time.Time   `json:"releaseDate,omitempty"`
	Title            string       `json:"title,omitempty"`
	FirstRequestedAt time.Time    `json:"firstRequestedAt"`
	LastTransitionAt time.Time    `json:"lastTransitionAt"`
	// Version increases on every write; zero means the record is not stored.
	Version int64 `json:"version"`
}

// Released reports whether the record's release date has passed at now.
// Records without a date are never released automatically.
func (r Record) Released(now time.Time) bool {
	if r.ReleaseDate == nil {
		return false
	}
	return !catalog.ReleaseInstant(*r.ReleaseDate).After(now)
}

// prependProvenance puts p in front of history. Earlier entries are kept,
// including ones with the same origin, until the history reaches
// maxProvenance.
func prependProvenance(history []Provenance, p Provenance) []Provenance {
	n := min(len(history), maxProvenance-1)
	out := make([]Provenance, 0, n+1)
	out = append(out, p)
	return append(out, history[:n]...)
}
