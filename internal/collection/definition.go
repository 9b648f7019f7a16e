package collection

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"curator/internal/aggregate"
	"curator/internal/catalog"
	"curator/internal/rules"
)

// Type selects how a collection produces candidates.
type Type string

const (
	TypeFilter         Type = "filter"
	TypeList           Type = "list"
	TypeRecommendation Type = "recommendation"
)

// ParseType validates a collection type name.
func ParseType(value string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(value))); t {
	case TypeFilter, TypeList, TypeRecommendation:
		return t, nil
	default:
		return "", fmt.Errorf("unknown collection type %q", value)
	}
}

// Status controls whether viewers see a collection.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// SortKey names the attribute items are ordered by.
type SortKey string

const (
	// SortNative keeps the order produced by the source.
	SortNative      SortKey = "native"
	SortTitle       SortKey = "title"
	SortYear        SortKey = "year"
	SortRating      SortKey = "rating"
	SortReleaseDate SortKey = "release_date"
	SortPopularity  SortKey = "popularity"
	// SortAdded orders by when the item was first requested in the ledger.
	SortAdded SortKey = "added"
)

var sortKeys = []SortKey{SortNative, SortTitle, SortYear, SortRating, SortReleaseDate, SortPopularity, SortAdded}

// SortKeys returns the supported sort keys.
func SortKeys() []SortKey { return append([]SortKey(nil), sortKeys...) }

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Spec is the type-specific part of a definition. The concrete types are
// FilterSpec, ListSpec and RecommendationSpec.
type Spec interface {
	Type() Type
	isSpec()
}

// FilterSpec selects catalog items by rule. Static rules run at generation
// time; Dynamic rules run per viewer at read time.
type FilterSpec struct {
	Static       rules.RuleSet  `json:"static"`
	Dynamic      *rules.RuleSet `json:"dynamic,omitempty"`
	LibraryScope []string       `json:"libraryScope,omitempty"`
}

func (FilterSpec) Type() Type { return TypeFilter }
func (FilterSpec) isSpec()    {}

// ListSpec merges ranked lists from the source registry.
type ListSpec struct {
	Sources []aggregate.SourceSpec `json:"sources"`
	Limit   *int                   `json:"limit,omitempty"`
}

func (ListSpec) Type() Type { return TypeList }
func (ListSpec) isSpec()    {}

// NativeOrderValid reports whether the list keeps a single source's order.
func (s ListSpec) NativeOrderValid() bool {
	return aggregate.NativeOrderValid(s.Sources, s.Limit)
}

// RecommendationSpec asks the recommendation provider for a ranked list.
type RecommendationSpec struct {
	TargetUserID string `json:"targetUserId"`
	Prompt       string `json:"prompt,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (RecommendationSpec) Type() Type { return TypeRecommendation }
func (RecommendationSpec) isSpec()    {}

// Definition is a stored collection.
type Definition struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Type        Type               `json:"type"`
	ItemTypes   []catalog.ItemType `json:"itemTypes"`
	Spec        Spec               `json:"-"`
	SortKey     SortKey            `json:"sortKey"`
	SortOrder   SortOrder          `json:"sortOrder"`
	// Visibility lists viewer ids allowed to see the collection. Empty means everyone.
	Visibility []string  `json:"visibility,omitempty"`
	Status     Status    `json:"status"`
	OrderIndex int       `json:"orderIndex"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type definitionAlias Definition

type definitionJSON struct {
	definitionAlias
	Spec json.RawMessage `json:"spec"`
}

// MarshalJSON writes the spec under "spec" next to the type tag.
func (d Definition) MarshalJSON() ([]byte, error) {
	raw := json.RawMessage("null")
	if d.Spec != nil {
		encoded, err := json.Marshal(d.Spec)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(definitionJSON{definitionAlias: definitionAlias(d), Spec: raw})
}

// UnmarshalJSON decodes "spec" into the variant named by "type".
func (d *Definition) UnmarshalJSON(data []byte) error {
	var decoded definitionJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*d = Definition(decoded.definitionAlias)
	if len(decoded.Spec) == 0 || string(decoded.Spec) == "null" {
		return nil
	}
	spec, err := DecodeSpec(d.Type, decoded.Spec)
	if err != nil {
		return err
	}
	d.Spec = spec
	return nil
}

// DecodeSpec decodes raw JSON into the Spec variant for t.
func DecodeSpec(t Type, raw []byte) (Spec, error) {
	parsed, err := ParseType(string(t))
	if err != nil {
		return nil, err
	}
	switch parsed {
	case TypeFilter:
		var s FilterSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode filter spec: %w", err)
		}
		return s, nil
	case TypeList:
		var s ListSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode list spec: %w", err)
		}
		return s, nil
	default:
		var s RecommendationSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode recommendation spec: %w", err)
		}
		return s, nil
	}
}

// Visible reports whether viewerID may see def. An empty viewer id is an
// administrator and sees everything.
func Visible(def Definition, viewerID string) bool {
	if viewerID == "" {
		return true
	}
	if def.Status == StatusPaused {
		return false
	}
	if len(def.Visibility) == 0 {
		return true
	}
	return slices.Contains(def.Visibility, viewerID)
}
