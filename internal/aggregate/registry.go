package aggregate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"curator/internal/catalog"
)

// SourceKind selects the fetcher used for a source.
type SourceKind string

const (
	KindStatic    SourceKind = "static"
	KindTMDBList  SourceKind = "tmdb_list"
	KindTMDBChart SourceKind = "tmdb_chart"
	KindFeed      SourceKind = "feed"
)

// StaticItem is an inline entry of a static source.
type StaticItem struct {
	MediaID  int64  `yaml:"media_id"`
	ItemType string `yaml:"item_type"`
	Season   *int   `yaml:"season,omitempty"`
	Title    string `yaml:"title"`
	Year     int    `yaml:"year,omitempty"`
}

// SourceDefinition describes one ranked list in the registry.
type SourceDefinition struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name" json:"name"`
	Kind     SourceKind   `yaml:"kind" json:"kind"`
	ItemType string       `yaml:"item_type,omitempty" json:"itemType,omitempty"`
	Chart    string       `yaml:"chart,omitempty" json:"chart,omitempty"`
	ListID   string       `yaml:"list_id,omitempty" json:"listId,omitempty"`
	URL      string       `yaml:"url,omitempty" json:"url,omitempty"`
	Items    []StaticItem `yaml:"items,omitempty" json:"-"`
}

type registryFile struct {
	Version int                `yaml:"version"`
	Sources []SourceDefinition `yaml:"sources"`
}

// Registry is an immutable, versioned lookup of ranked-list sources.
type Registry struct {
	version int
	sources []SourceDefinition
	index   map[string]int
}

// NewRegistry validates and indexes the given definitions.
func NewRegistry(version int, defs []SourceDefinition) (*Registry, error) {
	r := &Registry{version: version, index: make(map[string]int, len(defs))}
	for i, def := range defs {
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return nil, fmt.Errorf("source %d: id is required", i)
		}
		if _, dup := r.index[def.ID]; dup {
			return nil, fmt.Errorf("source %q: duplicate id", def.ID)
		}
		if err := validateDefinition(def); err != nil {
			return nil, fmt.Errorf("source %q: %w", def.ID, err)
		}
		if def.Name == "" {
			def.Name = def.ID
		}
		r.index[def.ID] = len(r.sources)
		r.sources = append(r.sources, def)
	}
	return r, nil
}

func validateDefinition(def SourceDefinition) error {
	if def.ItemType != "" {
		if _, err := catalog.ParseItemType(def.ItemType); err != nil {
			return err
		}
	}
	switch def.Kind {
	case KindStatic:
		for i, item := range def.Items {
			if item.MediaID <= 0 && strings.TrimSpace(item.Title) == "" {
				return fmt.Errorf("item %d: media_id or title is required", i)
			}
			if _, err := catalog.ParseItemType(item.ItemType); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	case KindTMDBList:
		if strings.TrimSpace(def.ListID) == "" {
			return errors.New("list_id is required")
		}
	case KindTMDBChart:
		if strings.TrimSpace(def.Chart) == "" {
			return errors.New("chart is required")
		}
	case KindFeed:
		if !strings.HasPrefix(def.URL, "http://") && !strings.HasPrefix(def.URL, "https://") {
			return errors.New("url must be http or https")
		}
	default:
		return fmt.Errorf("unknown kind %q", def.Kind)
	}
	return nil
}

// ParseRegistry decodes a YAML registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse source registry: %w", err)
	}
	return NewRegistry(file.Version, file.Sources)
}

// LoadRegistry reads the registry file at path. A missing file yields an
// empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewRegistry(0, nil)
		}
		return nil, fmt.Errorf("read source registry: %w", err)
	}
	return ParseRegistry(data)
}

// Version returns the registry document version.
func (r *Registry) Version() int { return r.version }

// Lookup returns the definition for id.
func (r *Registry) Lookup(id string) (SourceDefinition, bool) {
	i, ok := r.index[id]
	if !ok {
		return SourceDefinition{}, false
	}
	return r.sources[i], true
}

// Sources returns all definitions in file order.
func (r *Registry) Sources() []SourceDefinition {
	return slices.Clone(r.sources)
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}
