package collection

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"curator/internal/aggregate"
	"curator/internal/catalog"
	"curator/internal/rules"
	"curator/internal/services"
)

const (
	maxNameLength              = 200
	defaultRecommendationLimit = 20
	maxRecommendationLimit     = 100
	maxListSources             = 25
)

// SourceChecker reports whether a ranked-list source id is registered.
type SourceChecker interface {
	Has(id string) bool
}

// Normalize validates def and returns a copy with defaults applied.
//
// Rule sets are validated against the static and dynamic schemas, which also
// fills in missing operators. A list collection asking for native order with
// more than one source or a limit is switched to title ascending, since only
// a single unlimited source has a meaningful native order. sources may be
// nil to skip the registry check.
func Normalize(def Definition, sources SourceChecker) (Definition, error) {
	out := def
	out.Name = strings.TrimSpace(def.Name)
	out.Description = strings.TrimSpace(def.Description)
	if out.Name == "" {
		return Definition{}, invalid("name is required", nil)
	}
	if utf8.RuneCountInString(out.Name) > maxNameLength {
		return Definition{}, invalid(fmt.Sprintf("name is longer than %d characters", maxNameLength), nil)
	}

	if def.Spec == nil {
		return Definition{}, invalid("spec is required", nil)
	}
	if out.Type == "" {
		out.Type = def.Spec.Type()
	}
	t, err := ParseType(string(out.Type))
	if err != nil {
		return Definition{}, invalid(err.Error(), nil)
	}
	if def.Spec.Type() != t {
		return Definition{}, invalid(fmt.Sprintf("spec is for %s collections, not %s", def.Spec.Type(), t), nil)
	}
	out.Type = t

	itemTypes, err := normalizeItemTypes(def.ItemTypes)
	if err != nil {
		return Definition{}, invalid(err.Error(), nil)
	}
	out.ItemTypes = itemTypes

	switch spec := def.Spec.(type) {
	case FilterSpec:
		out.Spec, err = normalizeFilter(spec)
	case ListSpec:
		out.Spec, err = normalizeList(spec, sources)
	case RecommendationSpec:
		out.Spec, err = normalizeRecommendation(spec)
	default:
		err = invalid(fmt.Sprintf("unsupported spec %T", def.Spec), nil)
	}
	if err != nil {
		return Definition{}, err
	}

	if err := normalizeSort(&out); err != nil {
		return Definition{}, err
	}
	out.Visibility = normalizeStrings(def.Visibility)

	switch Status(strings.ToLower(strings.TrimSpace(string(def.Status)))) {
	case "", StatusActive:
		out.Status = StatusActive
	case StatusPaused:
		out.Status = StatusPaused
	default:
		return Definition{}, invalid(fmt.Sprintf("unknown status %q", def.Status), nil)
	}
	return out, nil
}

func invalid(message string, err error) error {
	return services.Wrap(services.ErrValidation, "collection", "normalize", message, err)
}

func normalizeItemTypes(values []catalog.ItemType) ([]catalog.ItemType, error) {
	if len(values) == 0 {
		return catalog.AllItemTypes(), nil
	}
	out := make([]catalog.ItemType, 0, len(values))
	for _, v := range values {
		parsed, err := catalog.ParseItemType(string(v))
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, parsed) {
			out = append(out, parsed)
		}
	}
	return out, nil
}

func normalizeFilter(spec FilterSpec) (Spec, error) {
	static, err := rules.Validate(spec.Static, rules.StaticSchema())
	if err != nil {
		return nil, invalid("static rules", err)
	}
	out := FilterSpec{Static: static, LibraryScope: normalizeStrings(spec.LibraryScope)}
	if spec.Dynamic != nil && !spec.Dynamic.IsEmpty() {
		dynamic, err := rules.Validate(*spec.Dynamic, rules.DynamicSchema())
		if err != nil {
			return nil, invalid("dynamic rules", err)
		}
		out.Dynamic = &dynamic
	}
	return out, nil
}

func normalizeList(spec ListSpec, sources SourceChecker) (Spec, error) {
	if len(spec.Sources) == 0 {
		return nil, invalid("at least one source is required", nil)
	}
	if len(spec.Sources) > maxListSources {
		return nil, invalid(fmt.Sprintf("at most %d sources are allowed", maxListSources), nil)
	}
	if spec.Limit != nil && *spec.Limit <= 0 {
		return nil, invalid("limit must be positive", nil)
	}
	out := ListSpec{Limit: spec.Limit, Sources: make([]aggregate.SourceSpec, 0, len(spec.Sources))}
	var problems []error
	seen := map[string]struct{}{}
	for i, src := range spec.Sources {
		id := strings.TrimSpace(src.SourceID)
		switch {
		case id == "":
			problems = append(problems, fmt.Errorf("sources[%d]: source id is required", i))
			continue
		case src.Limit != nil && *src.Limit <= 0:
			problems = append(problems, fmt.Errorf("sources[%d]: limit must be positive", i))
			continue
		case sources != nil && !sources.Has(id):
			problems = append(problems, fmt.Errorf("sources[%d]: unknown source %q", i, id))
			continue
		}
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Errorf("sources[%d]: duplicate source %q", i, id))
			continue
		}
		seen[id] = struct{}{}
		out.Sources = append(out.Sources, aggregate.SourceSpec{SourceID: id, Limit: src.Limit})
	}
	if len(problems) > 0 {
		return nil, invalid("list sources", errors.Join(problems...))
	}
	return out, nil
}

func normalizeRecommendation(spec RecommendationSpec) (Spec, error) {
	out := RecommendationSpec{
		TargetUserID: strings.TrimSpace(spec.TargetUserID),
		Prompt:       strings.TrimSpace(spec.Prompt),
		Limit:        spec.Limit,
	}
	if out.TargetUserID == "" {
		return nil, invalid("target user is required", nil)
	}
	switch {
	case out.Limit == 0:
		out.Limit = defaultRecommendationLimit
	case out.Limit < 0 || out.Limit > maxRecommendationLimit:
		return nil, invalid(fmt.Sprintf("limit must be between 1 and %d", maxRecommendationLimit), nil)
	}
	return out, nil
}

func normalizeSort(def *Definition) error {
	key := SortKey(strings.ToLower(strings.TrimSpace(string(def.SortKey))))
	if key == "" {
		key = SortNative
		if def.Type == TypeFilter {
			key = SortTitle
		}
	}
	if !slices.Contains(sortKeys, key) {
		return invalid(fmt.Sprintf("unknown sort key %q", def.SortKey), nil)
	}

	order := SortOrder(strings.ToLower(strings.TrimSpace(string(def.SortOrder))))
	switch order {
	case "":
		order = SortAsc
		if key == SortRating || key == SortPopularity {
			order = SortDesc
		}
	case SortAsc, SortDesc:
	default:
		return invalid(fmt.Sprintf("unknown sort order %q", def.SortOrder), nil)
	}

	if key == SortNative {
		if list, ok := def.Spec.(ListSpec); ok && !list.NativeOrderValid() {
			key, order = SortTitle, SortAsc
		}
	}
	def.SortKey = key
	def.SortOrder = order
	return nil
}

func normalizeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
