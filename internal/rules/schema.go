package rules

import (
	"fmt"
	"slices"
)

// ValueKind describes the shape of the data a field holds.
type ValueKind string

const (
	KindText         ValueKind = "text"
	KindNumeric      ValueKind = "numeric"
	KindEnumSingle   ValueKind = "enum-single"
	KindEnumMulti    ValueKind = "enum-multi"
	KindBoolean      ValueKind = "boolean"
	KindDateRelative ValueKind = "date-relative"
	KindPerson       ValueKind = "person-reference"
)

// Operator is a comparison applied between a field and a predicate value.
type Operator string

const (
	OpEq            Operator = "eq"
	OpGte           Operator = "gte"
	OpLte           Operator = "lte"
	OpContains      Operator = "contains"
	OpIs            Operator = "is"
	OpIsOneOf       Operator = "is_one_of"
	OpIsNoneOf      Operator = "is_none_of"
	OpInLastDays    Operator = "in_last_days"
	OpNotInLastDays Operator = "not_in_last_days"
)

// Arity is the value shape an operator expects.
type Arity int

const (
	ArityScalar Arity = iota
	AritySet
	ArityDays
)

func (a Arity) String() string {
	switch a {
	case AritySet:
		return "list"
	case ArityDays:
		return "days"
	default:
		return "scalar"
	}
}

var operatorArity = map[Operator]Arity{
	OpEq:            ArityScalar,
	OpGte:           ArityScalar,
	OpLte:           ArityScalar,
	OpContains:      ArityScalar,
	OpIs:            ArityScalar,
	OpIsOneOf:       AritySet,
	OpIsNoneOf:      AritySet,
	OpInLastDays:    ArityDays,
	OpNotInLastDays: ArityDays,
}

// Arity reports the value shape for the operator. Unknown operators report false.
func (o Operator) Arity() (Arity, bool) {
	a, ok := operatorArity[o]
	return a, ok
}

// Scope separates catalog fields from per-viewer fields.
type Scope string

const (
	ScopeStatic  Scope = "static"
	ScopeDynamic Scope = "dynamic"
)

// FieldDescriptor is the immutable definition of a filterable field.
type FieldDescriptor struct {
	Name      string     `json:"name"`
	Label     string     `json:"label"`
	Kind      ValueKind  `json:"valueKind"`
	Operators []Operator `json:"allowedOperators"`
	// Values restricts enum fields to a fixed domain. Empty means open.
	Values []string `json:"values,omitempty"`
}

// Allows reports whether op is one of the field's allowed operators.
func (f FieldDescriptor) Allows(op Operator) bool {
	return slices.Contains(f.Operators, op)
}

// DefaultOperator is the operator assigned when a predicate omits one.
func (f FieldDescriptor) DefaultOperator() Operator {
	return f.Operators[0]
}

// Schema is an ordered registry of field descriptors for one scope.
type Schema struct {
	scope  Scope
	fields []FieldDescriptor
	index  map[string]int
}

// NewSchema builds a schema, rejecting duplicate names and fields without operators.
func NewSchema(scope Scope, fields ...FieldDescriptor) (*Schema, error) {
	s := &Schema{scope: scope, index: make(map[string]int, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema %s: field without name", scope)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate field %q", scope, f.Name)
		}
		if len(f.Operators) == 0 {
			return nil, fmt.Errorf("schema %s: field %q has no operators", scope, f.Name)
		}
		for _, op := range f.Operators {
			if _, ok := op.Arity(); !ok {
				return nil, fmt.Errorf("schema %s: field %q uses unknown operator %q", scope, f.Name, op)
			}
		}
		f.Operators = slices.Clone(f.Operators)
		f.Values = slices.Clone(f.Values)
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// Scope returns the schema's scope.
func (s *Schema) Scope() Scope { return s.scope }

// Field looks up a descriptor by name.
func (s *Schema) Field(name string) (FieldDescriptor, bool) {
	i, ok := s.index[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return s.fields[i], true
}

// Fields returns the descriptors in registration order.
func (s *Schema) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(s.fields))
	for i, f := range s.fields {
		f.Operators = slices.Clone(f.Operators)
		f.Values = slices.Clone(f.Values)
		out[i] = f
	}
	return out
}

// Playback states exposed by the playback_status field.
const (
	PlaybackUnplayed   = "unplayed"
	PlaybackInProgress = "in_progress"
	PlaybackPlayed     = "played"
)

// Static field names.
const (
	FieldTitle            = "title"
	FieldGenres           = "genres"
	FieldYear             = "year"
	FieldRating           = "rating"
	FieldRuntime          = "runtime"
	FieldOriginalLanguage = "original_language"
	FieldCertification    = "certification"
	FieldReleaseDate      = "release_date"
	FieldActor            = "actor"
	FieldDirector         = "director"
)

// Dynamic field names.
const (
	FieldIsFavorite     = "is_favorite"
	FieldPlaybackStatus = "playback_status"
	FieldLastPlayed     = "last_played"
)

var (
	numericOps = []Operator{OpGte, OpLte, OpEq}
	enumOps    = []Operator{OpIs, OpIsOneOf, OpIsNoneOf}
	dateOps    = []Operator{OpInLastDays, OpNotInLastDays}
	personOps  = []Operator{OpIsOneOf, OpIsNoneOf}
)

var (
	staticSchema = mustSchema(ScopeStatic,
		FieldDescriptor{Name: FieldTitle, Label: "Title", Kind: KindText, Operators: []Operator{OpContains, OpEq}},
		FieldDescriptor{Name: FieldGenres, Label: "Genres", Kind: KindEnumMulti, Operators: []Operator{OpIsOneOf, OpIsNoneOf, OpContains}},
		FieldDescriptor{Name: FieldYear, Label: "Year", Kind: KindNumeric, Operators: numericOps},
		FieldDescriptor{Name: FieldRating, Label: "Rating", Kind: KindNumeric, Operators: numericOps},
		FieldDescriptor{Name: FieldRuntime, Label: "Runtime (minutes)", Kind: KindNumeric, Operators: numericOps},
		FieldDescriptor{Name: FieldOriginalLanguage, Label: "Original language", Kind: KindEnumSingle, Operators: enumOps},
		FieldDescriptor{Name: FieldCertification, Label: "Certification", Kind: KindEnumSingle, Operators: enumOps},
		FieldDescriptor{Name: FieldReleaseDate, Label: "Release date", Kind: KindDateRelative, Operators: dateOps},
		FieldDescriptor{Name: FieldActor, Label: "Actor", Kind: KindPerson, Operators: personOps},
		FieldDescriptor{Name: FieldDirector, Label: "Director", Kind: KindPerson, Operators: personOps},
	)
	dynamicSchema = mustSchema(ScopeDynamic,
		FieldDescriptor{Name: FieldIsFavorite, Label: "Favorite", Kind: KindBoolean, Operators: []Operator{OpIs}},
		FieldDescriptor{
			Name:      FieldPlaybackStatus,
			Label:     "Playback status",
			Kind:      KindEnumSingle,
			Operators: enumOps,
			Values:    []string{PlaybackUnplayed, PlaybackInProgress, PlaybackPlayed},
		},
		FieldDescriptor{Name: FieldLastPlayed, Label: "Last played", Kind: KindDateRelative, Operators: dateOps},
	)
)

func init() {
	if err := checkDisjoint(staticSchema, dynamicSchema); err != nil {
		panic(err)
	}
}

// StaticSchema returns the catalog field schema evaluated at generation time.
func StaticSchema() *Schema { return staticSchema }

// DynamicSchema returns the per-viewer field schema evaluated at read time.
func DynamicSchema() *Schema { return dynamicSchema }

func mustSchema(scope Scope, fields ...FieldDescriptor) *Schema {
	s, err := NewSchema(scope, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkDisjoint(a, b *Schema) error {
	for _, f := range a.fields {
		if _, ok := b.index[f.Name]; ok {
			return fmt.Errorf("field %q is registered in both %s and %s schemas", f.Name, a.scope, b.scope)
		}
	}
	return nil
}
