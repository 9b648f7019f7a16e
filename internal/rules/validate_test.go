package rules

import (
	"encoding/json"
	"errors"
	"testing"

	"curator/internal/services"
)

func TestValidateRepairsMissingOperator(t *testing.T) {
	rs := RuleSet{Predicates: []Predicate{
		{Field: FieldTitle, Value: "alien"},
		{Field: FieldYear, Value: 1979.0},
		{Field: FieldActor, Value: []any{31.0, "31", "64"}},
	}}

	got, err := Validate(rs, StaticSchema())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.Logic != LogicAnd {
		t.Fatalf("expected AND default, got %q", got.Logic)
	}
	if got.Predicates[0].Operator != OpContains {
		t.Fatalf("title operator = %q, want contains", got.Predicates[0].Operator)
	}
	if got.Predicates[1].Operator != OpGte {
		t.Fatalf("year operator = %q, want gte", got.Predicates[1].Operator)
	}
	ids, ok := got.Predicates[2].Value.([]any)
	if !ok || len(ids) != 2 || ids[0] != "31" || ids[1] != "64" {
		t.Fatalf("expected deduplicated string ids, got %#v", got.Predicates[2].Value)
	}
	if rs.Predicates[0].Operator != "" {
		t.Fatal("Validate must not mutate its input")
	}
}

func TestValidateRejectsOperatorOutsideAllowedSet(t *testing.T) {
	rs := RuleSet{Logic: LogicOr, Predicates: []Predicate{
		{Field: FieldYear, Operator: OpGte, Value: 2000},
		{Field: FieldGenres, Operator: OpGte, Value: "Drama"},
		{Field: FieldTitle, Operator: "matches", Value: "x"},
	}}

	_, err := Validate(rs, StaticSchema())
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) != 2 {
		t.Fatalf("expected 2 itemized errors, got %d: %v", len(verrs), verrs)
	}
	if verrs[0].Path != "$.predicates[1]" || verrs[0].Field != FieldGenres {
		t.Fatalf("unexpected first error: %+v", verrs[0])
	}
	if verrs[1].Path != "$.predicates[2]" {
		t.Fatalf("unexpected second error: %+v", verrs[1])
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatal("expected error to classify as validation")
	}
}

func TestValidateChecksValueArity(t *testing.T) {
	tests := []struct {
		name  string
		pred  Predicate
		valid bool
	}{
		{"scalar for set op", Predicate{Field: FieldGenres, Operator: OpIsOneOf, Value: "Drama"}, false},
		{"list for scalar op", Predicate{Field: FieldYear, Operator: OpEq, Value: []any{1.0}}, false},
		{"empty set", Predicate{Field: FieldGenres, Operator: OpIsNoneOf, Value: []any{}}, false},
		{"fractional days", Predicate{Field: FieldReleaseDate, Operator: OpInLastDays, Value: 1.5}, false},
		{"negative days", Predicate{Field: FieldReleaseDate, Operator: OpInLastDays, Value: -3}, false},
		{"whole days", Predicate{Field: FieldReleaseDate, Operator: OpNotInLastDays, Value: 30.0}, true},
		{"numeric string", Predicate{Field: FieldRating, Operator: OpGte, Value: "7.5"}, true},
		{"text number", Predicate{Field: FieldYear, Operator: OpEq, Value: "soon"}, false},
		{"NaN string", Predicate{Field: FieldYear, Operator: OpEq, Value: "NaN"}, false},
		{"infinite string", Predicate{Field: FieldRating, Operator: OpLte, Value: "+Inf"}, false},
		{"NaN json number", Predicate{Field: FieldRuntime, Operator: OpGte, Value: json.Number("NaN")}, false},
		{"json number", Predicate{Field: FieldRuntime, Operator: OpGte, Value: json.Number("90")}, true},
		{"missing value", Predicate{Field: FieldTitle, Operator: OpEq}, false},
		{"empty text", Predicate{Field: FieldTitle, Operator: OpEq, Value: "  "}, false},
		{"genre contains", Predicate{Field: FieldGenres, Operator: OpContains, Value: "Horror"}, true},
		{"person names", Predicate{Field: FieldDirector, Operator: OpIsOneOf, Value: []any{true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(RuleSet{Predicates: []Predicate{tt.pred}}, StaticSchema())
			if tt.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateDynamicSchema(t *testing.T) {
	rs := RuleSet{Predicates: []Predicate{
		{Field: FieldIsFavorite, Value: true},
		{Field: FieldPlaybackStatus, Operator: OpIsOneOf, Value: []string{PlaybackUnplayed, PlaybackInProgress}},
	}}
	if _, err := Validate(rs, DynamicSchema()); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	bad := RuleSet{Predicates: []Predicate{{Field: FieldPlaybackStatus, Operator: OpIs, Value: "paused"}}}
	if _, err := Validate(bad, DynamicSchema()); err == nil {
		t.Fatal("expected error for value outside enum domain")
	}

	fav := RuleSet{Predicates: []Predicate{{Field: FieldIsFavorite, Value: "yes"}}}
	if _, err := Validate(fav, DynamicSchema()); err == nil {
		t.Fatal("expected error for non-boolean favorite value")
	}
}

func TestSchemasAreDisjoint(t *testing.T) {
	for _, f := range StaticSchema().Fields() {
		if _, ok := DynamicSchema().Field(f.Name); ok {
			t.Fatalf("field %q present in both schemas", f.Name)
		}
	}
	crossed := RuleSet{Predicates: []Predicate{{Field: FieldPlaybackStatus, Value: PlaybackPlayed}}}
	if _, err := Validate(crossed, StaticSchema()); err == nil {
		t.Fatal("expected dynamic field to be rejected by static schema")
	}
	crossed = RuleSet{Predicates: []Predicate{{Field: FieldYear, Value: 2001}}}
	if _, err := Validate(crossed, DynamicSchema()); err == nil {
		t.Fatal("expected static field to be rejected by dynamic schema")
	}
	if err := checkDisjoint(StaticSchema(), StaticSchema()); err == nil {
		t.Fatal("expected overlap to be detected")
	}
}

func TestValidateNestedGroups(t *testing.T) {
	rs := RuleSet{
		Logic:      "and",
		Predicates: []Predicate{{Field: FieldYear, Operator: OpGte, Value: 1990}},
		Groups: []RuleSet{{
			Logic: "or",
			Predicates: []Predicate{
				{Field: FieldGenres, Value: []any{"Horror"}},
				{Field: FieldRating, Operator: OpLte, Value: []any{}},
			},
		}},
	}
	_, err := Validate(rs, StaticSchema())
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 {
		t.Fatalf("expected one nested error, got %v", err)
	}
	if verrs[0].Path != "$.groups[0].predicates[1]" {
		t.Fatalf("unexpected path %q", verrs[0].Path)
	}

	badLogic := RuleSet{Logic: "XOR"}
	if _, err := Validate(badLogic, StaticSchema()); err == nil {
		t.Fatal("expected error for unknown logic")
	}
}

func TestNewSchemaRejectsDuplicates(t *testing.T) {
	_, err := NewSchema(ScopeStatic,
		FieldDescriptor{Name: "a", Kind: KindText, Operators: []Operator{OpEq}},
		FieldDescriptor{Name: "a", Kind: KindText, Operators: []Operator{OpEq}},
	)
	if err == nil {
		t.Fatal("expected duplicate field error")
	}
	_, err = NewSchema(ScopeStatic, FieldDescriptor{Name: "b", Kind: KindText})
	if err == nil {
		t.Fatal("expected error for field without operators")
	}
}
