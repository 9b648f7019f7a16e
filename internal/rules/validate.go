package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"curator/internal/services"
)

// maxGroupDepth bounds nesting so compiled programs stay small.
const maxGroupDepth = 4

// ValidationError identifies one invalid predicate or group.
type ValidationError struct {
	Path     string   `json:"path"`
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Message  string   `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Path, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is the itemized result of a failed validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "invalid rule set: " + strings.Join(parts, "; ")
}

// Unwrap lets callers classify the failure with errors.Is(err, services.ErrValidation).
func (v ValidationErrors) Unwrap() error { return services.ErrValidation }

// Validate checks rs against schema and returns a normalized copy.
//
// A predicate without an operator is assigned the field's first allowed
// operator. Values are coerced to canonical Go types: float64 for numbers,
// int for day counts, []any of strings for sets, bool for boolean fields.
// Any failure is reported per predicate and the returned RuleSet must not be
// persisted.
func Validate(rs RuleSet, schema *Schema) (RuleSet, error) {
	if schema == nil {
		return RuleSet{}, ValidationErrors{{Path: "$", Message: "no schema"}}
	}
	var errs ValidationErrors
	out := validateGroup(rs, schema, "$", 0, &errs)
	if len(errs) > 0 {
		return RuleSet{}, errs
	}
	return out, nil
}

func validateGroup(rs RuleSet, schema *Schema, path string, depth int, errs *ValidationErrors) RuleSet {
	out := RuleSet{}
	logic, ok := parseLogic(rs.Logic)
	if !ok {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("unknown logic %q (want AND or OR)", rs.Logic)})
	}
	out.Logic = logic
	if depth > maxGroupDepth {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("groups nested deeper than %d levels", maxGroupDepth)})
		return out
	}

	out.Predicates = make([]Predicate, 0, len(rs.Predicates))
	for i, p := range rs.Predicates {
		predPath := fmt.Sprintf("%s.predicates[%d]", path, i)
		if normalized, ok := validatePredicate(p, schema, predPath, errs); ok {
			out.Predicates = append(out.Predicates, normalized)
		}
	}
	for i, g := range rs.Groups {
		out.Groups = append(out.Groups, validateGroup(g, schema, fmt.Sprintf("%s.groups[%d]", path, i), depth+1, errs))
	}
	return out
}

func validatePredicate(p Predicate, schema *Schema, path string, errs *ValidationErrors) (Predicate, bool) {
	name := strings.TrimSpace(p.Field)
	field, ok := schema.Field(name)
	if !ok {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Field:   name,
			Message: fmt.Sprintf("unknown %s field", schema.Scope()),
		})
		return Predicate{}, false
	}

	op := Operator(strings.TrimSpace(string(p.Operator)))
	if op == "" {
		op = field.DefaultOperator()
	}
	if !field.Allows(op) {
		*errs = append(*errs, ValidationError{
			Path:     path,
			Field:    name,
			Operator: op,
			Message:  fmt.Sprintf("operator not allowed (allowed: %s)", joinOperators(field.Operators)),
		})
		return Predicate{}, false
	}

	value, err := normalizeValue(field, op, p.Value)
	if err != nil {
		*errs = append(*errs, ValidationError{Path: path, Field: name, Operator: op, Message: err.Error()})
		return Predicate{}, false
	}
	return Predicate{Field: name, Operator: op, Value: value}, true
}

func normalizeValue(field FieldDescriptor, op Operator, raw any) (any, error) {
	if raw == nil {
		return nil, fmt.Errorf("value is required")
	}
	arity, _ := op.Arity()
	switch arity {
	case ArityDays:
		days, ok := toInt(raw)
		if !ok || days < 0 {
			return nil, fmt.Errorf("%s expects a non-negative whole number of days", op)
		}
		return days, nil
	case AritySet:
		items, ok := toSlice(raw)
		if !ok {
			return nil, fmt.Errorf("%s expects a list of values", op)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%s expects at least one value", op)
		}
		out := make([]any, 0, len(items))
		seen := make(map[string]struct{}, len(items))
		for _, item := range items {
			member, err := normalizeMember(field, item)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[member]; dup {
				continue
			}
			seen[member] = struct{}{}
			out = append(out, member)
		}
		return out, nil
	default:
		return normalizeScalar(field, op, raw)
	}
}

func normalizeScalar(field FieldDescriptor, op Operator, raw any) (any, error) {
	if _, isList := toSlice(raw); isList {
		return nil, fmt.Errorf("%s expects a single value, got a list", op)
	}
	switch field.Kind {
	case KindNumeric:
		n, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("%s expects a number", op)
		}
		return n, nil
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%s expects true or false", op)
		}
		return b, nil
	case KindText, KindEnumMulti, KindEnumSingle:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%s expects a string", op)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("%s expects a non-empty string", op)
		}
		if err := checkDomain(field, s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%s is not supported for %s fields", op, field.Kind)
	}
}

func normalizeMember(field FieldDescriptor, item any) (string, error) {
	switch field.Kind {
	case KindPerson:
		switch v := item.(type) {
		case string:
			if id := strings.TrimSpace(v); id != "" {
				return id, nil
			}
		default:
			if n, ok := toInt(v); ok && n > 0 {
				return strconv.Itoa(n), nil
			}
		}
		return "", fmt.Errorf("person references must be catalog ids, got %v", item)
	default:
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("list members must be non-empty strings, got %v", item)
		}
		s = strings.TrimSpace(s)
		if err := checkDomain(field, s); err != nil {
			return "", err
		}
		return s, nil
	}
}

func checkDomain(field FieldDescriptor, value string) error {
	if len(field.Values) == 0 || slices.Contains(field.Values, value) {
		return nil
	}
	return fmt.Errorf("%q is not one of %s", value, strings.Join(field.Values, ", "))
}

func joinOperators(ops []Operator) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = string(op)
	}
	return strings.Join(parts, ", ")
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []int64:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}

// toFloat accepts finite numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	var (
		f  float64
		ok bool
	)
	switch n := v.(type) {
	case float64:
		f, ok = n, true
	case float32:
		f, ok = float64(n), true
	case int:
		f, ok = float64(n), true
	case int64:
		f, ok = float64(n), true
	case json.Number:
		parsed, err := n.Float64()
		f, ok = parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		f, ok = parsed, err == nil
	}
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
