package rules

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"curator/internal/textutil"
)

// evalTimeKey holds the reference time for relative date predicates.
const evalTimeKey = "evalTime"

// Program is a RuleSet compiled into an expr-lang boolean program.
//
// The environment passed to Match maps field names to values: strings for
// text and enum-single fields, []string for enum-multi and person fields,
// numbers for numeric fields, bool for boolean fields, and time.Time or
// "2006-01-02" strings for dates. Missing fields evaluate as nil.
type Program struct {
	program *vm.Program
	source  string
	params  map[string]any
	fields  []string
	now     func() time.Time
}

// CompileOption customizes compilation.
type CompileOption func(*Program)

// WithClock overrides the reference time used by relative date predicates.
func WithClock(now func() time.Time) CompileOption {
	return func(p *Program) {
		if now != nil {
			p.now = now
		}
	}
}

// Compile validates rs against schema and compiles it. An empty RuleSet
// compiles to a program that matches everything.
func Compile(rs RuleSet, schema *Schema, opts ...CompileOption) (*Program, error) {
	validated, err := Validate(rs, schema)
	if err != nil {
		return nil, err
	}

	c := &compiler{schema: schema, params: map[string]any{}}
	source := c.group(validated)

	prog := &Program{source: source, params: c.params, fields: validated.Fields(), now: time.Now}
	for _, opt := range opts {
		opt(prog)
	}

	program, err := expr.Compile(source,
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
		expr.Function("textEq", textEq),
		expr.Function("textContains", textContains),
		expr.Function("anyOf", anyOf),
		expr.Function("withinDays", withinDays),
	)
	if err != nil {
		return nil, fmt.Errorf("compile rule set: %w", err)
	}
	prog.program = program
	return prog, nil
}

// Match evaluates the program against env.
func (p *Program) Match(env map[string]any) (bool, error) {
	runtimeEnv := make(map[string]any, len(env)+len(p.params)+1)
	maps.Copy(runtimeEnv, env)
	maps.Copy(runtimeEnv, p.params)
	runtimeEnv[evalTimeKey] = p.now()

	out, err := expr.Run(p.program, runtimeEnv)
	if err != nil {
		return false, fmt.Errorf("evaluate rule set: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate rule set: non-boolean result %T", out)
	}
	return matched, nil
}

// Source returns the generated expression, for debugging and logs.
func (p *Program) Source() string { return p.source }

// Fields returns the field names the program reads.
func (p *Program) Fields() []string { return append([]string(nil), p.fields...) }

type compiler struct {
	schema *Schema
	params map[string]any
}

func (c *compiler) bind(value any) string {
	name := "arg" + strconv.Itoa(len(c.params))
	c.params[name] = value
	return name
}

func (c *compiler) group(rs RuleSet) string {
	terms := make([]string, 0, len(rs.Predicates)+len(rs.Groups))
	for _, p := range rs.Predicates {
		terms = append(terms, c.predicate(p))
	}
	for _, g := range rs.Groups {
		if g.IsEmpty() {
			continue
		}
		terms = append(terms, c.group(g))
	}
	if len(terms) == 0 {
		return "true"
	}
	joiner := " && "
	if rs.Logic == LogicOr {
		joiner = " || "
	}
	return "(" + strings.Join(terms, joiner) + ")"
}

func (c *compiler) predicate(p Predicate) string {
	field, _ := c.schema.Field(p.Field)
	name := p.Field
	arg := c.bind(p.Value)

	switch p.Operator {
	case OpEq:
		if field.Kind == KindNumeric {
			return fmt.Sprintf("(%s != nil && %s == %s)", name, name, arg)
		}
		return fmt.Sprintf("textEq(%s, %s)", name, arg)
	case OpGte:
		return fmt.Sprintf("(%s != nil && %s >= %s)", name, name, arg)
	case OpLte:
		return fmt.Sprintf("(%s != nil && %s <= %s)", name, name, arg)
	case OpContains:
		if field.Kind == KindText {
			return fmt.Sprintf("textContains(%s, %s)", name, arg)
		}
		return fmt.Sprintf("anyOf(%s, [%s])", name, arg)
	case OpIs:
		if field.Kind == KindBoolean {
			return fmt.Sprintf("((%s ?? false) == %s)", name, arg)
		}
		return fmt.Sprintf("textEq(%s, %s)", name, arg)
	case OpIsOneOf:
		return fmt.Sprintf("anyOf(%s, %s)", name, arg)
	case OpIsNoneOf:
		return fmt.Sprintf("!anyOf(%s, %s)", name, arg)
	case OpInLastDays:
		return fmt.Sprintf("withinDays(%s, %s, %s)", name, arg, evalTimeKey)
	case OpNotInLastDays:
		return fmt.Sprintf("!withinDays(%s, %s, %s)", name, arg, evalTimeKey)
	default:
		return "false"
	}
}

func textEq(params ...any) (any, error) {
	a, ok := params[0].(string)
	if !ok {
		return false, nil
	}
	b, _ := params[1].(string)
	return textutil.Fold(a) == textutil.Fold(b), nil
}

func textContains(params ...any) (any, error) {
	a, ok := params[0].(string)
	if !ok {
		return false, nil
	}
	b, _ := params[1].(string)
	return strings.Contains(textutil.Fold(a), textutil.Fold(b)), nil
}

// anyOf reports whether the field value (scalar or list) shares a member with the set.
func anyOf(params ...any) (any, error) {
	values := members(params[0])
	if len(values) == 0 {
		return false, nil
	}
	set := members(params[1])
	wanted := make(map[string]struct{}, len(set))
	for _, s := range set {
		wanted[s] = struct{}{}
	}
	for _, v := range values {
		if _, ok := wanted[v]; ok {
			return true, nil
		}
	}
	return false, nil
}

func members(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = textutil.Fold(s)
		}
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, members(item)...)
		}
		return out
	case []int64:
		out := make([]string, len(val))
		for i, n := range val {
			out[i] = strconv.FormatInt(n, 10)
		}
		return out
	case string:
		return []string{textutil.Fold(val)}
	case int:
		return []string{strconv.Itoa(val)}
	case int64:
		return []string{strconv.FormatInt(val, 10)}
	case float64:
		return []string{strconv.FormatFloat(val, 'f', -1, 64)}
	default:
		return []string{textutil.Fold(fmt.Sprint(val))}
	}
}

// withinDays reports whether the date lies between now-days and now. A date
// in the future does not count as within the last days.
func withinDays(params ...any) (any, error) {
	date, ok := asTime(params[0])
	if !ok {
		return false, nil
	}
	days, ok := toInt(params[1])
	if !ok {
		return false, fmt.Errorf("withinDays: invalid day count %v", params[1])
	}
	now, ok := params[2].(time.Time)
	if !ok {
		return false, fmt.Errorf("withinDays: missing reference time")
	}
	cutoff := now.AddDate(0, 0, -days)
	return !date.Before(cutoff) && !date.After(now), nil
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return time.Time{}, false
		}
		if parsed, err := time.Parse(time.DateOnly, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
