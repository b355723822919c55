package collection

import (
	"fmt"
	"regexp"
	"strings"
)

// FilterOperator names a predicate or a boolean combinator in a
// payload filter tree.
type FilterOperator string

const (
	FilterAND     FilterOperator = "AND"
	FilterOR      FilterOperator = "OR"
	FilterNOT     FilterOperator = "NOT"
	FilterEQ      FilterOperator = "="
	FilterNE      FilterOperator = "!="
	FilterGT      FilterOperator = ">"
	FilterGTE     FilterOperator = ">="
	FilterLT      FilterOperator = "<"
	FilterLTE     FilterOperator = "<="
	FilterIN      FilterOperator = "IN"
	FilterBETWEEN FilterOperator = "BETWEEN"
	FilterLIKE    FilterOperator = "LIKE"
	FilterREGEX   FilterOperator = "REGEX"
	FilterISNULL    FilterOperator = "IS NULL"
	FilterISNOTNULL FilterOperator = "IS NOT NULL"
)

// Filter is a node of a payload-metadata predicate tree, evaluated
// directly against an in-memory payload map rather than compiled to
// SQL: there is no SQL engine underneath a collection, only the
// payload log's decoded records.
type Filter struct {
	Operator FilterOperator
	Field    string
	Value    any
	Children []*Filter
}

// NewFilter builds a single comparison leaf.
func NewFilter(op FilterOperator, field string, value any) *Filter {
	return &Filter{Operator: op, Field: field, Value: value}
}

// And combines filters under a conjunction.
func And(filters ...*Filter) *Filter { return &Filter{Operator: FilterAND, Children: filters} }

// Or combines filters under a disjunction.
func Or(filters ...*Filter) *Filter { return &Filter{Operator: FilterOR, Children: filters} }

// Not negates a filter.
func Not(f *Filter) *Filter { return &Filter{Operator: FilterNOT, Children: []*Filter{f}} }

// Match reports whether payload satisfies f. A nil filter matches
// everything, so callers can pass an optional filter without a
// separate nil check.
func (f *Filter) Match(payload map[string]any) bool {
	if f == nil {
		return true
	}
	switch f.Operator {
	case FilterAND:
		for _, c := range f.Children {
			if !c.Match(payload) {
				return false
			}
		}
		return true
	case FilterOR:
		for _, c := range f.Children {
			if c.Match(payload) {
				return true
			}
		}
		return len(f.Children) == 0
	case FilterNOT:
		if len(f.Children) != 1 {
			return false
		}
		return !f.Children[0].Match(payload)
	}

	if f.Operator == FilterISNULL || f.Operator == FilterISNOTNULL {
		v, ok := payload[f.Field]
		isNull := !ok || v == nil
		if f.Operator == FilterISNULL {
			return isNull
		}
		return !isNull
	}

	actual, ok := payload[f.Field]
	if !ok {
		return false
	}
	switch f.Operator {
	case FilterEQ:
		return compareEqual(actual, f.Value)
	case FilterNE:
		return !compareEqual(actual, f.Value)
	case FilterGT, FilterGTE, FilterLT, FilterLTE:
		a, aok := asFloat64(actual)
		b, bok := asFloat64(f.Value)
		if !aok || !bok {
			return false
		}
		switch f.Operator {
		case FilterGT:
			return a > b
		case FilterGTE:
			return a >= b
		case FilterLT:
			return a < b
		case FilterLTE:
			return a <= b
		}
	case FilterBETWEEN:
		bounds, ok := f.Value.([2]float64)
		if !ok {
			return false
		}
		a, aok := asFloat64(actual)
		if !aok {
			return false
		}
		return a >= bounds[0] && a <= bounds[1]
	case FilterIN:
		values, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if compareEqual(actual, v) {
				return true
			}
		}
		return false
	case FilterLIKE:
		pattern, ok := f.Value.(string)
		if !ok {
			return false
		}
		str, ok := actual.(string)
		if !ok {
			return false
		}
		return likeMatch(str, pattern, false)
	case FilterREGEX:
		pattern, ok := f.Value.(string)
		if !ok {
			return false
		}
		str, ok := actual.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(str)
	}
	return false
}

func compareEqual(a, b any) bool {
	af, aok := asFloat64(a)
	bf, bok := asFloat64(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// likeMatch implements SQL LIKE semantics (% -> any run, _ -> any one
// char, \ escapes the next character) by translating to a regular
// expression; caseFold selects ILIKE behavior.
func likeMatch(s, pattern string, caseFold bool) bool {
	var b strings.Builder
	b.WriteByte('^')
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	flags := ""
	if caseFold {
		flags = "(?i)"
	}
	re, err := regexp.Compile(flags + b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
