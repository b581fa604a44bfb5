// Package tags defines the tag-filter expression tree used to query entries by
// their searchable metadata, and compiles it into parameterized SQL predicates
// over the stored blind or plaintext tag columns.
//
// A filter references tags by name. Names are matched against encrypted tags
// by default; prefixing a name with "~" targets a plaintext tag instead. Order
// comparisons (Gt, Gte, Lt, Lte) are only valid on plaintext tags, since the
// blind transform applied to encrypted tag values does not preserve order.
package tags

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedQuery indicates a filter requests a comparison that cannot be
// evaluated, such as an order comparison against an encrypted tag.
var ErrUnsupportedQuery = errors.New("unsupported query")

// PlaintextPrefix marks a tag name in a filter as referring to a plaintext tag.
const PlaintextPrefix = "~"

// CompareOp is a comparison operator in a tag filter.
type CompareOp string

const (
	OpEq  CompareOp = "$eq"
	OpNeq CompareOp = "$neq"
	OpGt  CompareOp = "$gt"
	OpGte CompareOp = "$gte"
	OpLt  CompareOp = "$lt"
	OpLte CompareOp = "$lte"
)

// ordered reports whether the operator relies on value ordering.
func (op CompareOp) ordered() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	default:
		return false
	}
}

// Filter is a node in a tag-filter expression tree. Build filters with the
// constructor functions in this package or parse them from JSON.
type Filter interface {
	isFilter()
}

type comparison struct {
	name  string
	op    CompareOp
	value string
}

type inSet struct {
	name   string
	values []string
}

type exist struct {
	names []string
}

type conjunction struct {
	or       bool
	children []Filter
}

type negation struct {
	child Filter
}

func (comparison) isFilter()  {}
func (inSet) isFilter()       {}
func (exist) isFilter()       {}
func (conjunction) isFilter() {}
func (negation) isFilter()    {}

// Eq matches entries carrying the named tag with exactly the given value.
func Eq(name, value string) Filter {
	return comparison{name: name, op: OpEq, value: value}
}

// Neq matches entries not carrying the named tag with the given value.
func Neq(name, value string) Filter {
	return comparison{name: name, op: OpNeq, value: value}
}

// Gt matches entries whose plaintext tag value sorts after the given value.
func Gt(name, value string) Filter {
	return comparison{name: name, op: OpGt, value: value}
}

// Gte matches entries whose plaintext tag value sorts at or after the given value.
func Gte(name, value string) Filter {
	return comparison{name: name, op: OpGte, value: value}
}

// Lt matches entries whose plaintext tag value sorts before the given value.
func Lt(name, value string) Filter {
	return comparison{name: name, op: OpLt, value: value}
}

// Lte matches entries whose plaintext tag value sorts at or before the given value.
func Lte(name, value string) Filter {
	return comparison{name: name, op: OpLte, value: value}
}

// In matches entries carrying the named tag with any of the given values.
func In(name string, values ...string) Filter {
	return inSet{name: name, values: values}
}

// Exist matches entries carrying all of the named tags, regardless of value.
func Exist(names ...string) Filter {
	return exist{names: names}
}

// And matches entries satisfying every child filter.
func And(children ...Filter) Filter {
	return conjunction{children: children}
}

// Or matches entries satisfying at least one child filter.
func Or(children ...Filter) Filter {
	return conjunction{or: true, children: children}
}

// Not matches entries not satisfying the child filter.
func Not(child Filter) Filter {
	return negation{child: child}
}

// ParseJSON parses a filter from its JSON representation:
//
//	{"status": "active"}                     equality
//	{"status": {"$neq": "active"}}           operator comparison
//	{"status": {"$in": ["active", "new"]}}   in-set
//	{"$and": [ ... ]} / {"$or": [ ... ]}     conjunction / disjunction
//	{"$not": { ... }}                        negation
//	{"$exist": ["status"]}                   existence
//
// Multiple keys in one object are combined with AND.
func ParseJSON(data []byte) (Filter, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid filter json: %v", ErrUnsupportedQuery, err)
	}
	return parseObject(raw)
}

func parseObject(raw map[string]json.RawMessage) (Filter, error) {
	children := make([]Filter, 0, len(raw))

	for key, value := range raw {
		child, err := parseClause(key, value)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	switch len(children) {
	case 0:
		return nil, fmt.Errorf("%w: empty filter", ErrUnsupportedQuery)
	case 1:
		return children[0], nil
	default:
		return And(children...), nil
	}
}

func parseClause(key string, value json.RawMessage) (Filter, error) {
	switch key {
	case "$and", "$or":
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, fmt.Errorf("%w: %s expects an array of filters", ErrUnsupportedQuery, key)
		}
		children := make([]Filter, 0, len(items))
		for _, item := range items {
			child, err := parseObject(item)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if key == "$or" {
			return Or(children...), nil
		}
		return And(children...), nil

	case "$not":
		var item map[string]json.RawMessage
		if err := json.Unmarshal(value, &item); err != nil {
			return nil, fmt.Errorf("%w: $not expects a filter", ErrUnsupportedQuery)
		}
		child, err := parseObject(item)
		if err != nil {
			return nil, err
		}
		return Not(child), nil

	case "$exist":
		var names []string
		if err := json.Unmarshal(value, &names); err != nil {
			return nil, fmt.Errorf("%w: $exist expects an array of tag names", ErrUnsupportedQuery)
		}
		return Exist(names...), nil
	}

	// Plain tag name: either a literal value or an operator object.
	var literal string
	if err := json.Unmarshal(value, &literal); err == nil {
		return Eq(key, literal), nil
	}

	var ops map[string]json.RawMessage
	if err := json.Unmarshal(value, &ops); err != nil || len(ops) != 1 {
		return nil, fmt.Errorf("%w: tag %q expects a value or a single operator", ErrUnsupportedQuery, key)
	}

	for op, operand := range ops {
		if op == "$in" {
			var values []string
			if err := json.Unmarshal(operand, &values); err != nil {
				return nil, fmt.Errorf("%w: $in expects an array of values", ErrUnsupportedQuery)
			}
			return In(key, values...), nil
		}

		var v string
		if err := json.Unmarshal(operand, &v); err != nil {
			return nil, fmt.Errorf("%w: operator %s expects a string value", ErrUnsupportedQuery, op)
		}
		switch CompareOp(op) {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
			return comparison{name: key, op: CompareOp(op), value: v}, nil
		default:
			return nil, fmt.Errorf("%w: unknown operator %s", ErrUnsupportedQuery, op)
		}
	}

	return nil, fmt.Errorf("%w: tag %q has no operator", ErrUnsupportedQuery, key)
}
