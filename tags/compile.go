package tags

import (
	"fmt"
	"strings"
)

// Encryptor transforms filter literals into the same domain as stored tag
// columns, so the compiled predicate always compares like for like. It is
// satisfied by the profile encryption scheme; the compiler itself never sees
// per-entry plaintext.
type Encryptor interface {
	// BlindTagValue derives the deterministic blind form of a tag value.
	BlindTagValue(value []byte) []byte

	// EncryptTagName deterministically encrypts a tag name.
	EncryptTagName(name []byte) ([]byte, error)
}

// Dialect renders backend-specific SQL placeholders.
type Dialect interface {
	// Placeholder renders the n-th (1-based) statement parameter.
	Placeholder(n int) string
}

// Compile translates a filter into a SQL predicate over the entry_tags table,
// correlated with an entries row aliased "e". The predicate uses only
// parameterized placeholders, never inlined values; args holds the parameter
// values in placeholder order, starting at startArg.
//
// A nil filter compiles to an empty predicate.
func Compile(f Filter, enc Encryptor, d Dialect, startArg int) (predicate string, args []any, err error) {
	if f == nil {
		return "", nil, nil
	}

	c := &compiler{enc: enc, dialect: d, next: startArg}
	pred, err := c.compile(f, false)
	if err != nil {
		return "", nil, err
	}
	return pred, c.args, nil
}

type compiler struct {
	enc     Encryptor
	dialect Dialect
	args    []any
	next    int
}

func (c *compiler) placeholder(value any) string {
	c.args = append(c.args, value)
	p := c.dialect.Placeholder(c.next)
	c.next++
	return p
}

// tagRef resolves how a filter name maps onto stored columns: plaintext tags
// keep their verbatim name and value, encrypted tags match on the
// deterministically encrypted name and the blind value.
type tagRef struct {
	name      any
	plaintext bool
}

func (c *compiler) resolveName(name string) (tagRef, error) {
	if rest, ok := strings.CutPrefix(name, PlaintextPrefix); ok {
		return tagRef{name: rest, plaintext: true}, nil
	}
	encName, err := c.enc.EncryptTagName([]byte(name))
	if err != nil {
		return tagRef{}, err
	}
	return tagRef{name: encName}, nil
}

func (c *compiler) resolveValue(ref tagRef, value string) any {
	if ref.plaintext {
		return value
	}
	return c.enc.BlindTagValue([]byte(value))
}

func plaintextFlag(ref tagRef) int {
	if ref.plaintext {
		return 1
	}
	return 0
}

func (c *compiler) compile(f Filter, negate bool) (string, error) {
	switch node := f.(type) {
	case comparison:
		return c.compileComparison(node, negate)
	case inSet:
		return c.compileInSet(node, negate)
	case exist:
		return c.compileExist(node, negate)
	case conjunction:
		return c.compileConjunction(node, negate)
	case negation:
		return c.compile(node.child, !negate)
	default:
		return "", fmt.Errorf("%w: unknown filter node %T", ErrUnsupportedQuery, f)
	}
}

func (c *compiler) compileComparison(node comparison, negate bool) (string, error) {
	ref, err := c.resolveName(node.name)
	if err != nil {
		return "", err
	}
	if node.op.ordered() && !ref.plaintext {
		return "", fmt.Errorf(
			"%w: %s comparison on encrypted tag %q (blind values do not preserve order)",
			ErrUnsupportedQuery, node.op, node.name,
		)
	}

	op := node.op
	if op == OpNeq {
		// Not-equals matches rows lacking an exact (name, value) pair, so it
		// compiles as a negated equality membership test.
		op = OpEq
		negate = !negate
	}

	var sqlOp string
	switch op {
	case OpEq:
		sqlOp = "="
	case OpGt:
		sqlOp = ">"
	case OpGte:
		sqlOp = ">="
	case OpLt:
		sqlOp = "<"
	case OpLte:
		sqlOp = "<="
	}

	return fmt.Sprintf(
		"e.id %s (SELECT entry_id FROM entry_tags WHERE name = %s AND plaintext = %d AND value %s %s)",
		membership(negate),
		c.placeholder(ref.name),
		plaintextFlag(ref),
		sqlOp,
		c.placeholder(c.resolveValue(ref, node.value)),
	), nil
}

func (c *compiler) compileInSet(node inSet, negate bool) (string, error) {
	if len(node.values) == 0 {
		return "", fmt.Errorf("%w: $in requires at least one value", ErrUnsupportedQuery)
	}

	ref, err := c.resolveName(node.name)
	if err != nil {
		return "", err
	}

	placeholders := make([]string, 0, len(node.values))
	namePlaceholder := c.placeholder(ref.name)
	for _, v := range node.values {
		placeholders = append(placeholders, c.placeholder(c.resolveValue(ref, v)))
	}

	return fmt.Sprintf(
		"e.id %s (SELECT entry_id FROM entry_tags WHERE name = %s AND plaintext = %d AND value IN (%s))",
		membership(negate),
		namePlaceholder,
		plaintextFlag(ref),
		strings.Join(placeholders, ", "),
	), nil
}

func (c *compiler) compileExist(node exist, negate bool) (string, error) {
	if len(node.names) == 0 {
		return "", fmt.Errorf("%w: $exist requires at least one tag name", ErrUnsupportedQuery)
	}

	clauses := make([]string, 0, len(node.names))
	for _, name := range node.names {
		ref, err := c.resolveName(name)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, fmt.Sprintf(
			"e.id %s (SELECT entry_id FROM entry_tags WHERE name = %s AND plaintext = %d)",
			membership(negate),
			c.placeholder(ref.name),
			plaintextFlag(ref),
		))
	}
	return combineWith(clauses, negate), nil
}

func (c *compiler) compileConjunction(node conjunction, negate bool) (string, error) {
	if len(node.children) == 0 {
		return "", fmt.Errorf("%w: empty conjunction", ErrUnsupportedQuery)
	}

	clauses := make([]string, 0, len(node.children))
	for _, child := range node.children {
		clause, err := c.compile(child, negate)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}

	// De Morgan: negation flips the connective.
	or := node.or
	if negate {
		or = !or
	}
	return combineWith(clauses, or), nil
}

func membership(negate bool) string {
	if negate {
		return "NOT IN"
	}
	return "IN"
}

func combineWith(clauses []string, or bool) string {
	if len(clauses) == 1 {
		return clauses[0]
	}
	sep := " AND "
	if or {
		sep = " OR "
	}
	return "(" + strings.Join(clauses, sep) + ")"
}
