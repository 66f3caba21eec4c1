package mongoplay

import (
	"regexp"
	"strings"
)

// Op is a comparison operator of a query clause.
type Op uint8

const (
	OpEq Op = iota
	OpGt
	OpGte
	OpLt
	OpLte
)

var opTags = map[string]Op{
	"$eq":  OpEq,
	"$gt":  OpGt,
	"$gte": OpGte,
	"$lt":  OpLt,
	"$lte": OpLte,
}

func (op Op) String() string {
	switch op {
	case OpEq:
		return "$eq"
	case OpGt:
		return "$gt"
	case OpGte:
		return "$gte"
	case OpLt:
		return "$lt"
	case OpLte:
		return "$lte"
	default:
		return "$?"
	}
}

func (op Op) holds(c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	default:
		panic("unknown op")
	}
}

// Query is a parsed query specification: a conjunction of clauses, one or
// more per field.
type Query struct {
	clauses []clause
	source  *Document
}

type clause interface {
	field() string
	match(d *Document) bool
	appendTo(buf *strings.Builder)
}

// literalClause requires structural equality.
type literalClause struct {
	path  string
	value Value
}

// operatorClause compares the field against an operand.
type operatorClause struct {
	path    string
	op      Op
	operand Value
}

// patternClause searches a string field for a regex match.
type patternClause struct {
	path string
	re   *regexp.Regexp
}

func (c *literalClause) field() string  { return c.path }
func (c *operatorClause) field() string { return c.path }
func (c *patternClause) field() string  { return c.path }

func (c *literalClause) match(d *Document) bool {
	v, ok := d.Lookup(c.path)
	return ok && v.Equal(c.value)
}

func (c *operatorClause) match(d *Document) bool {
	v, ok := d.Lookup(c.path)
	if !ok {
		return false
	}
	if c.op == OpEq {
		return v.Equal(c.operand)
	}
	if !rangeComparable(v, c.operand) {
		return false
	}
	return c.op.holds(Compare(v, c.operand))
}

func (c *patternClause) match(d *Document) bool {
	v, ok := d.Lookup(c.path)
	if !ok || v.kind != KindString {
		return false
	}
	return c.re.MatchString(v.s)
}

func (c *literalClause) appendTo(buf *strings.Builder) {
	buf.WriteString(c.path)
	buf.WriteString(" == ")
	c.value.appendTo(buf)
}

func (c *operatorClause) appendTo(buf *strings.Builder) {
	buf.WriteString(c.path)
	buf.WriteByte(' ')
	buf.WriteString(c.op.String())
	buf.WriteByte(' ')
	c.operand.appendTo(buf)
}

func (c *patternClause) appendTo(buf *strings.Builder) {
	buf.WriteString(c.path)
	buf.WriteString(" =~ /")
	buf.WriteString(c.re.String())
	buf.WriteByte('/')
}

// ParseQuery parses a query document. A nil or empty document matches
// everything.
func ParseQuery(spec *Document) (*Query, error) {
	q := &Query{source: spec.Clone()}
	if q.source == nil {
		q.source = &Document{}
	}
	for _, f := range spec.Fields() {
		if strings.HasPrefix(f.Key, "$") {
			return nil, fieldErrf(f.Key, ErrUnsupportedQueryOperator, "top-level operators are not supported")
		}
		cs, err := parseFieldQuery(f.Key, f.Value)
		if err != nil {
			return nil, err
		}
		q.clauses = append(q.clauses, cs...)
	}
	return q, nil
}

// MustQuery is ParseQuery for literal queries known to be valid.
func MustQuery(kv ...any) *Query {
	return must(ParseQuery(MustDocument(kv...)))
}

func parseFieldQuery(path string, v Value) ([]clause, error) {
	switch v.kind {
	case KindRegex:
		return []clause{&patternClause{path, v.re.re}}, nil
	case KindDocument:
		isOp, err := isOperatorDoc(path, v.doc)
		if err != nil {
			return nil, err
		}
		if isOp {
			return parseOperators(path, v.doc)
		}
	}
	return []clause{&literalClause{path, v}}, nil
}

// isOperatorDoc reports whether every key of d is a $-tag. Mixing tags with
// plain keys is rejected.
func isOperatorDoc(path string, d *Document) (bool, error) {
	var ops, plain int
	for _, f := range d.fields {
		if strings.HasPrefix(f.Key, "$") {
			ops++
		} else {
			plain++
		}
	}
	if ops > 0 && plain > 0 {
		return false, fieldErrf(path, ErrUnsupportedQueryOperator, "operators mixed with plain fields")
	}
	return ops > 0, nil
}

func parseOperators(path string, d *Document) ([]clause, error) {
	var result []clause
	var regex, options *Value
	for _, f := range d.fields {
		switch f.Key {
		case "$regex":
			regex = &f.Value
			continue
		case "$options":
			options = &f.Value
			continue
		}
		op, ok := opTags[f.Key]
		if !ok {
			return nil, fieldErrf(path, ErrUnsupportedQueryOperator, "%s", f.Key)
		}
		if f.Value.kind == KindRegex {
			return nil, fieldErrf(path, ErrUnsupportedQueryOperator, "%s does not accept a regex", f.Key)
		}
		result = append(result, &operatorClause{path, op, f.Value})
	}
	if regex == nil && options != nil {
		return nil, fieldErrf(path, ErrUnsupportedQueryOperator, "$options without $regex")
	}
	if regex != nil {
		c, err := parseRegexOperator(path, *regex, options)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func parseRegexOperator(path string, regex Value, options *Value) (clause, error) {
	var opts string
	if options != nil {
		s, ok := options.StringValue()
		if !ok {
			return nil, fieldErrf(path, ErrUnsupportedQueryOperator, "$options must be a string")
		}
		opts = s
	}
	switch regex.kind {
	case KindRegex:
		if opts == "" {
			return &patternClause{path, regex.re.re}, nil
		}
		regex = String(regex.re.source)
		fallthrough
	case KindString:
		rv, err := Regex(regex.s, opts)
		if err != nil {
			return nil, prefixPath(path, err)
		}
		return &patternClause{path, rv.re.re}, nil
	default:
		return nil, fieldErrf(path, ErrUnsupportedQueryOperator, "$regex must be a string or a regex")
	}
}

// Matches reports whether d satisfies every clause.
func (q *Query) Matches(d *Document) bool {
	for _, c := range q.clauses {
		if !c.match(d) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the query matches every document.
func (q *Query) IsEmpty() bool {
	return len(q.clauses) == 0
}

// Document returns a copy of the query as it was given.
func (q *Query) Document() *Document {
	return q.source.Clone()
}

// equalities returns the top-level fields the query pins to literal values,
// used to seed upserted documents.
func (q *Query) equalities() *Document {
	d := &Document{}
	for _, c := range q.clauses {
		var path string
		var v Value
		switch c := c.(type) {
		case *literalClause:
			path, v = c.path, c.value
		case *operatorClause:
			if c.op != OpEq {
				continue
			}
			path, v = c.path, c.operand
		default:
			continue
		}
		if err := d.setPath(path, v); err != nil {
			continue
		}
	}
	return d
}

func (q *Query) String() string {
	if len(q.clauses) == 0 {
		return "<all>"
	}
	var buf strings.Builder
	for i, c := range q.clauses {
		if i > 0 {
			buf.WriteString(" && ")
		}
		c.appendTo(&buf)
	}
	return buf.String()
}
