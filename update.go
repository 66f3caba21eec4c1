package mongoplay

import (
	"math"
	"strings"
)

type updateOp uint8

const (
	updSet updateOp = iota
	updUnset
	updInc
)

var updateTags = map[string]updateOp{
	"$set":   updSet,
	"$unset": updUnset,
	"$inc":   updInc,
}

// Update is a parsed update specification: either a replacement document
// or a list of field operators.
type Update struct {
	replacement *Document
	mutations   []mutation
}

type mutation struct {
	op    updateOp
	path  string
	value Value
}

// ParseUpdate classifies an update document. Documents without $-keys
// replace the target; documents made only of $-keys apply operators.
func ParseUpdate(spec *Document) (*Update, error) {
	var ops, plain int
	for _, f := range spec.Fields() {
		if strings.HasPrefix(f.Key, "$") {
			ops++
		} else {
			plain++
		}
	}
	if ops > 0 && plain > 0 {
		return nil, fieldErrf("", ErrInvalidUpdateSpec, "operators mixed with replacement fields")
	}
	if ops == 0 {
		repl := spec.Clone()
		if repl == nil {
			repl = &Document{}
		}
		if err := checkStorable(repl); err != nil {
			return nil, err
		}
		return &Update{replacement: repl}, nil
	}

	u := &Update{}
	for _, f := range spec.fields {
		op, ok := updateTags[f.Key]
		if !ok {
			return nil, fieldErrf(f.Key, ErrUnsupportedQueryOperator, "unknown update operator")
		}
		if f.Value.kind != KindDocument {
			return nil, fieldErrf(f.Key, ErrInvalidUpdateSpec, "operand must be a document, got %s", f.Value.kind)
		}
		for _, sub := range f.Value.doc.fields {
			if sub.Key == "" || strings.HasPrefix(sub.Key, "$") {
				return nil, fieldErrf(f.Key, ErrInvalidUpdateSpec, "invalid field name %q", sub.Key)
			}
			switch op {
			case updInc:
				if !sub.Value.IsNumber() {
					return nil, fieldErrf(sub.Key, ErrInvalidUpdateSpec, "$inc needs a number, got %s", sub.Value.kind)
				}
			case updSet:
				if err := checkStorableValue(sub.Value); err != nil {
					return nil, prefixPath(sub.Key, err)
				}
			}
			u.mutations = append(u.mutations, mutation{op, sub.Key, sub.Value})
		}
	}
	return u, nil
}

// IsReplacement reports whether the update replaces whole documents.
func (u *Update) IsReplacement() bool {
	return u.replacement != nil
}

// Apply returns the updated copy of d. The identity of d is preserved. On
// error d is left as it was and nothing is returned.
func (u *Update) Apply(d *Document) (*Document, error) {
	id, hasID := d.ID()

	if u.replacement != nil {
		out := &Document{fields: make([]Field, 0, u.replacement.Len()+1)}
		if hasID {
			out.fields = append(out.fields, Field{IDField, id})
		}
		for _, f := range u.replacement.fields {
			if f.Key != IDField {
				out.fields = append(out.fields, f)
			} else if !hasID {
				out.fields = append([]Field{f}, out.fields...)
			}
		}
		return out, nil
	}

	out := d.Clone()
	for _, m := range u.mutations {
		if m.path == IDField || strings.HasPrefix(m.path, IDField+".") {
			if m.op == updSet && hasID && m.path == IDField && m.value.Equal(id) {
				continue
			}
			if hasID {
				return nil, fieldErrf(m.path, ErrInvalidUpdateSpec, "%s would modify the immutable field _id", m.op)
			}
		}
		if err := m.apply(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (op updateOp) String() string {
	switch op {
	case updSet:
		return "$set"
	case updUnset:
		return "$unset"
	case updInc:
		return "$inc"
	default:
		return "$?"
	}
}

func (m *mutation) apply(d *Document) error {
	switch m.op {
	case updSet:
		return d.setPath(m.path, m.value)
	case updUnset:
		d.deletePath(m.path)
		return nil
	case updInc:
		cur, ok := d.Lookup(m.path)
		if !ok {
			return d.setPath(m.path, m.value)
		}
		sum, err := addNumbers(cur, m.value)
		if err != nil {
			return prefixPath(m.path, err)
		}
		return d.setPath(m.path, sum)
	default:
		panic("unknown update op")
	}
}

func addNumbers(a, b Value) (Value, error) {
	if !a.IsNumber() {
		return Null, fieldErrf("", ErrInvalidUpdateSpec, "cannot $inc a %s field", a.kind)
	}
	if a.kind == KindInt && b.kind == KindInt {
		s := a.n + b.n
		if (s > a.n) == (b.n > 0) {
			return Int(s), nil
		}
		// overflow falls back to floating point
	}
	af, _ := a.FloatValue()
	bf, _ := b.FloatValue()
	s := af + bf
	if math.IsInf(s, 0) {
		return Null, fieldErrf("", ErrInvalidUpdateSpec, "$inc overflows")
	}
	return Float(s), nil
}

// checkStorable rejects query-only values inside documents being written.
func checkStorable(d *Document) error {
	for _, f := range d.fields {
		if err := checkStorableValue(f.Value); err != nil {
			return prefixPath(f.Key, err)
		}
	}
	return nil
}

func checkStorableValue(v Value) error {
	switch v.kind {
	case KindRegex:
		return fieldErrf("", ErrInvalidDocumentType, "regex values are only valid in queries")
	case KindDocument:
		return checkStorable(v.doc)
	case KindArray:
		for _, e := range v.arr {
			if err := checkStorableValue(e); err != nil {
				return err
			}
		}
	}
	return nil
}
