package mongoplay

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// IDField is the name of the identity field.
const IDField = "_id"

// Field is a single key-value pair of a Document.
type Field struct {
	Key   string
	Value Value
}

// Document is an ordered mapping from field names to values.
//
// A Document owns its field list, but nested documents and arrays are
// immutable Values, so a shallow copy of the field list is a deep copy.
type Document struct {
	fields []Field
}

// NewDocument builds a document from alternating keys and values:
//
//	NewDocument("name", "MongoDB", "count", 1)
func NewDocument(kv ...any) (*Document, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("NewDocument: odd number of arguments (%d)", len(kv))
	}
	d := &Document{fields: make([]Field, 0, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("NewDocument: key #%d is %T, not a string", i/2, kv[i])
		}
		v, err := ValueOf(kv[i+1])
		if err != nil {
			return nil, prefixPath(key, err)
		}
		d.SetValue(key, v)
	}
	return d, nil
}

// MustDocument is NewDocument that panics on error. Intended for literals.
func MustDocument(kv ...any) *Document {
	return must(NewDocument(kv...))
}

// FromMap converts a Go map. Map order is undefined, so keys are sorted,
// except that _id always comes first.
func FromMap(m map[string]any) (*Document, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == IDField || keys[j] == IDField {
			return keys[i] == IDField && keys[j] != IDField
		}
		return keys[i] < keys[j]
	})
	d := &Document{fields: make([]Field, 0, len(keys))}
	for _, k := range keys {
		v, err := ValueOf(m[k])
		if err != nil {
			return nil, prefixPath(k, err)
		}
		d.fields = append(d.fields, Field{k, v})
	}
	return d, nil
}

// FromBSON converts an ordered bson document.
func FromBSON(src bson.D) (*Document, error) {
	d := &Document{fields: make([]Field, 0, len(src))}
	for _, e := range src {
		v, err := ValueOf(e.Value)
		if err != nil {
			return nil, prefixPath(e.Key, err)
		}
		d.SetValue(e.Key, v)
	}
	return d, nil
}

// BSON converts the document into a bson.D suitable for bson.Marshal and
// bson.MarshalExtJSON.
func (d *Document) BSON() bson.D {
	out := make(bson.D, len(d.fields))
	for i, f := range d.fields {
		out[i] = bson.E{Key: f.Key, Value: f.Value.bsonValue()}
	}
	return out
}

func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

func (d *Document) Keys() []string {
	keys := make([]string, d.Len())
	for i, f := range d.Fields() {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the field list.
func (d *Document) Fields() []Field {
	if d == nil {
		return nil
	}
	return slices.Clone(d.fields)
}

func (d *Document) index(key string) int {
	if d == nil {
		return -1
	}
	for i, f := range d.fields {
		if f.Key == key {
			return i
		}
	}
	return -1
}

func (d *Document) Has(key string) bool {
	return d.index(key) >= 0
}

// Get returns the top-level field named key.
func (d *Document) Get(key string) (Value, bool) {
	i := d.index(key)
	if i < 0 {
		return Null, false
	}
	return d.fields[i].Value, true
}

// Lookup resolves a dotted path through nested documents. A top-level key
// that literally contains dots wins over path traversal.
func (d *Document) Lookup(path string) (Value, bool) {
	if v, ok := d.Get(path); ok || !strings.Contains(path, ".") {
		return v, ok
	}
	cur := d
	for {
		head, rest, more := strings.Cut(path, ".")
		v, ok := cur.Get(head)
		if !ok {
			return Null, false
		}
		if !more {
			return v, true
		}
		if v.kind != KindDocument {
			return Null, false
		}
		cur, path = v.doc, rest
	}
}

// ID returns the identity value, if assigned.
func (d *Document) ID() (Value, bool) {
	return d.Get(IDField)
}

// Set converts v and assigns it to key, keeping the position of an existing
// field or appending a new one.
func (d *Document) Set(key string, v any) error {
	val, err := ValueOf(v)
	if err != nil {
		return prefixPath(key, err)
	}
	d.SetValue(key, val)
	return nil
}

func (d *Document) SetValue(key string, v Value) {
	if i := d.index(key); i >= 0 {
		d.fields[i].Value = v
	} else {
		d.fields = append(d.fields, Field{key, v})
	}
}

// Delete removes key and reports whether it was present.
func (d *Document) Delete(key string) bool {
	i := d.index(key)
	if i < 0 {
		return false
	}
	d.fields = slices.Delete(d.fields, i, i+1)
	return true
}

// setPath assigns through a dotted path, replacing nested documents with
// modified copies. Missing intermediate documents are created.
func (d *Document) setPath(path string, v Value) error {
	head, rest, more := strings.Cut(path, ".")
	if !more {
		d.SetValue(path, v)
		return nil
	}
	var sub *Document
	if cur, ok := d.Get(head); ok {
		if cur.kind != KindDocument {
			return fieldErrf(path, ErrInvalidUpdateSpec, "cannot traverse %s field %q", cur.kind, head)
		}
		sub = cur.doc.Clone()
	} else {
		sub = &Document{}
	}
	if err := sub.setPath(rest, v); err != nil {
		return err
	}
	d.SetValue(head, Value{kind: KindDocument, doc: sub})
	return nil
}

// deletePath removes a field addressed by a dotted path.
func (d *Document) deletePath(path string) bool {
	head, rest, more := strings.Cut(path, ".")
	if !more {
		return d.Delete(path)
	}
	cur, ok := d.Get(head)
	if !ok || cur.kind != KindDocument {
		return false
	}
	sub := cur.doc.Clone()
	if !sub.deletePath(rest) {
		return false
	}
	d.SetValue(head, Value{kind: KindDocument, doc: sub})
	return true
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{fields: slices.Clone(d.fields)}
}

// Equal reports structural equality, including field order.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	if d.Len() == 0 {
		return true
	}
	for i, f := range d.fields {
		g := o.fields[i]
		if f.Key != g.Key || !f.Value.Equal(g.Value) {
			return false
		}
	}
	return true
}

func (d *Document) String() string {
	var buf strings.Builder
	d.appendTo(&buf)
	return buf.String()
}

func (d *Document) appendTo(buf *strings.Builder) {
	buf.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(strconv.Quote(f.Key))
		buf.WriteString(": ")
		f.Value.appendTo(buf)
	}
	buf.WriteByte('}')
}
