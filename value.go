package mongoplay

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindObjectID
	KindDocument
	KindArray
	KindRegex
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindObjectID: "objectId",
	KindDocument: "document",
	KindArray:    "array",
	KindRegex:    "regex",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// class groups kinds that compare with each other, in canonical sort order.
func (k Kind) class() int {
	switch k {
	case KindNull:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindString:
		return 3
	case KindDocument:
		return 4
	case KindArray:
		return 5
	case KindObjectID:
		return 6
	case KindBool:
		return 7
	case KindRegex:
		return 8
	default:
		panic(fmt.Errorf("unknown kind %d", k))
	}
}

// Value is a single document value. The zero Value is null.
//
// Values are immutable; documents and arrays inside a Value are never
// modified after construction, so Values can be shared freely.
type Value struct {
	kind Kind
	n    int64 // int, bool
	f    float64
	s    string
	oid  primitive.ObjectID
	doc  *Document
	arr  []Value
	re   *pattern
}

type pattern struct {
	re      *regexp.Regexp
	source  string
	options string
}

var Null = Value{}

func Bool(v bool) Value {
	var n int64
	if v {
		n = 1
	}
	return Value{kind: KindBool, n: n}
}

func Int(v int64) Value { return Value{kind: KindInt, n: v} }

func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

func String(v string) Value { return Value{kind: KindString, s: v} }

func ObjectID(v primitive.ObjectID) Value { return Value{kind: KindObjectID, oid: v} }

// DocumentValue wraps a copy of d.
func DocumentValue(d *Document) Value {
	if d == nil {
		d = &Document{}
	}
	return Value{kind: KindDocument, doc: d.Clone()}
}

// Array builds an array value from already converted elements.
func Array(elems ...Value) Value {
	return Value{kind: KindArray, arr: slices.Clone(elems)}
}

// Regex compiles a pattern with MongoDB-style options (i, m, s).
func Regex(src, options string) (Value, error) {
	var flags strings.Builder
	for _, c := range options {
		switch c {
		case 'i', 'm', 's':
			flags.WriteRune(c)
		default:
			return Null, fieldErrf("", ErrInvalidDocumentType, "unsupported regex option %q", c)
		}
	}
	expr := src
	if flags.Len() > 0 {
		expr = "(?" + flags.String() + ")" + src
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Null, fieldErrf("", ErrInvalidDocumentType, "bad regex %q: %v", src, err)
	}
	return Value{kind: KindRegex, re: &pattern{re, src, options}}, nil
}

func regexValue(re *regexp.Regexp) Value {
	return Value{kind: KindRegex, re: &pattern{re, re.String(), ""}}
}

// ValueOf converts loosely typed Go data into a Value.
func ValueOf(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Null, nil
	case Value:
		return v, nil
	case *Value:
		if v == nil {
			return Null, nil
		}
		return *v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return uintValue(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return uintValue(v)
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case primitive.ObjectID:
		return ObjectID(v), nil
	case *regexp.Regexp:
		if v == nil {
			return Null, nil
		}
		return regexValue(v), nil
	case primitive.Regex:
		return Regex(v.Pattern, v.Options)
	case *Document:
		if v == nil {
			return Null, nil
		}
		return DocumentValue(v), nil
	case Document:
		return DocumentValue(&v), nil
	case bson.D:
		d, err := FromBSON(v)
		if err != nil {
			return Null, err
		}
		return Value{kind: KindDocument, doc: d}, nil
	case bson.M:
		d, err := FromMap(v)
		if err != nil {
			return Null, err
		}
		return Value{kind: KindDocument, doc: d}, nil
	case map[string]any:
		d, err := FromMap(v)
		if err != nil {
			return Null, err
		}
		return Value{kind: KindDocument, doc: d}, nil
	case bson.A:
		return sliceValue(reflect.ValueOf([]any(v)))
	case []any:
		return sliceValue(reflect.ValueOf(v))
	case []Value:
		return Array(v...), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return sliceValue(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				m[iter.Key().String()] = iter.Value().Interface()
			}
			d, err := FromMap(m)
			if err != nil {
				return Null, err
			}
			return Value{kind: KindDocument, doc: d}, nil
		}
	}
	return Null, fieldErrf("", ErrInvalidDocumentType, "unsupported type %T", v)
}

// MustValue is ValueOf that panics on unsupported types.
func MustValue(v any) Value {
	return must(ValueOf(v))
}

func uintValue(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Null, fieldErrf("", ErrInvalidDocumentType, "integer %d overflows int64", v)
	}
	return Int(int64(v)), nil
}

func sliceValue(rv reflect.Value) (Value, error) {
	n := rv.Len()
	arr := make([]Value, n)
	for i := 0; i < n; i++ {
		ev, err := ValueOf(rv.Index(i).Interface())
		if err != nil {
			return Null, prefixPath(strconv.Itoa(i), err)
		}
		arr[i] = ev
	}
	return Value{kind: KindArray, arr: arr}, nil
}

// prefixPath prepends a path element to a FieldError.
func prefixPath(elem string, err error) error {
	if fe, ok := err.(*FieldError); ok {
		p := elem
		if fe.Path != "" {
			p = elem + "." + fe.Path
		}
		return &FieldError{p, fe.Msg, fe.Err}
	}
	return err
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

func (v Value) BoolValue() (bool, bool) {
	return v.n != 0, v.kind == KindBool
}

func (v Value) IntValue() (int64, bool) {
	return v.n, v.kind == KindInt
}

func (v Value) FloatValue() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.n), true
	default:
		return 0, false
	}
}

func (v Value) StringValue() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) ObjectIDValue() (primitive.ObjectID, bool) {
	return v.oid, v.kind == KindObjectID
}

// DocumentValue returns a copy of the nested document.
func (v Value) DocumentValue() (*Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc.Clone(), true
}

// ArrayValue returns a copy of the array elements.
func (v Value) ArrayValue() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return slices.Clone(v.arr), true
}

func (v Value) RegexValue() (*regexp.Regexp, bool) {
	if v.kind != KindRegex {
		return nil, false
	}
	return v.re.re, true
}

// Interface returns the natural Go representation: nil, bool, int64,
// float64, string, primitive.ObjectID, *Document, []any or *regexp.Regexp.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.n != 0
	case KindInt:
		return v.n
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindObjectID:
		return v.oid
	case KindDocument:
		return v.doc.Clone()
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindRegex:
		return v.re.re
	default:
		panic(fmt.Errorf("unknown kind %d", v.kind))
	}
}

// bsonValue converts to the representation the bson package marshals.
func (v Value) bsonValue() any {
	switch v.kind {
	case KindDocument:
		return v.doc.BSON()
	case KindArray:
		out := make(bson.A, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.bsonValue()
		}
		return out
	case KindRegex:
		return primitive.Regex{Pattern: v.re.source, Options: v.re.options}
	default:
		return v.Interface()
	}
}

// Equal reports structural equality. Ints and floats compare numerically.
func (v Value) Equal(o Value) bool {
	if v.kind.class() != o.kind.class() {
		return false
	}
	return Compare(v, o) == 0
}

// Compare orders two values: first by type class (null, numbers, strings,
// documents, arrays, object ids, booleans, regexes), then by value.
func Compare(a, b Value) int {
	if c := cmp.Compare(a.kind.class(), b.kind.class()); c != 0 {
		return c
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		return cmp.Compare(a.n, b.n)
	case KindInt, KindFloat:
		return compareNumbers(a, b)
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindObjectID:
		return bytes.Compare(a.oid[:], b.oid[:])
	case KindDocument:
		return compareDocuments(a.doc, b.doc)
	case KindArray:
		return slices.CompareFunc(a.arr, b.arr, Compare)
	case KindRegex:
		if c := strings.Compare(a.re.source, b.re.source); c != 0 {
			return c
		}
		return strings.Compare(a.re.options, b.re.options)
	default:
		panic(fmt.Errorf("unknown kind %d", a.kind))
	}
}

func compareNumbers(a, b Value) int {
	if a.kind == KindInt && b.kind == KindInt {
		return cmp.Compare(a.n, b.n)
	}
	af, _ := a.FloatValue()
	bf, _ := b.FloatValue()
	return cmp.Compare(af, bf)
}

func compareDocuments(a, b *Document) int {
	n := min(len(a.fields), len(b.fields))
	for i := 0; i < n; i++ {
		fa, fb := a.fields[i], b.fields[i]
		if c := Compare(fa.Value, fb.Value); c != 0 {
			return c
		}
		if c := strings.Compare(fa.Key, fb.Key); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a.fields), len(b.fields))
}

// rangeComparable reports whether range operators may compare a and b.
func rangeComparable(a, b Value) bool {
	return a.kind.class() == b.kind.class() && a.kind != KindRegex
}

func (v Value) String() string {
	var buf strings.Builder
	v.appendTo(&buf)
	return buf.String()
}

func (v Value) appendTo(buf *strings.Builder) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.n != 0))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.n, 10))
	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		buf.WriteString(strconv.Quote(v.s))
	case KindObjectID:
		buf.WriteString(`ObjectId("`)
		buf.WriteString(v.oid.Hex())
		buf.WriteString(`")`)
	case KindDocument:
		v.doc.appendTo(buf)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteString(", ")
			}
			e.appendTo(buf)
		}
		buf.WriteByte(']')
	case KindRegex:
		buf.WriteByte('/')
		buf.WriteString(v.re.source)
		buf.WriteByte('/')
		buf.WriteString(v.re.options)
	}
}
