package mongoplay

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/btree"
)

const (
	idIndexName = "_id_"
	btreeDegree = 32
)

// IndexKey is one field of an index, ascending unless Desc.
type IndexKey struct {
	Field string `msgpack:"f"`
	Desc  bool   `msgpack:"d,omitempty"`
}

// IndexSpec describes an index of a collection.
type IndexSpec struct {
	Name   string     `msgpack:"n"`
	Keys   []IndexKey `msgpack:"k"`
	Unique bool       `msgpack:"u,omitempty"`
}

type IndexOptions struct {
	Name   string
	Unique bool
}

// KeyDocument renders the keys the way clients spell them: {"i": 1, "j": -1}.
func (s IndexSpec) KeyDocument() *Document {
	d := &Document{}
	for _, k := range s.Keys {
		dir := int64(1)
		if k.Desc {
			dir = -1
		}
		d.SetValue(k.Field, Int(dir))
	}
	return d
}

func (s IndexSpec) sameKeys(o IndexSpec) bool {
	if len(s.Keys) != len(o.Keys) {
		return false
	}
	for i, k := range s.Keys {
		if k != o.Keys[i] {
			return false
		}
	}
	return true
}

// ParseIndexKeys parses {"field": 1 | -1, ...}.
func ParseIndexKeys(keys *Document) ([]IndexKey, error) {
	if keys.Len() == 0 {
		return nil, fieldErrf("", ErrIndexConflict, "index needs at least one key")
	}
	result := make([]IndexKey, 0, keys.Len())
	for _, f := range keys.fields {
		if f.Key == "" || strings.HasPrefix(f.Key, "$") {
			return nil, fieldErrf(f.Key, ErrIndexConflict, "invalid index field")
		}
		dir, ok := f.Value.FloatValue()
		if !ok || (dir != 1 && dir != -1) {
			return nil, fieldErrf(f.Key, ErrIndexConflict, "index direction must be 1 or -1, got %v", f.Value)
		}
		result = append(result, IndexKey{f.Key, dir < 0})
	}
	return result, nil
}

func defaultIndexName(keys []IndexKey) string {
	var buf strings.Builder
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('_')
		}
		buf.WriteString(k.Field)
		if k.Desc {
			buf.WriteString("_-1")
		} else {
			buf.WriteString("_1")
		}
	}
	return buf.String()
}

type indexEntry struct {
	key []Value
	seq uint64
}

type index struct {
	spec IndexSpec
	tree *btree.BTreeG[indexEntry]
}

func newIndex(spec IndexSpec) *index {
	idx := &index{spec: spec}
	idx.tree = btree.NewG(btreeDegree, idx.less)
	return idx
}

func newIDIndex() *index {
	return newIndex(IndexSpec{Name: idIndexName, Keys: []IndexKey{{Field: IDField}}, Unique: true})
}

func (idx *index) compareKeys(a, b []Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		c := Compare(a[i], b[i])
		if idx.spec.Keys[i].Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func (idx *index) less(a, b indexEntry) bool {
	if c := idx.compareKeys(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// keyOf extracts the index key of d. Missing fields index as null.
func (idx *index) keyOf(d *Document) []Value {
	key := make([]Value, len(idx.spec.Keys))
	for i, k := range idx.spec.Keys {
		if v, ok := d.Lookup(k.Field); ok {
			key[i] = v
		}
	}
	return key
}

// conflict returns the sequence number of another document holding key in
// a unique index.
func (idx *index) conflict(key []Value, seq uint64) (uint64, bool) {
	if !idx.spec.Unique {
		return 0, false
	}
	var found uint64
	var ok bool
	idx.tree.AscendGreaterOrEqual(indexEntry{key: key}, func(e indexEntry) bool {
		if idx.compareKeys(e.key, key) != 0 {
			return false
		}
		if e.seq != seq {
			found, ok = e.seq, true
			return false
		}
		return true
	})
	return found, ok
}

func (idx *index) insert(key []Value, seq uint64) {
	idx.tree.ReplaceOrInsert(indexEntry{key, seq})
}

func (idx *index) remove(key []Value, seq uint64) {
	if _, ok := idx.tree.Delete(indexEntry{key, seq}); !ok {
		panic(fmt.Errorf("index %s: missing entry for seq %d", idx.spec.Name, seq))
	}
}

func (idx *index) dupKeyError(key []Value) error {
	var buf strings.Builder
	buf.WriteString("index ")
	buf.WriteString(idx.spec.Name)
	buf.WriteString(" dup key: {")
	for i, k := range idx.spec.Keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(strconv.Quote(k.Field))
		buf.WriteString(": ")
		key[i].appendTo(&buf)
	}
	buf.WriteByte('}')
	return fieldErrf("", ErrDuplicateKey, "%s", buf.String())
}

// valueRange bounds the leading field of an index in natural value order.
// A nil bound is open.
type valueRange struct {
	Lower    *Value
	Upper    *Value
	LowerInc bool
	UpperInc bool
}

func (r valueRange) isPoint() bool {
	return r.Lower != nil && r.Upper != nil && r.LowerInc && r.UpperInc && Compare(*r.Lower, *r.Upper) == 0
}

func (r valueRange) String() string {
	var buf strings.Builder
	if r.Lower == nil {
		buf.WriteString("(-inf")
	} else {
		if r.LowerInc {
			buf.WriteByte('[')
		} else {
			buf.WriteByte('(')
		}
		r.Lower.appendTo(&buf)
	}
	buf.WriteString(", ")
	if r.Upper == nil {
		buf.WriteString("+inf)")
	} else {
		r.Upper.appendTo(&buf)
		if r.UpperInc {
			buf.WriteByte(']')
		} else {
			buf.WriteByte(')')
		}
	}
	return buf.String()
}

// scan visits the sequence numbers of entries whose leading key falls in r,
// in index order. It returns the number of keys examined.
func (idx *index) scan(r valueRange, fn func(seq uint64) bool) int {
	start, end := r.Lower, r.Upper
	startInc, endInc := r.LowerInc, r.UpperInc
	sign := 1
	if idx.spec.Keys[0].Desc {
		start, end = end, start
		startInc, endInc = endInc, startInc
		sign = -1
	}

	var examined int
	visit := func(e indexEntry) bool {
		k := e.key[0]
		if start != nil && !startInc && Compare(k, *start) == 0 {
			return true
		}
		if end != nil {
			c := sign * Compare(k, *end)
			if c > 0 || (c == 0 && !endInc) {
				return false
			}
		}
		examined++
		return fn(e.seq)
	}
	if start != nil {
		idx.tree.AscendGreaterOrEqual(indexEntry{key: []Value{*start}}, visit)
	} else {
		idx.tree.Ascend(visit)
	}
	return examined
}

// rangeFor derives the bounds a query places on path, and whether the
// bounds come from an equality.
func (q *Query) rangeFor(path string) (valueRange, bool, bool) {
	var r valueRange
	var found bool
	for _, c := range q.clauses {
		if c.field() != path {
			continue
		}
		switch c := c.(type) {
		case *literalClause:
			v := c.value
			return valueRange{Lower: &v, Upper: &v, LowerInc: true, UpperInc: true}, true, true
		case *operatorClause:
			v := c.operand
			switch c.op {
			case OpEq:
				return valueRange{Lower: &v, Upper: &v, LowerInc: true, UpperInc: true}, true, true
			case OpGt, OpGte:
				if r.Lower == nil {
					r.Lower, r.LowerInc, found = &v, c.op == OpGte, true
				}
			case OpLt, OpLte:
				if r.Upper == nil {
					r.Upper, r.UpperInc, found = &v, c.op == OpLte, true
				}
			}
		}
	}
	return r, false, found
}
