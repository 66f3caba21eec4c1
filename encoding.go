package mongoplay

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Binary encoding of documents, used for snapshots, the journal and size
// accounting.
//
// Documents are msgpack maps written in field order; scalars use the native
// msgpack types. Object ids and regexes are msgpack bin values whose first
// byte is a tag:
//
//	binObjectID  + 12 id bytes
//	binRegex     + options + 0x00 + source
const (
	binObjectID byte = 0x07
	binRegex    byte = 0x0B
)

var (
	_ msgpack.CustomEncoder = (*Document)(nil)
	_ msgpack.CustomDecoder = (*Document)(nil)
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
)

func (d *Document) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(d.Len()); err != nil {
		return err
	}
	for _, f := range d.fields {
		if err := enc.EncodeString(f.Key); err != nil {
			return err
		}
		if err := f.Value.EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	if n < 0 {
		d.fields = nil
		return nil
	}
	d.fields = make([]Field, 0, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		var v Value
		if err := v.DecodeMsgpack(dec); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		d.fields = append(d.fields, Field{key, v})
	}
	return nil
}

func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch v.kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.n != 0)
	case KindInt:
		return enc.EncodeInt(v.n)
	case KindFloat:
		return enc.EncodeFloat64(v.f)
	case KindString:
		return enc.EncodeString(v.s)
	case KindObjectID:
		buf := make([]byte, 0, 1+len(v.oid))
		buf = append(buf, binObjectID)
		buf = append(buf, v.oid[:]...)
		return enc.EncodeBytes(buf)
	case KindRegex:
		buf := make([]byte, 0, 2+len(v.re.options)+len(v.re.source))
		buf = append(buf, binRegex)
		buf = append(buf, v.re.options...)
		buf = append(buf, 0)
		buf = append(buf, v.re.source...)
		return enc.EncodeBytes(buf)
	case KindDocument:
		return v.doc.EncodeMsgpack(enc)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.arr)); err != nil {
			return err
		}
		for _, e := range v.arr {
			if err := e.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	default:
		panic(fmt.Errorf("unknown kind %d", v.kind))
	}
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}
	switch {
	case c == msgpcode.Nil:
		*v = Null
		return dec.DecodeNil()
	case c == msgpcode.False || c == msgpcode.True:
		b, err := dec.DecodeBool()
		*v = Bool(b)
		return err
	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		*v = Float(f)
		return err
	case msgpcode.IsFixedNum(c) || (c >= msgpcode.Uint8 && c <= msgpcode.Int64):
		n, err := dec.DecodeInt64()
		*v = Int(n)
		return err
	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		*v = String(s)
		return err
	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		return v.decodeBin(b)
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		d := &Document{}
		if err := d.DecodeMsgpack(dec); err != nil {
			return err
		}
		*v = Value{kind: KindDocument, doc: d}
		return nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		arr := make([]Value, max(n, 0))
		for i := range arr {
			if err := arr[i].DecodeMsgpack(dec); err != nil {
				return err
			}
		}
		*v = Value{kind: KindArray, arr: arr}
		return nil
	default:
		return fmt.Errorf("unexpected msgpack code 0x%02x", c)
	}
}

func (v *Value) decodeBin(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty tagged value")
	}
	switch b[0] {
	case binObjectID:
		var oid primitive.ObjectID
		if len(b) != 1+len(oid) {
			return fmt.Errorf("invalid object id length %d", len(b)-1)
		}
		copy(oid[:], b[1:])
		*v = ObjectID(oid)
		return nil
	case binRegex:
		rest := b[1:]
		for i, c := range rest {
			if c == 0 {
				rv, err := Regex(string(rest[i+1:]), string(rest[:i]))
				if err != nil {
					return err
				}
				*v = rv
				return nil
			}
		}
		return fmt.Errorf("invalid regex encoding")
	default:
		return fmt.Errorf("unknown value tag 0x%02x", b[0])
	}
}

// MarshalDocument encodes d into its binary form.
func MarshalDocument(d *Document) ([]byte, error) {
	return msgpack.Marshal(d)
}

// UnmarshalDocument decodes a document produced by MarshalDocument.
func UnmarshalDocument(data []byte) (*Document, error) {
	d := &Document{}
	if err := msgpack.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return d, nil
}

// encodedSize is the size of d's binary form, used for stats.
func encodedSize(d *Document) int {
	data, err := MarshalDocument(d)
	if err != nil {
		panic(fmt.Errorf("encoding %v: %w", d, err))
	}
	return len(data)
}
