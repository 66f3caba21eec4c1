package mongoplay

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestDocument_basics(t *testing.T) {
	d := MustDocument("name", "mo", "info", MustDocument("x", 1, "y.z", 2), "tags", []string{"a", "b"})
	deepEqual(t, d.Len(), 3)
	deepEqual(t, d.Keys(), []string{"name", "info", "tags"})
	deepEqual(t, d.Has("name"), true)
	deepEqual(t, d.Has("nope"), false)

	v, ok := d.Lookup("info.x")
	deepEqual(t, ok, true)
	deepEqual(t, v.String(), "1")

	_, ok = d.Lookup("info.nope")
	deepEqual(t, ok, false)
	_, ok = d.Lookup("name.x")
	deepEqual(t, ok, false)
	_, ok = d.Lookup("tags.0")
	deepEqual(t, ok, false)

	ok2 := must(NewDocument("a.b", 1, "a", MustDocument("b", 2)))
	v, _ = ok2.Lookup("a.b")
	deepEqual(t, v.String(), "1")

	_, hasID := d.ID()
	deepEqual(t, hasID, false)
}

func TestDocument_setKeepsPosition(t *testing.T) {
	d := MustDocument("a", 1, "b", 2)
	ok(t, d.Set("a", "x"))
	ok(t, d.Set("c", 3.5))
	deepEqual(t, d.String(), `{"a": "x", "b": 2, "c": 3.5}`)

	deepEqual(t, d.Delete("b"), true)
	deepEqual(t, d.Delete("b"), false)
	deepEqual(t, d.String(), `{"a": "x", "c": 3.5}`)

	isErr(t, d.Set("bad", struct{}{}), ErrInvalidDocumentType)
}

func TestDocument_NewDocumentErrors(t *testing.T) {
	_, err := NewDocument("a")
	if err == nil {
		t.Errorf("** odd argument count accepted")
	}
	_, err = NewDocument(1, 2)
	if err == nil {
		t.Errorf("** non-string key accepted")
	}
}

func TestDocument_setPath(t *testing.T) {
	d := MustDocument("info", MustDocument("x", 1))
	orig := d.Clone()

	ok(t, d.setPath("info.y", Int(2)))
	ok(t, d.setPath("new.deep.z", Int(3)))
	deepEqual(t, d.String(), `{"info": {"x": 1, "y": 2}, "new": {"deep": {"z": 3}}}`)
	deepEqual(t, orig.String(), `{"info": {"x": 1}}`)

	isErr(t, d.setPath("info.x.q", Int(1)), ErrInvalidUpdateSpec)

	deepEqual(t, d.deletePath("new.deep.z"), true)
	deepEqual(t, d.deletePath("new.none"), false)
	deepEqual(t, d.String(), `{"info": {"x": 1, "y": 2}, "new": {"deep": {}}}`)
}

func TestDocument_cloneIsIndependent(t *testing.T) {
	d := MustDocument("a", 1, "sub", MustDocument("b", 2))
	c := d.Clone()
	c.SetValue("a", Int(10))
	ok(t, c.setPath("sub.b", Int(20)))
	deepEqual(t, d.String(), `{"a": 1, "sub": {"b": 2}}`)
	deepEqual(t, c.String(), `{"a": 10, "sub": {"b": 20}}`)
}

func TestDocument_equalIsOrderSensitive(t *testing.T) {
	a := MustDocument("x", 1, "y", 2)
	deepEqual(t, a.Equal(MustDocument("x", 1.0, "y", 2)), true)
	deepEqual(t, a.Equal(MustDocument("y", 2, "x", 1)), false)
	deepEqual(t, a.Equal(MustDocument("x", 1)), false)
}

func TestDocument_nilIsEmpty(t *testing.T) {
	var d *Document
	isempty(t, d.Keys())
	deepEqual(t, d.Equal(&Document{}), true)
	deepEqual(t, (&Document{}).Equal(d), true)
	deepEqual(t, d.Equal(d), true)
	deepEqual(t, d.Equal(MustDocument("x", 1)), false)
}

func TestDocument_BSON(t *testing.T) {
	oid := NewObjectID()
	src := bson.D{
		{Key: "_id", Value: oid},
		{Key: "name", Value: "mo"},
		{Key: "info", Value: bson.D{{Key: "n", Value: int32(3)}}},
		{Key: "list", Value: bson.A{1.5, "x"}},
	}
	d := must(FromBSON(src))
	id, _ := d.ID()
	idv, _ := id.ObjectIDValue()
	deepEqual(t, idv, oid)
	deepEqual(t, d.String(), `{"_id": ObjectId("`+oid.Hex()+`"), "name": "mo", "info": {"n": 3}, "list": [1.5, "x"]}`)

	data, err := bson.MarshalExtJSON(d.BSON(), false, false)
	ok(t, err)
	var back bson.D
	ok(t, bson.UnmarshalExtJSON(data, false, &back))
	docEqual(t, must(FromBSON(back)), d)
}
