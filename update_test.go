package mongoplay

import (
	"math"
	"regexp"
	"testing"
)

func TestUpdate_replace(t *testing.T) {
	oid := NewObjectID()
	orig := MustDocument("_id", oid, "name", "mo", "age", 3)

	u := must(ParseUpdate(MustDocument("name", "om", "_id", NewObjectID())))
	deepEqual(t, u.IsReplacement(), true)
	out := must(u.Apply(orig))
	docEqual(t, out, MustDocument("_id", oid, "name", "om"))
	docEqual(t, orig, MustDocument("_id", oid, "name", "mo", "age", 3))
}

func TestUpdate_operators(t *testing.T) {
	oid := NewObjectID()
	orig := MustDocument("_id", oid, "name", "mo", "n", 1, "f", 1.5, "info", MustDocument("x", 1))

	u := must(ParseUpdate(MustDocument(
		"$set", MustDocument("name", "om", "info.y", 2, "new.deep", true),
		"$inc", MustDocument("n", 2, "f", 1, "fresh", 5),
		"$unset", MustDocument("info.x", ""),
	)))
	deepEqual(t, u.IsReplacement(), false)
	out := must(u.Apply(orig))
	docEqual(t, out, MustDocument(
		"_id", oid,
		"name", "om",
		"n", 3,
		"f", 2.5,
		"info", MustDocument("y", 2),
		"new", MustDocument("deep", true),
		"fresh", 5,
	))
	docEqual(t, orig, MustDocument("_id", oid, "name", "mo", "n", 1, "f", 1.5, "info", MustDocument("x", 1)))
}

func TestUpdate_setSameIDIsAllowed(t *testing.T) {
	oid := NewObjectID()
	orig := MustDocument("_id", oid, "a", 1)
	out := must(must(ParseUpdate(MustDocument("$set", MustDocument("_id", oid, "a", 2)))).Apply(orig))
	docEqual(t, out, MustDocument("_id", oid, "a", 2))
}

func TestUpdate_incOverflowFallsBackToFloat(t *testing.T) {
	out := must(must(ParseUpdate(MustDocument("$inc", MustDocument("n", 1)))).Apply(MustDocument("n", int64(math.MaxInt64))))
	v, _ := out.Get("n")
	deepEqual(t, v.Kind(), KindFloat)
}

func TestParseUpdate_errors(t *testing.T) {
	tests := []struct {
		spec *Document
		err  error
	}{
		{MustDocument("$set", MustDocument("a", 1), "b", 2), ErrInvalidUpdateSpec},
		{MustDocument("$push", MustDocument("a", 1)), ErrUnsupportedQueryOperator},
		{MustDocument("$set", 5), ErrInvalidUpdateSpec},
		{MustDocument("$inc", MustDocument("a", "x")), ErrInvalidUpdateSpec},
		{MustDocument("$set", MustDocument("$a", 1)), ErrInvalidUpdateSpec},
		{MustDocument("$set", MustDocument("re", regexp.MustCompile("x"))), ErrInvalidDocumentType},
		{MustDocument("re", regexp.MustCompile("x")), ErrInvalidDocumentType},
	}
	for _, tt := range tests {
		_, err := ParseUpdate(tt.spec)
		isErr(t, err, tt.err)
	}
}

func TestUpdate_Apply_errorsLeaveOriginal(t *testing.T) {
	oid := NewObjectID()
	orig := MustDocument("_id", oid, "name", "mo", "a", 1)
	tests := []*Document{
		MustDocument("$set", MustDocument("_id", NewObjectID())),
		MustDocument("$unset", MustDocument("_id", 1)),
		MustDocument("$set", MustDocument("a", 2), "$inc", MustDocument("name", 1)),
		MustDocument("$set", MustDocument("a", 2, "name.x", 1)),
	}
	for _, spec := range tests {
		out, err := must(ParseUpdate(spec)).Apply(orig)
		isErr(t, err, ErrInvalidUpdateSpec)
		isnil(t, out)
	}
	docEqual(t, orig, MustDocument("_id", oid, "name", "mo", "a", 1))
}
