package mongoplay

import (
	"regexp"
	"testing"
)

func TestQuery_Matches(t *testing.T) {
	oid := NewObjectID()
	doc := MustDocument(
		"_id", oid,
		"name", "blah",
		"age", 30,
		"score", 2.5,
		"nothing", nil,
		"active", true,
		"info", MustDocument("x", 203, "y", "z"),
		"tags", []string{"a", "b"},
	)
	tests := []struct {
		query *Document
		match bool
	}{
		{nil, true},
		{MustDocument(), true},
		{MustDocument("name", "blah"), true},
		{MustDocument("name", "blah2"), false},
		{MustDocument("_id", oid), true},
		{MustDocument("age", 30.0), true},
		{MustDocument("age", "30"), false},
		{MustDocument("missing", nil), false},
		{MustDocument("nothing", nil), true},
		{MustDocument("info.x", 203), true},
		{MustDocument("info.y", "q"), false},
		{MustDocument("info", MustDocument("x", 203, "y", "z")), true},
		{MustDocument("info", MustDocument("y", "z", "x", 203)), false},
		{MustDocument("tags", []string{"a", "b"}), true},
		{MustDocument("tags", "a"), false},
		{MustDocument("name", regexp.MustCompile("b")), true},
		{MustDocument("name", regexp.MustCompile("^l")), false},
		{MustDocument("age", regexp.MustCompile("3")), false},
		{MustDocument("name", MustDocument("$regex", "AH", "$options", "i")), true},
		{MustDocument("name", MustDocument("$regex", "AH")), false},
		{MustDocument("age", MustDocument("$gt", 29)), true},
		{MustDocument("age", MustDocument("$gt", 30)), false},
		{MustDocument("age", MustDocument("$gte", 30, "$lt", 31)), true},
		{MustDocument("age", MustDocument("$gte", 30, "$lt", 30)), false},
		{MustDocument("age", MustDocument("$lte", 29.9)), false},
		{MustDocument("age", MustDocument("$gt", "1")), false},
		{MustDocument("name", MustDocument("$gte", "a", "$lt", "c")), true},
		{MustDocument("score", MustDocument("$eq", 2.5)), true},
		{MustDocument("missing", MustDocument("$lt", 100)), false},
		{MustDocument("active", MustDocument("$gt", false)), true},
		{MustDocument("nothing", MustDocument("$lte", nil)), true},
		{MustDocument("name", "blah", "age", 31), false},
		{MustDocument("name", "blah", "info.x", MustDocument("$gte", 200)), true},
		{MustDocument("info.x", MustDocument("$gt", 100, "$lt", 150)), false},
	}
	for _, tt := range tests {
		q, err := ParseQuery(tt.query)
		if err != nil {
			t.Errorf("ParseQuery(%v) failed: %v", tt.query, err)
			continue
		}
		if a := q.Matches(doc); a != tt.match {
			t.Errorf("%v matches = %v, wanted %v", q, a, tt.match)
		}
	}
}

func TestParseQuery_errors(t *testing.T) {
	for _, spec := range []*Document{
		MustDocument("$or", []any{}),
		MustDocument("age", MustDocument("$ne", 1)),
		MustDocument("age", MustDocument("$in", []int{1})),
		MustDocument("age", MustDocument("$gt", 1, "x", 2)),
		MustDocument("name", MustDocument("$options", "i")),
		MustDocument("name", MustDocument("$regex", 12)),
		MustDocument("name", MustDocument("$gt", regexp.MustCompile("a"))),
	} {
		_, err := ParseQuery(spec)
		isErr(t, err, ErrUnsupportedQueryOperator)
	}
}

func TestQuery_String(t *testing.T) {
	q := MustQuery("name", "mo", "age", MustDocument("$gt", 1), "x", regexp.MustCompile("^a"))
	deepEqual(t, q.String(), `name == "mo" && age $gt 1 && x =~ /^a/`)
	deepEqual(t, MustQuery().String(), "<all>")
}

func TestQuery_equalities(t *testing.T) {
	q := MustQuery("name", "mo", "info.x", 1, "age", MustDocument("$gt", 1), "n", MustDocument("$eq", 2))
	deepEqual(t, q.equalities().String(), `{"name": "mo", "info": {"x": 1}, "n": 2}`)
}

func TestQuery_rangeFor(t *testing.T) {
	q := MustQuery("age", MustDocument("$gt", 1, "$lte", 5), "name", "mo")
	r, eq, found := q.rangeFor("age")
	deepEqual(t, found, true)
	deepEqual(t, eq, false)
	deepEqual(t, r.String(), "(1, 5]")

	r, eq, found = q.rangeFor("name")
	deepEqual(t, found && eq && r.isPoint(), true)

	_, _, found = q.rangeFor("other")
	deepEqual(t, found, false)
}
