package mongoplay

import (
	"testing"
)

func people(t testing.TB) *Collection {
	t.Helper()
	return setupColl(t,
		MustDocument("name", "carol", "age", 30, "city", "Oslo"),
		MustDocument("name", "alice", "age", 25),
		MustDocument("name", "bob", "age", 30, "city", "Bergen"),
		MustDocument("name", "dave", "age", "unknown"),
		MustDocument("name", "erin"),
	)
}

func TestCursor_naturalOrder(t *testing.T) {
	c := people(t)
	deepEqual(t, names(must(must(c.Find(nil)).All())), []string{"carol", "alice", "bob", "dave", "erin"})
}

func TestCursor_sort(t *testing.T) {
	c := people(t)

	// missing sorts as null, numbers before strings, ties in natural order
	deepEqual(t, names(must(must(c.Find(nil)).Sort("age").All())), []string{"erin", "alice", "carol", "bob", "dave"})
	deepEqual(t, names(must(must(c.Find(nil)).Sort("-age").All())), []string{"dave", "carol", "bob", "alice", "erin"})
	deepEqual(t, names(must(must(c.Find(nil)).Sort("-age", "name").All())), []string{"dave", "bob", "carol", "alice", "erin"})
	deepEqual(t, names(must(must(c.Find(nil)).SortBy(MustDocument("city", 1, "name", -1)).All())), []string{"erin", "dave", "alice", "bob", "carol"})

	_, err := must(c.Find(nil)).SortBy(MustDocument("age", 2)).All()
	isErr(t, err, ErrInvalidSort)
	_, err = must(c.Find(nil)).Sort("-").All()
	isErr(t, err, ErrInvalidSort)
}

func TestCursor_skipLimit(t *testing.T) {
	c := people(t)
	deepEqual(t, names(must(must(c.Find(nil)).Skip(1).Limit(2).All())), []string{"alice", "bob"})
	deepEqual(t, names(must(must(c.Find(nil)).Sort("name").Skip(3).All())), []string{"dave", "erin"})
	deepEqual(t, names(must(must(c.Find(nil)).Limit(-2).All())), []string{"carol", "alice"})
	isempty(t, must(must(c.Find(nil)).Skip(10).All()))

	cur := must(c.Find(MustDocument("age", 30))).Skip(1).Limit(1)
	deepEqual(t, must(cur.Count()), 2)
	deepEqual(t, names(must(cur.All())), []string{"bob"})
}

func TestCursor_first(t *testing.T) {
	c := people(t)
	cur := must(c.Find(MustDocument("age", 30))).Sort("name")
	deepEqual(t, names([]*Document{must(cur.First())}), []string{"bob"})
	// First does not disturb the configured limit
	deepEqual(t, len(must(cur.All())), 2)
	isnil(t, must(must(c.Find(MustDocument("age", 99))).First()))
}

func TestCursor_projection(t *testing.T) {
	c := people(t)
	docs := must(must(c.Find(MustDocument("name", "carol"))).Project(MustDocument("name", 1, "_id", 0)).All())
	docsEqual(t, docs, MustDocument("name", "carol"))

	docs = must(must(c.Find(MustDocument("name", "carol"))).Project(MustDocument("_id", 0, "age", 0)).All())
	docsEqual(t, docs, MustDocument("name", "carol", "city", "Oslo"))

	docs = must(must(c.Find(MustDocument("name", "erin"))).Project(MustDocument("name", true, "city", true, "_id", false)).All())
	docsEqual(t, docs, MustDocument("name", "erin"))

	_, err := must(c.Find(nil)).Project(MustDocument("name", 1, "age", 0)).All()
	isErr(t, err, ErrInvalidProjection)
	_, err = must(c.Find(nil)).Project(MustDocument("name", "yes")).All()
	isErr(t, err, ErrInvalidProjection)
}

func TestCursor_nestedProjection(t *testing.T) {
	c := setupColl(t, MustDocument("_id", 1, "a", MustDocument("x", 1, "y", 2), "b", 3))
	docs := must(must(c.Find(nil)).Project(MustDocument("a.y", 1)).All())
	docsEqual(t, docs, MustDocument("_id", 1, "a", MustDocument("y", 2)))

	docs = must(must(c.Find(nil)).Project(MustDocument("a.y", 0, "b", 0)).All())
	docsEqual(t, docs, MustDocument("_id", 1, "a", MustDocument("x", 1)))
}

func TestCursor_identityOnlyProjection(t *testing.T) {
	c := setupColl(t, MustDocument("_id", 1, "name", "x", "type", "y"))
	docs := must(must(c.Find(nil)).Project(MustDocument("_id", 1)).All())
	docsEqual(t, docs, MustDocument("_id", 1))

	docs = must(must(c.Find(nil)).Project(MustDocument("_id", 1, "type", 0)).All())
	docsEqual(t, docs, MustDocument("_id", 1, "name", "x"))
}

func TestCursor_nextIsLiveUntilStarted(t *testing.T) {
	c := people(t)
	cur := must(c.Find(MustDocument("age", 30)))

	must(c.Insert(MustDocument("name", "frank", "age", 30)))

	var got []*Document
	for cur.Next() {
		got = append(got, cur.Doc())
		if len(got) == 1 {
			must(c.Insert(MustDocument("name", "gina", "age", 30)))
		}
	}
	ok(t, cur.Err())
	deepEqual(t, names(got), []string{"carol", "bob", "frank"})
	deepEqual(t, cur.Next(), false)
	isnil(t, cur.Doc())

	// terminal calls evaluate afresh
	deepEqual(t, names(must(cur.All())), []string{"carol", "bob", "frank", "gina"})
	deepEqual(t, must(cur.Count()), 4)
}

func TestCursor_Seq(t *testing.T) {
	c := people(t)
	var got []string
	for d, err := range must(c.Find(MustDocument("age", MustDocument("$gte", 26)))).Sort("name").Seq() {
		ok(t, err)
		got = append(got, names([]*Document{d})...)
	}
	deepEqual(t, got, []string{"bob", "carol"})

	cur := must(c.Find(nil))
	for range cur.Seq() {
		break
	}
	ok(t, c.Drop())
	for d, err := range cur.Seq() {
		isnil(t, d)
		isErr(t, err, ErrCollectionNotFound)
	}
}

func TestCursor_explainHonorsLimit(t *testing.T) {
	c := people(t)
	ex := must(must(c.Find(nil)).Limit(2).Explain())
	deepEqual(t, ex.Plan, "COLLSCAN")
	deepEqual(t, ex.NReturned, 2)
	deepEqual(t, ex.DocsExamined, 2)
	deepEqual(t, ex.Namespace, "test.things")

	d := ex.Document()
	v, found := d.Lookup("executionStats.nReturned")
	deepEqual(t, found, true)
	deepEqual(t, v.String(), "2")
	v, _ = d.Lookup("queryPlanner.winningPlan.stage")
	deepEqual(t, v.String(), `"COLLSCAN"`)
}
