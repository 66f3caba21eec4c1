/*
Package mongoplay implements an embedded, in-memory document store with a
MongoDB-flavored API.

A Catalog holds Databases, a Database holds Collections, and a Collection
holds Documents. Namespaces are created on first reference:

	cat := mongoplay.New(mongoplay.Options{})
	people, _ := cat.Collection("app", "people")
	id, _ := people.Insert(mongoplay.MustDocument("name", "mo", "age", 30))
	doc, _ := people.FindByID(id)

# Documents

A Document is an ordered list of fields. Values are one of null, bool,
int64, float64, string, ObjectID, Document, Array, or (in queries only)
Regex. Ints and floats form a single numeric class, so 1 equals 1.0.
Every stored document has an _id; Insert assigns an increasing ObjectID when
the caller does not supply one.

Documents passed in and handed out are copies. Mutating a returned document
never affects the store.

# Queries

A query document maps field paths (dotted paths address nested documents)
to either a literal, which matches by structural equality, a regex, which
matches string fields by substring search, or an operator document using
$eq, $gt, $gte, $lt, $lte, $regex and $options. All clauses must hold.
Missing fields never match. Range operators only match values of the same
class, so {"age": {"$gt": 1}} never matches a string age.

# Updates

An update document without $-keys replaces the matched document, keeping
its _id. An update made only of $set, $unset and $inc applies those
operators. Mixing the two forms is ErrInvalidUpdateSpec.

# Indexes

Every collection has a unique _id_ index. CreateIndex adds ordered,
optionally unique indexes over one or more fields. Finds that pin or bound
the leading field of an index scan that index instead of the whole
collection; results still come back in insertion order unless sorted.

# Changes

Every committed mutation is reported as a Change to Options.OnChange and to
Subscribe handlers. Catalog.Apply replays changes, which is how package
persist restores a catalog from its journal.

# Concurrency

A Catalog is safe for concurrent use. Locks are taken in catalog, database,
collection order; each mutation is atomic per document.
*/
package mongoplay
