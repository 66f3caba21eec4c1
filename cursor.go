package mongoplay

import (
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Cursor is a lazy result set of a Find. Configure it with Sort, Fields,
// Project, Skip and Limit, then consume it either once through Next, Doc and
// Err, or any number of times through the terminal calls All, First, Count,
// Explain and Seq, each of which evaluates the query afresh.
//
// Configuration errors are reported by the first consuming call.
type Cursor struct {
	coll  *Collection
	query *Query

	sortKeys []IndexKey
	proj     *projection
	skip     int
	limit    int
	err      error

	started bool
	docs    []*Document
	pos     int
	cur     *Document
}

func newCursor(c *Collection, q *Query) *Cursor {
	return &Cursor{coll: c, query: q}
}

// Sort orders results by the named fields, ascending unless the name is
// prefixed with "-". Ties keep natural order.
func (cur *Cursor) Sort(keys ...string) *Cursor {
	cur.sortKeys = cur.sortKeys[:0]
	for _, k := range keys {
		key := IndexKey{Field: k}
		if rest, ok := strings.CutPrefix(k, "-"); ok {
			key = IndexKey{Field: rest, Desc: true}
		}
		if key.Field == "" {
			cur.setErr(fieldErrf(k, ErrInvalidSort, "empty sort field"))
			continue
		}
		cur.sortKeys = append(cur.sortKeys, key)
	}
	return cur
}

// SortBy orders results by a sort document: {"name": 1, "age": -1}.
func (cur *Cursor) SortBy(spec *Document) *Cursor {
	cur.sortKeys = cur.sortKeys[:0]
	for _, f := range spec.Fields() {
		dir, ok := f.Value.FloatValue()
		if !ok || (dir != 1 && dir != -1) {
			cur.setErr(fieldErrf(f.Key, ErrInvalidSort, "sort direction must be 1 or -1, got %v", f.Value))
			continue
		}
		cur.sortKeys = append(cur.sortKeys, IndexKey{Field: f.Key, Desc: dir < 0})
	}
	return cur
}

// Fields restricts results to the named fields plus _id.
func (cur *Cursor) Fields(names ...string) *Cursor {
	if len(names) == 0 {
		cur.proj = nil
	} else {
		cur.proj = fieldsProjection(names)
	}
	return cur
}

// Project applies a projection document such as {"name": 1, "_id": 0}.
func (cur *Cursor) Project(spec *Document) *Cursor {
	p, err := parseProjection(spec)
	if err != nil {
		cur.setErr(err)
		return cur
	}
	cur.proj = p
	return cur
}

// Skip drops the first n results. Negative values are treated as zero.
func (cur *Cursor) Skip(n int) *Cursor {
	cur.skip = max(n, 0)
	return cur
}

// Limit caps the number of results; zero means no limit. A negative limit
// is taken as its absolute value.
func (cur *Cursor) Limit(n int) *Cursor {
	if n < 0 {
		n = -n
	}
	cur.limit = n
	return cur
}

func (cur *Cursor) setErr(err error) {
	if cur.err == nil {
		cur.err = cur.coll.errf(err, "cursor")
	}
}

// Next advances to the next result. The query is evaluated on the first
// call; later changes to the collection are not observed.
func (cur *Cursor) Next() bool {
	if !cur.started {
		cur.started = true
		if cur.err == nil {
			cur.docs, _, cur.err = cur.evaluate(false)
		}
	}
	if cur.err != nil || cur.pos >= len(cur.docs) {
		cur.cur = nil
		return false
	}
	cur.cur = cur.docs[cur.pos]
	cur.docs[cur.pos] = nil
	cur.pos++
	return true
}

// Doc returns the document Next advanced to.
func (cur *Cursor) Doc() *Document {
	return cur.cur
}

func (cur *Cursor) Err() error {
	return cur.err
}

// All returns every result.
func (cur *Cursor) All() ([]*Document, error) {
	if cur.err != nil {
		return nil, cur.err
	}
	docs, _, err := cur.evaluate(false)
	return docs, err
}

// First returns the first result, or nil if there is none.
func (cur *Cursor) First() (*Document, error) {
	if cur.err != nil {
		return nil, cur.err
	}
	saved := cur.limit
	if cur.limit == 0 || cur.limit > 1 {
		cur.limit = 1
	}
	docs, _, err := cur.evaluate(false)
	cur.limit = saved
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Count returns the number of matching documents, ignoring Skip and Limit.
func (cur *Cursor) Count() (int, error) {
	if cur.err != nil {
		return 0, cur.err
	}
	return cur.coll.countQuery(cur.query)
}

// Seq iterates over the results for use with range.
func (cur *Cursor) Seq() iter.Seq2[*Document, error] {
	return func(yield func(*Document, error) bool) {
		docs, err := cur.All()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}

type execution struct {
	plan     plan
	stats    scanStats
	returned int
	elapsed  time.Duration
}

// evaluate runs the query and returns copies of the resulting documents.
func (cur *Cursor) evaluate(explain bool) ([]*Document, *execution, error) {
	c := cur.coll
	start := time.Now()
	var recs []*record
	var ex execution

	c.mu.RLock()
	if err := c.checkLocked(); err != nil {
		c.mu.RUnlock()
		return nil, nil, err
	}
	ex.plan = c.planLocked(cur.query)
	stop := -1
	if cur.limit > 0 && len(cur.sortKeys) == 0 {
		stop = cur.skip + cur.limit
	}
	ex.stats = c.scanLocked(cur.query, ex.plan, func(rec *record) bool {
		recs = append(recs, rec)
		return stop < 0 || len(recs) < stop
	})
	c.mu.RUnlock()

	if len(cur.sortKeys) > 0 {
		slices.SortStableFunc(recs, func(a, b *record) int {
			return compareByKeys(a.doc, b.doc, cur.sortKeys)
		})
	}
	recs = recs[min(cur.skip, len(recs)):]
	if cur.limit > 0 && len(recs) > cur.limit {
		recs = recs[:cur.limit]
	}

	docs := make([]*Document, len(recs))
	for i, rec := range recs {
		docs[i] = cur.proj.apply(rec.doc)
	}
	ex.returned = len(docs)
	ex.elapsed = time.Since(start)

	c.debug("find", slog.String("query", cur.query.String()), slog.String("plan", ex.plan.name()), slog.Int("examined", ex.stats.docsExamined), slog.Int("returned", ex.returned))
	if !explain {
		return docs, nil, nil
	}
	return docs, &ex, nil
}

// compareByKeys orders documents by sort keys. Missing fields sort as null.
func compareByKeys(a, b *Document, keys []IndexKey) int {
	for _, k := range keys {
		av, _ := a.Lookup(k.Field)
		bv, _ := b.Lookup(k.Field)
		c := Compare(av, bv)
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
