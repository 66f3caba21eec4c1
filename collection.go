package mongoplay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/btree"
)

// Collection is a named, ordered set of documents inside a Database.
//
// Documents are kept in insertion ("natural") order in a B-tree keyed by a
// per-collection sequence number. Every index, including the mandatory _id_
// index, is a B-tree of (key, sequence) pairs.
type Collection struct {
	db   *Database
	name string

	mu      sync.RWMutex
	dropped bool
	records *btree.BTreeG[*record]
	indexes []*index
	lastSeq uint64
}

type record struct {
	seq uint64
	doc *Document
}

func recordLess(a, b *record) bool {
	return a.seq < b.seq
}

func newCollection(db *Database, name string) *Collection {
	return &Collection{
		db:      db,
		name:    name,
		records: btree.NewG(btreeDegree, recordLess),
		indexes: []*index{newIDIndex()},
	}
}

// UpdateOptions control Collection.Update.
type UpdateOptions struct {
	// Multi updates every matching document instead of the first one.
	Multi bool
	// Upsert inserts a new document when nothing matches.
	Upsert bool
}

type UpdateResult struct {
	Matched    int
	Modified   int
	UpsertedID *Value
}

func (c *Collection) Name() string {
	return c.name
}

// FullName is "db.collection".
func (c *Collection) FullName() string {
	return c.db.name + "." + c.name
}

func (c *Collection) Database() *Database {
	return c.db
}

func (c *Collection) catalog() *Catalog {
	return c.db.catalog
}

func (c *Collection) errf(err error, format string, args ...any) error {
	return nsErrf(c.db.name, c.name, err, format, args...)
}

func (c *Collection) checkLocked() error {
	if c.dropped {
		return c.errf(ErrCollectionNotFound, "")
	}
	return nil
}

func (c *Collection) debug(msg string, attrs ...slog.Attr) {
	cat := c.catalog()
	if !cat.verbose {
		return
	}
	attrs = append(attrs, slog.String("ns", c.FullName()))
	cat.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

// Insert stores a copy of doc, assigning an ObjectID _id when doc has none,
// and returns the identity used.
func (c *Collection) Insert(doc *Document) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return Null, err
	}
	id, err := c.insertLocked(doc, true)
	if err != nil {
		return Null, err
	}
	c.debug("insert", slog.String("id", id.String()))
	return id, nil
}

// InsertMany inserts documents in order and stops at the first failure,
// returning the identities inserted so far.
func (c *Collection) InsertMany(docs ...*Document) ([]Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	ids := make([]Value, 0, len(docs))
	for _, doc := range docs {
		id, err := c.insertLocked(doc, true)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	c.debug("insert", slog.Int("n", len(ids)))
	return ids, nil
}

func (c *Collection) insertLocked(doc *Document, notify bool) (Value, error) {
	d := doc.Clone()
	if d == nil {
		d = &Document{}
	}
	if err := checkStorable(d); err != nil {
		return Null, c.errf(err, "insert")
	}
	id, ok := d.ID()
	if !ok {
		id = ObjectID(c.catalog().ids.next())
		d.fields = append([]Field{{IDField, id}}, d.fields...)
	} else if id.kind == KindArray {
		return Null, c.errf(fieldErrf(IDField, ErrInvalidDocumentType, "_id cannot be an array"), "insert")
	}

	seq := c.lastSeq + 1
	keys := make([][]Value, len(c.indexes))
	for i, idx := range c.indexes {
		keys[i] = idx.keyOf(d)
		if _, dup := idx.conflict(keys[i], seq); dup {
			return Null, c.errf(idx.dupKeyError(keys[i]), "insert")
		}
	}
	c.lastSeq = seq
	for i, idx := range c.indexes {
		idx.insert(keys[i], seq)
	}
	c.records.ReplaceOrInsert(&record{seq: seq, doc: d})

	if notify {
		c.catalog().emit(Change{Op: ChangeInsert, DB: c.db.name, Collection: c.name, ID: id, Doc: d.Clone()})
	}
	return id, nil
}

// Find returns a cursor over the documents matching query. Nothing is read
// until the cursor is consumed.
func (c *Collection) Find(query *Document) (*Cursor, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, c.errf(err, "find")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	return newCursor(c, q), nil
}

// FindOne returns the first matching document in natural order, or nil.
func (c *Collection) FindOne(query *Document) (*Document, error) {
	cur, err := c.Find(query)
	if err != nil {
		return nil, err
	}
	return cur.First()
}

// FindByID returns the document with the given identity, or nil.
func (c *Collection) FindByID(id any) (*Document, error) {
	v, err := ValueOf(id)
	if err != nil {
		return nil, err
	}
	return c.FindOne(&Document{fields: []Field{{IDField, v}}})
}

// Update applies update to the first document matching selector, or to all
// of them with Multi. Matching nothing is not an error.
func (c *Collection) Update(selector, update *Document, opts UpdateOptions) (UpdateResult, error) {
	var result UpdateResult
	q, err := ParseQuery(selector)
	if err != nil {
		return result, c.errf(err, "update")
	}
	u, err := ParseUpdate(update)
	if err != nil {
		return result, c.errf(err, "update")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return result, err
	}

	var matched []*record
	c.scanLocked(q, c.planLocked(q), func(rec *record) bool {
		matched = append(matched, rec)
		return opts.Multi
	})

	for _, rec := range matched {
		result.Matched++
		modified, err := c.updateLocked(rec, u)
		if err != nil {
			return result, err
		}
		if modified {
			result.Modified++
		}
	}

	if result.Matched == 0 && opts.Upsert {
		seed := q.equalities()
		doc, err := u.Apply(seed)
		if err != nil {
			return result, c.errf(err, "upsert")
		}
		if _, ok := doc.ID(); !ok {
			if id, ok := seed.ID(); ok {
				doc.fields = append([]Field{{IDField, id}}, doc.fields...)
			}
		}
		id, err := c.insertLocked(doc, true)
		if err != nil {
			return result, err
		}
		result.UpsertedID = &id
	}

	c.debug("update", slog.Int("matched", result.Matched), slog.Int("modified", result.Modified), slog.Bool("upserted", result.UpsertedID != nil))
	return result, nil
}

func (c *Collection) updateLocked(rec *record, u *Update) (bool, error) {
	doc, err := u.Apply(rec.doc)
	if err != nil {
		return false, c.errf(err, "update")
	}
	if doc.Equal(rec.doc) {
		return false, nil
	}
	if err := c.replaceLocked(rec, doc); err != nil {
		return false, err
	}
	id, _ := doc.ID()
	c.catalog().emit(Change{Op: ChangeUpdate, DB: c.db.name, Collection: c.name, ID: id, Doc: doc.Clone()})
	return true, nil
}

// replaceLocked swaps in a new version of a record, keeping every index
// consistent. The record is untouched when a unique index rejects it.
func (c *Collection) replaceLocked(rec *record, doc *Document) error {
	oldKeys := make([][]Value, len(c.indexes))
	newKeys := make([][]Value, len(c.indexes))
	for i, idx := range c.indexes {
		oldKeys[i] = idx.keyOf(rec.doc)
		newKeys[i] = idx.keyOf(doc)
		if _, dup := idx.conflict(newKeys[i], rec.seq); dup {
			return c.errf(idx.dupKeyError(newKeys[i]), "update")
		}
	}
	for i, idx := range c.indexes {
		idx.remove(oldKeys[i], rec.seq)
		idx.insert(newKeys[i], rec.seq)
	}
	// Readers only see records under c.mu, so swapping the pointer is
	// atomic with respect to them.
	c.records.ReplaceOrInsert(&record{seq: rec.seq, doc: doc})
	return nil
}

// Remove deletes every document matching selector and returns how many
// were removed. A nil or empty selector empties the collection.
func (c *Collection) Remove(selector *Document) (int, error) {
	q, err := ParseQuery(selector)
	if err != nil {
		return 0, c.errf(err, "remove")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return 0, err
	}

	var matched []*record
	c.scanLocked(q, c.planLocked(q), func(rec *record) bool {
		matched = append(matched, rec)
		return true
	})
	for _, rec := range matched {
		c.removeLocked(rec, true)
	}
	c.debug("remove", slog.Int("n", len(matched)))
	return len(matched), nil
}

func (c *Collection) removeLocked(rec *record, notify bool) {
	for _, idx := range c.indexes {
		idx.remove(idx.keyOf(rec.doc), rec.seq)
	}
	c.records.Delete(rec)
	if notify {
		id, _ := rec.doc.ID()
		c.catalog().emit(Change{Op: ChangeRemove, DB: c.db.name, Collection: c.name, ID: id})
	}
}

// Count returns the number of documents matching selector without copying
// them.
func (c *Collection) Count(selector *Document) (int, error) {
	q, err := ParseQuery(selector)
	if err != nil {
		return 0, c.errf(err, "count")
	}
	return c.countQuery(q)
}

func (c *Collection) countQuery(q *Query) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkLocked(); err != nil {
		return 0, err
	}
	if q.IsEmpty() {
		return c.records.Len(), nil
	}
	var n int
	c.scanLocked(q, c.planLocked(q), func(*record) bool {
		n++
		return true
	})
	return n, nil
}

// Drop removes the collection and its indexes from its database. Dropping
// an already dropped collection fails with ErrCollectionNotFound.
func (c *Collection) Drop() error {
	return c.db.dropCollection(c, true)
}

// markDropped releases the collection's contents. The caller holds the
// owning database's lock.
func (c *Collection) markDropped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return false
	}
	c.dropped = true
	c.records.Clear(false)
	c.indexes = nil
	return true
}

// Explain describes how query would be executed and runs it to report
// counts and timing.
func (c *Collection) Explain(query *Document) (*Explanation, error) {
	cur, err := c.Find(query)
	if err != nil {
		return nil, err
	}
	return cur.Explain()
}

// IndexInformation lists the collection's indexes, _id_ first.
func (c *Collection) IndexInformation() ([]IndexSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	specs := make([]IndexSpec, len(c.indexes))
	for i, idx := range c.indexes {
		specs[i] = idx.spec
		specs[i].Keys = append([]IndexKey(nil), idx.spec.Keys...)
	}
	return specs, nil
}

// CreateIndex builds an index over the existing documents and returns its
// name. Creating an index identical to an existing one is a no-op.
func (c *Collection) CreateIndex(keys *Document, opts IndexOptions) (string, error) {
	ks, err := ParseIndexKeys(keys)
	if err != nil {
		return "", c.errf(err, "create index")
	}
	spec := IndexSpec{Name: opts.Name, Keys: ks, Unique: opts.Unique}
	if spec.Name == "" {
		spec.Name = defaultIndexName(ks)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return "", err
	}
	if err := c.createIndexLocked(spec, true); err != nil {
		return "", err
	}
	return spec.Name, nil
}

func (c *Collection) createIndexLocked(spec IndexSpec, notify bool) error {
	for _, idx := range c.indexes {
		if idx.spec.Name == spec.Name {
			if idx.spec.sameKeys(spec) && idx.spec.Unique == spec.Unique {
				return nil
			}
			return c.errf(ErrIndexConflict, "index %s already exists with different keys", spec.Name)
		}
		if idx.spec.sameKeys(spec) {
			return c.errf(ErrIndexConflict, "index %s already covers these keys", idx.spec.Name)
		}
	}

	idx := newIndex(spec)
	var err error
	c.records.Ascend(func(rec *record) bool {
		key := idx.keyOf(rec.doc)
		if _, dup := idx.conflict(key, rec.seq); dup {
			err = c.errf(idx.dupKeyError(key), "create index")
			return false
		}
		idx.insert(key, rec.seq)
		return true
	})
	if err != nil {
		return err
	}
	c.indexes = append(c.indexes, idx)

	if notify {
		c.catalog().emit(Change{Op: ChangeCreateIndex, DB: c.db.name, Collection: c.name, Index: &spec})
	}
	c.debug("create index", slog.String("index", spec.Name), slog.Int("entries", idx.tree.Len()))
	return nil
}

// DropIndex removes a secondary index. The _id_ index cannot be dropped.
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	return c.dropIndexLocked(name, true)
}

func (c *Collection) dropIndexLocked(name string, notify bool) error {
	if name == idIndexName {
		return c.errf(ErrIndexConflict, "cannot drop the _id_ index")
	}
	for i, idx := range c.indexes {
		if idx.spec.Name == name {
			c.indexes = append(c.indexes[:i:i], c.indexes[i+1:]...)
			if notify {
				c.catalog().emit(Change{Op: ChangeDropIndex, DB: c.db.name, Collection: c.name, Index: &IndexSpec{Name: name}})
			}
			return nil
		}
	}
	return c.errf(ErrIndexNotFound, "%s", name)
}

// CollectionStats summarizes a collection.
type CollectionStats struct {
	Name       string
	Count      int
	Size       int
	AvgObjSize int
	Indexes    []string
}

// Stats reports document counts and sizes; sizes are those of the binary
// document encoding.
func (c *Collection) Stats() (CollectionStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkLocked(); err != nil {
		return CollectionStats{}, err
	}
	st := CollectionStats{Name: c.name, Count: c.records.Len()}
	c.records.Ascend(func(rec *record) bool {
		st.Size += encodedSize(rec.doc)
		return true
	})
	if st.Count > 0 {
		st.AvgObjSize = st.Size / st.Count
	}
	for _, idx := range c.indexes {
		st.Indexes = append(st.Indexes, idx.spec.Name)
	}
	return st, nil
}

// findByIDLocked locates a record through the _id_ index.
func (c *Collection) findByIDLocked(id Value) (*record, bool) {
	var seq uint64
	var found bool
	c.indexes[0].scan(valueRange{Lower: &id, Upper: &id, LowerInc: true, UpperInc: true}, func(s uint64) bool {
		seq, found = s, true
		return false
	})
	if !found {
		return nil, false
	}
	return c.records.Get(&record{seq: seq})
}

// Snapshot copies the documents in natural order along with the secondary
// index specs.
func (c *Collection) Snapshot() ([]*Document, []IndexSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkLocked(); err != nil {
		return nil, nil, err
	}
	docs := make([]*Document, 0, c.records.Len())
	c.records.Ascend(func(rec *record) bool {
		docs = append(docs, rec.doc.Clone())
		return true
	})
	var specs []IndexSpec
	for _, idx := range c.indexes[1:] {
		specs = append(specs, idx.spec)
	}
	return docs, specs, nil
}
