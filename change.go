package mongoplay

import (
	"fmt"
)

// ChangeOp identifies the kind of a Change.
type ChangeOp uint8

const (
	ChangeNone ChangeOp = iota
	ChangeCreateDatabase
	ChangeCreateCollection
	ChangeInsert
	ChangeUpdate
	ChangeRemove
	ChangeCreateIndex
	ChangeDropIndex
	ChangeDropCollection
	ChangeDropDatabase
)

var changeOpNames = [...]string{
	ChangeNone:             "none",
	ChangeCreateDatabase:   "create_database",
	ChangeCreateCollection: "create_collection",
	ChangeInsert:           "insert",
	ChangeUpdate:           "update",
	ChangeRemove:           "remove",
	ChangeCreateIndex:      "create_index",
	ChangeDropIndex:        "drop_index",
	ChangeDropCollection:   "drop_collection",
	ChangeDropDatabase:     "drop_database",
}

func (op ChangeOp) String() string {
	if int(op) < len(changeOpNames) {
		return changeOpNames[op]
	}
	return fmt.Sprintf("ChangeOp(%d)", uint8(op))
}

// Change describes one committed mutation of a Catalog. Insert and Update
// carry the full new document; Remove carries only the identity.
//
// Changes are delivered synchronously, in commit order, while the affected
// namespace is locked. Handlers must not call back into the Catalog.
type Change struct {
	Op         ChangeOp   `msgpack:"op"`
	DB         string     `msgpack:"db"`
	Collection string     `msgpack:"c,omitempty"`
	ID         Value      `msgpack:"id"`
	Doc        *Document  `msgpack:"doc,omitempty"`
	Index      *IndexSpec `msgpack:"idx,omitempty"`
}

func (chg Change) String() string {
	ns := chg.DB
	if chg.Collection != "" {
		ns += "." + chg.Collection
	}
	switch chg.Op {
	case ChangeInsert, ChangeUpdate, ChangeRemove:
		return fmt.Sprintf("%s %s %v", chg.Op, ns, chg.ID)
	case ChangeCreateIndex, ChangeDropIndex:
		return fmt.Sprintf("%s %s %s", chg.Op, ns, chg.Index.Name)
	default:
		return fmt.Sprintf("%s %s", chg.Op, ns)
	}
}

// Subscribe registers fn to receive every subsequent Change. The returned
// function unsubscribes.
func (cat *Catalog) Subscribe(fn func(Change)) (unsubscribe func()) {
	cat.subMu.Lock()
	defer cat.subMu.Unlock()
	cat.lastSubID++
	id := cat.lastSubID
	cat.subs = append(cat.subs, subscriber{id, fn})
	return func() {
		cat.subMu.Lock()
		defer cat.subMu.Unlock()
		for i, s := range cat.subs {
			if s.id == id {
				cat.subs = append(cat.subs[:i:i], cat.subs[i+1:]...)
				return
			}
		}
	}
}

type subscriber struct {
	id uint64
	fn func(Change)
}

func (cat *Catalog) emit(chg Change) {
	if cat.onChange != nil {
		cat.onChange(chg)
	}
	cat.subMu.RLock()
	defer cat.subMu.RUnlock()
	for _, s := range cat.subs {
		s.fn(chg)
	}
}

// Apply replays a Change produced by this or another Catalog. Replayed
// changes are not emitted again. Replaying an Insert of an existing identity
// overwrites it, and replaying a Remove or Update of an unknown identity is
// a no-op, so a journal may overlap a snapshot.
func (cat *Catalog) Apply(chg Change) error {
	switch chg.Op {
	case ChangeCreateDatabase:
		_, err := cat.database(chg.DB, false)
		return err
	case ChangeDropDatabase:
		err := cat.dropDatabase(chg.DB, false)
		if isNotFound(err) {
			return nil
		}
		return err
	}

	db, err := cat.database(chg.DB, false)
	if err != nil {
		return err
	}
	if chg.Op == ChangeDropCollection {
		err := db.dropCollectionNamed(chg.Collection, false)
		if isNotFound(err) {
			return nil
		}
		return err
	}
	c, err := db.collection(chg.Collection, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	switch chg.Op {
	case ChangeCreateCollection:
		return nil
	case ChangeInsert, ChangeUpdate:
		if chg.Doc == nil {
			return c.errf(ErrInvalidDocumentType, "%s without a document", chg.Op)
		}
		if rec, ok := c.findByIDLocked(chg.ID); ok {
			return c.replaceLocked(rec, chg.Doc.Clone())
		}
		if chg.Op == ChangeUpdate {
			return nil
		}
		_, err := c.insertLocked(chg.Doc, false)
		return err
	case ChangeRemove:
		if rec, ok := c.findByIDLocked(chg.ID); ok {
			c.removeLocked(rec, false)
		}
		return nil
	case ChangeCreateIndex:
		if chg.Index == nil {
			return c.errf(ErrIndexConflict, "%s without an index", chg.Op)
		}
		return c.createIndexLocked(*chg.Index, false)
	case ChangeDropIndex:
		if chg.Index == nil {
			return c.errf(ErrIndexConflict, "%s without an index", chg.Op)
		}
		err := c.dropIndexLocked(chg.Index.Name, false)
		if isNotFound(err) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("cannot apply change %v", chg.Op)
	}
}
