package mongoplay

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Database is a named set of collections, created on first reference.
type Database struct {
	catalog *Catalog
	name    string

	mu          sync.RWMutex
	dropped     bool
	collections map[string]*Collection
}

func newDatabase(cat *Catalog, name string) *Database {
	return &Database{
		catalog:     cat,
		name:        name,
		collections: make(map[string]*Collection),
	}
}

func (db *Database) Name() string {
	return db.name
}

func (db *Database) Catalog() *Catalog {
	return db.catalog
}

func (db *Database) errf(err error, format string, args ...any) error {
	return nsErrf(db.name, "", err, format, args...)
}

func (db *Database) checkLocked() error {
	if db.dropped {
		return db.errf(ErrDatabaseNotFound, "")
	}
	return nil
}

// CollectionNames lists the collections in lexicographic order.
func (db *Database) CollectionNames() ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkLocked(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Collection returns the named collection, creating it if needed.
func (db *Database) Collection(name string) (*Collection, error) {
	return db.collection(name, true)
}

func (db *Database) collection(name string, notify bool) (*Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, nsErrf(db.name, name, err, "")
	}

	db.mu.RLock()
	c := db.collections[name]
	dropped := db.dropped
	db.mu.RUnlock()
	if dropped {
		return nil, db.errf(ErrDatabaseNotFound, "")
	}
	if c != nil {
		return c, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkLocked(); err != nil {
		return nil, err
	}
	if c := db.collections[name]; c != nil {
		return c, nil
	}
	c = newCollection(db, name)
	db.collections[name] = c
	if notify {
		db.catalog.emit(Change{Op: ChangeCreateCollection, DB: db.name, Collection: name})
	}
	return c, nil
}

// DropCollection drops the named collection. Dropping a collection that does
// not exist fails with ErrCollectionNotFound.
func (db *Database) DropCollection(name string) error {
	return db.dropCollectionNamed(name, true)
}

func (db *Database) dropCollectionNamed(name string, notify bool) error {
	db.mu.RLock()
	c := db.collections[name]
	db.mu.RUnlock()
	if c == nil {
		return nsErrf(db.name, name, ErrCollectionNotFound, "")
	}
	return db.dropCollection(c, notify)
}

func (db *Database) dropCollection(c *Collection, notify bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.dropped || db.collections[c.name] != c || !c.markDropped() {
		return c.errf(ErrCollectionNotFound, "")
	}
	delete(db.collections, c.name)
	if notify {
		db.catalog.emit(Change{Op: ChangeDropCollection, DB: db.name, Collection: c.name})
	}
	db.catalog.logger.LogAttrs(context.Background(), slog.LevelInfo, "dropped collection", slog.String("ns", c.FullName()))
	return nil
}

// Drop drops the database and all of its collections.
func (db *Database) Drop() error {
	return db.catalog.dropDatabaseHandle(db, true)
}

// markDropped drops every collection. The caller holds the catalog lock.
func (db *Database) markDropped() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.dropped {
		return false
	}
	db.dropped = true
	for _, c := range db.collections {
		c.markDropped()
	}
	db.collections = nil
	return true
}

// DatabaseStats summarizes a database.
type DatabaseStats struct {
	Name        string
	Collections int
	Objects     int
	DataSize    int
	Indexes     int
	Empty       bool
}

func (db *Database) Stats() (DatabaseStats, error) {
	colls, err := db.Collections()
	if err != nil {
		return DatabaseStats{}, err
	}
	st := DatabaseStats{Name: db.name, Collections: len(colls)}
	for _, c := range colls {
		cs, err := c.Stats()
		if err != nil {
			// dropped concurrently
			continue
		}
		st.Objects += cs.Count
		st.DataSize += cs.Size
		st.Indexes += len(cs.Indexes)
	}
	st.Empty = st.Objects == 0
	return st, nil
}

// Collections returns the current collections sorted by name.
func (db *Database) Collections() ([]*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkLocked(); err != nil {
		return nil, err
	}
	colls := make([]*Collection, 0, len(db.collections))
	for _, c := range db.collections {
		colls = append(colls, c)
	}
	sort.Slice(colls, func(i, j int) bool { return colls[i].name < colls[j].name })
	return colls, nil
}

func validateDatabaseName(name string) error {
	if name == "" {
		return fieldErrf("", ErrInvalidNamespace, "database name cannot be empty")
	}
	if i := strings.IndexAny(name, "/\\. \"$\x00"); i >= 0 {
		return fieldErrf("", ErrInvalidNamespace, "database name %q contains %q", name, name[i])
	}
	return nil
}

func validateCollectionName(name string) error {
	switch {
	case name == "":
		return fieldErrf("", ErrInvalidNamespace, "collection name cannot be empty")
	case strings.ContainsAny(name, "$\x00"):
		return fieldErrf("", ErrInvalidNamespace, "collection name %q contains an invalid character", name)
	case strings.HasPrefix(name, "system."):
		return fieldErrf("", ErrInvalidNamespace, "collection name %q is reserved", name)
	}
	return nil
}
