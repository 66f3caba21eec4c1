package mongoplay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Catalog is the registry of databases. Databases and collections are
// created on first reference. A Catalog is safe for concurrent use.
type Catalog struct {
	logger   *slog.Logger
	verbose  bool
	onChange func(Change)
	ids      *idGenerator

	mu        sync.RWMutex
	databases map[string]*Database

	subMu     sync.RWMutex
	subs      []subscriber
	lastSubID uint64
}

func New(opts Options) *Catalog {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ids := defaultIDs
	if opts.Now != nil {
		ids = newIDGenerator(opts.Now)
	}
	return &Catalog{
		logger:    opts.Logger,
		verbose:   opts.Verbose,
		onChange:  opts.OnChange,
		ids:       ids,
		databases: make(map[string]*Database),
	}
}

func (cat *Catalog) Logger() *slog.Logger {
	return cat.logger
}

// DatabaseNames lists the databases in lexicographic order.
func (cat *Catalog) DatabaseNames() []string {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	names := make([]string, 0, len(cat.databases))
	for name := range cat.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Database returns the named database, creating it if needed.
func (cat *Catalog) Database(name string) (*Database, error) {
	return cat.database(name, true)
}

func (cat *Catalog) database(name string, notify bool) (*Database, error) {
	if err := validateDatabaseName(name); err != nil {
		return nil, nsErrf(name, "", err, "")
	}

	cat.mu.RLock()
	db := cat.databases[name]
	cat.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	cat.mu.Lock()
	defer cat.mu.Unlock()
	if db := cat.databases[name]; db != nil {
		return db, nil
	}
	db = newDatabase(cat, name)
	cat.databases[name] = db
	if notify {
		cat.emit(Change{Op: ChangeCreateDatabase, DB: name})
	}
	return db, nil
}

// Collection is a shortcut for Database(db) followed by Collection(coll).
func (cat *Catalog) Collection(db, coll string) (*Collection, error) {
	d, err := cat.Database(db)
	if err != nil {
		return nil, err
	}
	return d.Collection(coll)
}

// DropDatabase drops the named database and all of its collections.
// Dropping a database that does not exist fails with ErrDatabaseNotFound.
func (cat *Catalog) DropDatabase(name string) error {
	return cat.dropDatabase(name, true)
}

func (cat *Catalog) dropDatabase(name string, notify bool) error {
	cat.mu.RLock()
	db := cat.databases[name]
	cat.mu.RUnlock()
	if db == nil {
		return nsErrf(name, "", ErrDatabaseNotFound, "")
	}
	return cat.dropDatabaseHandle(db, notify)
}

func (cat *Catalog) dropDatabaseHandle(db *Database, notify bool) error {
	start := time.Now()
	cat.mu.Lock()
	defer cat.mu.Unlock()
	if cat.databases[db.name] != db || !db.markDropped() {
		return db.errf(ErrDatabaseNotFound, "")
	}
	delete(cat.databases, db.name)
	if notify {
		cat.emit(Change{Op: ChangeDropDatabase, DB: db.name})
	}
	cat.logger.LogAttrs(context.Background(), slog.LevelInfo, "dropped database", slog.String("db", db.name), slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Databases returns the current databases sorted by name.
func (cat *Catalog) Databases() []*Database {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	dbs := make([]*Database, 0, len(cat.databases))
	for _, db := range cat.databases {
		dbs = append(dbs, db)
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].name < dbs[j].name })
	return dbs
}

// DatabaseInfo reports stats for every database, sorted by name.
func (cat *Catalog) DatabaseInfo() []DatabaseStats {
	dbs := cat.Databases()
	result := make([]DatabaseStats, 0, len(dbs))
	for _, db := range dbs {
		st, err := db.Stats()
		if err != nil {
			// dropped concurrently
			continue
		}
		result = append(result, st)
	}
	return result
}
