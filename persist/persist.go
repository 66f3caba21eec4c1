// Package persist makes a mongoplay.Catalog durable: a bbolt snapshot holds
// the state as of the last checkpoint, and a journal holds every change made
// since.
//
// Snapshot layout (snapshot.db):
//
//   - one root bucket per database, holding one nested bucket per collection;
//   - a collection bucket holds a "docs" bucket (big-endian sequence number
//     to msgpack document) and an "indexes" bucket (index name to msgpack
//     IndexSpec);
//   - the "$meta" root bucket records the last journal segment the snapshot
//     covers.
//
// The journal (oplog/) stores msgpack-encoded mongoplay.Change records.
package persist

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	mongoplay "github.com/xlgmokha/mongo-play"
	"github.com/xlgmokha/mongo-play/journal"
)

const (
	SnapshotFileName = "snapshot.db"
	JournalDirName   = "oplog"
)

var (
	metaBucket    = []byte("$meta")
	docsBucket    = []byte("docs")
	indexesBucket = []byte("indexes")
	sealedKey     = []byte("sealed")
)

var ErrReadOnly = errors.New("store is read-only")

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// ReadOnly loads the data without subscribing to changes. The snapshot
	// is opened read-only and may be absent.
	ReadOnly bool

	// SyncEveryChange makes every journaled change durable before the
	// mutation returns.
	SyncEveryChange bool

	MaxJournalFileSize int64
	OpenTimeout        time.Duration
}

// Store keeps a Catalog's snapshot and journal in a directory.
type Store struct {
	dir      string
	cat      *mongoplay.Catalog
	logger   *slog.Logger
	verbose  bool
	readOnly bool
	sync     bool

	bdb         *bbolt.DB
	jrnl        *journal.Journal
	unsubscribe func()

	mu     sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error
}

// Open loads dir into cat, which should be empty, and starts journaling
// cat's changes.
func Open(dir string, cat *mongoplay.Catalog, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = cat.Logger()
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 5 * time.Second
	}
	s := &Store{
		dir:      dir,
		cat:      cat,
		logger:   opts.Logger,
		verbose:  opts.Verbose,
		readOnly: opts.ReadOnly,
		sync:     opts.SyncEveryChange,
	}

	start := time.Now()
	if opts.ReadOnly {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("persist: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapshotFile := filepath.Join(dir, SnapshotFileName)
	if _, err := os.Stat(snapshotFile); err == nil || !opts.ReadOnly {
		bdb, err := bbolt.Open(snapshotFile, 0o644, &bbolt.Options{
			Timeout:  opts.OpenTimeout,
			ReadOnly: opts.ReadOnly,
		})
		if err != nil {
			return nil, fmt.Errorf("persist: opening %s: %w", snapshotFile, err)
		}
		s.bdb = bdb
	}

	var ok bool
	defer func() {
		if !ok {
			s.closeFiles()
		}
	}()

	sealed, docs, err := s.loadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("persist: loading snapshot: %w", err)
	}

	jrnl, err := journal.Open(filepath.Join(dir, JournalDirName), journal.Options{
		FileName:    "oplog-*.wal",
		MaxFileSize: opts.MaxJournalFileSize,
		DebugName:   "oplog",
		After:       sealed,
		Logger:      s.logger,
		Verbose:     opts.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("persist: opening journal: %w", err)
	}
	s.jrnl = jrnl

	changes, skipped, err := s.replay(sealed)
	if err != nil {
		return nil, fmt.Errorf("persist: replaying journal: %w", err)
	}

	if !opts.ReadOnly {
		s.unsubscribe = cat.Subscribe(s.record)
	}
	ok = true
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "persist: opened",
		slog.String("dir", dir),
		slog.Int("docs", docs),
		slog.Int("changes", changes),
		slog.Int("skipped", skipped),
		slog.Duration("elapsed", time.Since(start)))
	return s, nil
}

func (s *Store) loadSnapshot() (uint32, int, error) {
	if s.bdb == nil {
		return 0, 0, nil
	}
	var sealed uint32
	var docs int
	err := s.bdb.View(func(tx *bbolt.Tx) error {
		if meta := tx.Bucket(metaBucket); meta != nil {
			if v := meta.Get(sealedKey); len(v) == 4 {
				sealed = binary.BigEndian.Uint32(v)
			}
		}
		return tx.ForEach(func(dbName []byte, dbb *bbolt.Bucket) error {
			if string(dbName) == string(metaBucket) {
				return nil
			}
			if err := s.cat.Apply(mongoplay.Change{Op: mongoplay.ChangeCreateDatabase, DB: string(dbName)}); err != nil {
				return err
			}
			return dbb.ForEach(func(collName, v []byte) error {
				if v != nil {
					return nil
				}
				n, err := s.loadCollection(string(dbName), string(collName), dbb.Bucket(collName))
				docs += n
				return err
			})
		})
	})
	return sealed, docs, err
}

func (s *Store) loadCollection(dbName, collName string, cb *bbolt.Bucket) (int, error) {
	if err := s.cat.Apply(mongoplay.Change{Op: mongoplay.ChangeCreateCollection, DB: dbName, Collection: collName}); err != nil {
		return 0, err
	}
	var n int
	if b := cb.Bucket(docsBucket); b != nil {
		err := b.ForEach(func(k, v []byte) error {
			doc, err := mongoplay.UnmarshalDocument(v)
			if err != nil {
				return fmt.Errorf("%s.%s doc %x: %w", dbName, collName, k, err)
			}
			id, _ := doc.ID()
			n++
			return s.cat.Apply(mongoplay.Change{Op: mongoplay.ChangeInsert, DB: dbName, Collection: collName, ID: id, Doc: doc})
		})
		if err != nil {
			return n, err
		}
	}
	if b := cb.Bucket(indexesBucket); b != nil {
		err := b.ForEach(func(k, v []byte) error {
			var spec mongoplay.IndexSpec
			if err := msgpack.Unmarshal(v, &spec); err != nil {
				return fmt.Errorf("%s.%s index %s: %w", dbName, collName, k, err)
			}
			return s.cat.Apply(mongoplay.Change{Op: mongoplay.ChangeCreateIndex, DB: dbName, Collection: collName, Index: &spec})
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// replay applies the journal segments written after the snapshot. Changes
// that no longer apply, like an insert that collides with a document the
// snapshot already holds under a unique index, are logged and skipped.
func (s *Store) replay(sealed uint32) (int, int, error) {
	var skipped int
	n, err := s.jrnl.ReplayAfter(sealed, func(data []byte) error {
		var chg mongoplay.Change
		if err := msgpack.Unmarshal(data, &chg); err != nil {
			return fmt.Errorf("decoding change: %w", err)
		}
		if err := s.cat.Apply(chg); err != nil {
			skipped++
			s.logger.LogAttrs(context.Background(), slog.LevelWarn, "persist: skipping change", slog.String("change", chg.String()), slog.Any("err", err))
		}
		return nil
	})
	return n, skipped, err
}

// record journals a change. Called by the catalog with the namespace locked.
func (s *Store) record(chg mongoplay.Change) {
	data, err := msgpack.Marshal(&chg)
	if err != nil {
		s.fail(fmt.Errorf("encoding %v: %w", chg, err))
		return
	}
	if err := s.jrnl.WriteRecord(data); err != nil {
		s.fail(err)
		return
	}
	if s.sync {
		if err := s.jrnl.Sync(); err != nil {
			s.fail(err)
		}
	}
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "persist: journaled", slog.String("change", chg.String()), slog.Int("size", len(data)))
	}
}

func (s *Store) fail(err error) {
	s.logger.LogAttrs(context.Background(), slog.LevelError, "persist: journal write failed", slog.Any("err", err))
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first journal failure, if any. Changes made after a
// failure may be lost on restart.
func (s *Store) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Sync makes journaled changes durable.
func (s *Store) Sync() error {
	if s.readOnly {
		return ErrReadOnly
	}
	return s.jrnl.Sync()
}

// Checkpoint writes the whole catalog into the snapshot in one transaction
// and drops the journal segments the snapshot covers.
func (s *Store) Checkpoint() error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return journal.ErrClosed
	}
	return s.checkpointLocked()
}

func (s *Store) checkpointLocked() error {
	start := time.Now()
	if err := s.jrnl.Sync(); err != nil {
		return err
	}
	sealed := s.jrnl.Rotate()

	docs, err := s.writeSnapshot(sealed)
	if err != nil {
		return fmt.Errorf("persist: writing snapshot: %w", err)
	}
	if err := s.jrnl.DropThrough(sealed); err != nil {
		return fmt.Errorf("persist: dropping journal: %w", err)
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "persist: checkpoint",
		slog.Int("docs", docs),
		slog.Uint64("sealed", uint64(sealed)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// writeSnapshot replaces the snapshot with the current catalog, marking
// journal segments up to sealed as covered.
func (s *Store) writeSnapshot(sealed uint32) (int, error) {
	var docs int
	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			stale = append(stale, name)
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		for _, db := range s.cat.Databases() {
			dbb, err := tx.CreateBucket([]byte(db.Name()))
			if err != nil {
				return err
			}
			colls, err := db.Collections()
			if err != nil {
				// dropped since listing
				continue
			}
			for _, c := range colls {
				n, err := saveCollection(dbb, c)
				if err != nil {
					return err
				}
				docs += n
			}
		}

		meta, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		return meta.Put(sealedKey, binary.BigEndian.AppendUint32(nil, sealed))
	})
	return docs, err
}

func saveCollection(dbb *bbolt.Bucket, c *mongoplay.Collection) (int, error) {
	docs, specs, err := c.Snapshot()
	if err != nil {
		// dropped since listing
		return 0, nil
	}
	cb, err := dbb.CreateBucket([]byte(c.Name()))
	if err != nil {
		return 0, err
	}
	db, err := cb.CreateBucket(docsBucket)
	if err != nil {
		return 0, err
	}
	for i, doc := range docs {
		data, err := mongoplay.MarshalDocument(doc)
		if err != nil {
			return 0, fmt.Errorf("%s doc %d: %w", c.FullName(), i, err)
		}
		if err := db.Put(binary.BigEndian.AppendUint64(nil, uint64(i+1)), data); err != nil {
			return 0, err
		}
	}
	ib, err := cb.CreateBucket(indexesBucket)
	if err != nil {
		return 0, err
	}
	for _, spec := range specs {
		data, err := msgpack.Marshal(&spec)
		if err != nil {
			return 0, err
		}
		if err := ib.Put([]byte(spec.Name), data); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}

// Close stops journaling and, unless read-only, writes a final checkpoint.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	var err error
	if !s.readOnly {
		err = s.checkpointLocked()
	}
	s.closed = true
	return errors.Join(err, s.closeFiles())
}

func (s *Store) closeFiles() error {
	var errs []error
	if s.jrnl != nil {
		errs = append(errs, s.jrnl.Close())
	}
	if s.bdb != nil {
		errs = append(errs, s.bdb.Close())
	}
	return errors.Join(errs...)
}
