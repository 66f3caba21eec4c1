package persist

import (
	"go.etcd.io/bbolt"
)

// CollectionStats describes how a collection occupies the snapshot file.
type CollectionStats struct {
	DB         string
	Collection string

	Docs    int
	Indexes int

	DataSize  int
	DataAlloc int
}

func (cs *CollectionStats) Namespace() string {
	return cs.DB + "." + cs.Collection
}

// SnapshotStats reports per-collection usage of the last checkpoint.
func (s *Store) SnapshotStats() ([]CollectionStats, error) {
	if s.bdb == nil {
		return nil, nil
	}
	var result []CollectionStats
	err := s.bdb.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(dbName []byte, dbb *bbolt.Bucket) error {
			if string(dbName) == string(metaBucket) {
				return nil
			}
			return dbb.ForEach(func(collName, v []byte) error {
				if v != nil {
					return nil
				}
				cb := dbb.Bucket(collName)
				cs := CollectionStats{DB: string(dbName), Collection: string(collName)}
				if b := cb.Bucket(docsBucket); b != nil {
					bs := b.Stats()
					cs.Docs = bs.KeyN
					cs.DataSize = bs.LeafInuse + bs.InlineBucketInuse
					cs.DataAlloc = bs.BranchAlloc + bs.LeafAlloc
				}
				if b := cb.Bucket(indexesBucket); b != nil {
					cs.Indexes = b.Stats().KeyN
				}
				result = append(result, cs)
				return nil
			})
		})
	})
	return result, err
}
