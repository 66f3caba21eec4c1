package mongoplay

import (
	"slices"
)

const (
	planCollScan = "COLLSCAN"
	planIxScan   = "IXSCAN"
)

// plan is the access path chosen for a query: either a full scan of the
// record tree, or a range scan of one index followed by a fetch.
type plan struct {
	index *index
	rang  valueRange
}

func (p plan) name() string {
	if p.index == nil {
		return planCollScan
	}
	return planIxScan
}

// planLocked prefers an index pinned by equality, then one bounded by a
// range, in index creation order (so _id_ wins ties).
func (c *Collection) planLocked(q *Query) plan {
	var best plan
	var bestScore int
	for _, idx := range c.indexes {
		r, eq, ok := q.rangeFor(idx.spec.Keys[0].Field)
		if !ok {
			continue
		}
		score := 1
		if eq {
			score = 2
		}
		if score > bestScore {
			best, bestScore = plan{index: idx, rang: r}, score
		}
	}
	return best
}

type scanStats struct {
	docsExamined int
	keysExamined int
}

// scanLocked calls fn for every record matching q, in natural order, until
// fn returns false. The caller holds c.mu.
func (c *Collection) scanLocked(q *Query, p plan, fn func(rec *record) bool) scanStats {
	var st scanStats
	if p.index == nil {
		c.records.Ascend(func(rec *record) bool {
			st.docsExamined++
			if q.Matches(rec.doc) {
				return fn(rec)
			}
			return true
		})
		return st
	}

	var seqs []uint64
	st.keysExamined = p.index.scan(p.rang, func(seq uint64) bool {
		seqs = append(seqs, seq)
		return true
	})
	// index order is not natural order
	slices.Sort(seqs)
	for _, seq := range seqs {
		rec, ok := c.records.Get(&record{seq: seq})
		if !ok {
			panic("index entry points to a missing record")
		}
		st.docsExamined++
		if q.Matches(rec.doc) && !fn(rec) {
			break
		}
	}
	return st
}
