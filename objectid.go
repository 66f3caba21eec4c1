package mongoplay

import (
	"encoding/binary"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// idGenerator issues object ids laid out as 4 bytes of big-endian Unix
// seconds followed by an 8-byte big-endian counter. Seconds never go
// backwards and the counter only grows, so ids are strictly increasing in
// generation order.
type idGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	secs    uint32
	counter uint64
}

func newIDGenerator(now func() time.Time) *idGenerator {
	// Seeding from the nanosecond clock keeps ids ahead of the ones issued
	// by a previous process with the same data.
	return &idGenerator{now: now, counter: uint64(now().UnixNano())}
}

var defaultIDs = newIDGenerator(time.Now)

func (g *idGenerator) next() primitive.ObjectID {
	g.mu.Lock()
	defer g.mu.Unlock()

	secs := uint32(g.now().Unix())
	if secs > g.secs {
		g.secs = secs
	}
	g.counter++

	var oid primitive.ObjectID
	binary.BigEndian.PutUint32(oid[0:4], g.secs)
	binary.BigEndian.PutUint64(oid[4:12], g.counter)
	return oid
}

// NewObjectID returns a process-wide unique, increasing object id.
func NewObjectID() primitive.ObjectID {
	return defaultIDs.next()
}
