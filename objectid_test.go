package mongoplay

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIDGenerator_monotonic(t *testing.T) {
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	g := newIDGenerator(func() time.Time { return clock })

	a := g.next()
	clock = clock.Add(-time.Hour)
	b := g.next()
	clock = clock.Add(2 * time.Hour)
	c := g.next()

	if bytes.Compare(a[:], b[:]) >= 0 || bytes.Compare(b[:], c[:]) >= 0 {
		t.Errorf("** ids not increasing: %v %v %v", a, b, c)
	}
	deepEqual(t, a.Timestamp().Unix(), clock.Add(-time.Hour).Unix())
	deepEqual(t, b.Timestamp().Unix(), a.Timestamp().Unix())
	deepEqual(t, c.Timestamp().Unix(), clock.Unix())
}

func TestIDGenerator_concurrent(t *testing.T) {
	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[primitive.ObjectID]bool)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev primitive.ObjectID
			for range perWorker {
				id := NewObjectID()
				if bytes.Compare(prev[:], id[:]) >= 0 {
					t.Errorf("** id %v not after %v", id, prev)
				}
				prev = id
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	deepEqual(t, len(seen), workers*perWorker)
}
