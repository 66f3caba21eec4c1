package journaltest

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xlgmokha/mongo-play/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestJournal wraps a journal in a temporary directory with a fake clock
// and a logger that writes to the test log.
type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	now time.Time
}

// Open opens a journal named "j*.wal" in a fresh temporary directory.
func Open(t testing.TB, o journal.Options) *TestJournal {
	j := &TestJournal{
		T:   t,
		Dir: t.TempDir(),
		now: Start,
	}
	j.Reopen(o)
	return j
}

// Reopen closes the journal and opens the same directory again.
func (j *TestJournal) Reopen(o journal.Options) {
	if j.Journal != nil {
		ensure(j.Journal.Close())
	}
	o.FileName = "j*.wal"
	o.Now = func() time.Time { return j.now }
	o.Logger = slog.New(slog.NewTextHandler(&logWriter{j.T}, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
	o.Verbose = true

	j.Journal = must(journal.Open(j.Dir, o))
	jj := j.Journal
	j.T.Cleanup(func() {
		if err := jj.Close(); err != nil {
			j.T.Error(err)
		}
	})
}

// Records replays the journal and returns every record as a string.
func (j *TestJournal) Records() []string {
	j.T.Helper()
	var recs []string
	_, err := j.Replay(func(data []byte) error {
		recs = append(recs, string(data))
		return nil
	})
	if err != nil {
		j.T.Fatalf("Replay: %v", err)
	}
	return recs
}

func (j *TestJournal) Eq(fileName string, expected []byte) {
	j.T.Helper()
	BytesEq(j.T, j.Data(fileName), expected)
}

func (j *TestJournal) Put(fileName string, data []byte) {
	ensure(os.WriteFile(filepath.Join(j.Dir, fileName), data, 0o644))
}

func (j *TestJournal) Data(fileName string) []byte {
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.T.Fatalf("when reading %v: %v", fileName, err)
	}
	return b
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

func (j *TestJournal) FileNames() []string {
	var names []string
	for _, env := range must(os.ReadDir(j.Dir)) {
		names = append(names, env.Name())
	}
	slices.Sort(names)
	return names
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// Segment builds a segment file: the 96-byte header with its checksum,
// followed by the given stored records.
func Segment(seg uint32, ts time.Time, invariant [32]byte, records ...[]byte) []byte {
	// magic, version 0, flags 0
	b := []byte("MONOPLOG")
	b = append(b, make([]byte, 8)...)
	b = binary.LittleEndian.AppendUint32(b, seg)
	b = binary.LittleEndian.AppendUint32(b, uint32(ts.Unix()))
	b = append(b, invariant[:]...)
	b = append(b, make([]byte, 4*8)...)
	b = binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
	for _, r := range records {
		b = append(b, r...)
	}
	return b
}

// Record builds an uncompressed stored record.
func Record(payload string) []byte {
	b := binary.AppendUvarint(nil, uint64(len(payload))<<1)
	b = append(b, payload...)
	return binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
}

// BytesEq reports the first differing offset with the bytes around it.
func BytesEq(t testing.TB, a, e []byte) bool {
	if bytes.Equal(a, e) {
		return true
	}
	off := min(len(a), len(e))
	for i := range off {
		if a[i] != e[i] {
			off = i
			break
		}
	}
	t.Helper()
	t.Errorf("** %d bytes, wanted %d; first difference at 0x%x:\n  got    % x\n  wanted % x", len(a), len(e), off, around(a, off), around(e, off))
	return false
}

func around(b []byte, off int) []byte {
	lo, hi := max(off-8, 0), min(off+8, len(b))
	if lo > hi {
		return nil
	}
	return b[lo:hi]
}
