// Package journal implements append-only, segmented journal files used as a
// write-ahead log.
//
// Features:
//
//  1. Records of any size. Payloads are compressed with snappy when that makes
//     them smaller.
//
//  2. Crash-resistant (if followed by a Sync). Every record carries an xxhash
//     checksum, and Replay trims the journal after the first corrupted record.
//
//  3. Automatically rotates the files when they reach a certain size. (You can
//     also trigger the rotation programmatically at any time.)
//
//  4. Manages segment file naming.
//
// File format:
//
//   - file = segmentHeader record*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 pad:32 segment:32 timestamp:32 invariant:8*32 reserved:64*4 checksum:64
//   - record = flagsAndSize:uvarint payload:bytes* checksum:64
//
// The record checksum covers flagsAndSize and the payload as stored.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrClosed             = errors.New("journal closed")
	errCorruptedFile      = errors.New("corrupted journal segment file")
)

type Options struct {
	Context     context.Context
	FileName    string // e.g. "oplog-*.wal"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time

	// After is a lower bound for segment ordinals: new segments are
	// numbered above it even when older segments have been deleted.
	After uint32

	// Invariant identifies the owner of the journal; segments written with a
	// different invariant are rejected with ErrIncompatible.
	Invariant [32]byte

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x474f4c504f4e4f4d // "MONOPLOG" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 12 * 8

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              uint8
	Flags          uint16
	_              uint32
	SegmentOrdinal uint32
	Timestamp      uint32
	Invariant      [32]byte
	_              [4]uint64
	Checksum       uint64
}

const (
	recordFlagCompressed uint64 = 1 << 0
	recordFlagShift             = 1
	recordTrailerSize           = 8
	maxRecordSize               = 1 << 30
	timestampFmt                = "20060102T150405"
)

// Journal is a sequence of segment files in a directory.
type Journal struct {
	context     context.Context
	maxFileSize int64
	prefix      string
	suffix      string
	debugName   string
	dir         string
	now         func() time.Time
	logger      *slog.Logger
	verbose     bool
	invariant   [32]byte

	lock      sync.Mutex
	closed    bool
	err       error
	lastSeg   uint32
	records   uint64
	segWriter *segmentWriter
}

// Open prepares the journal stored in dir, creating the directory if
// needed. Nothing is written until the first WriteRecord, which starts a
// new segment.
func Open(dir string, o Options) (*Journal, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	j := &Journal{
		context:     o.Context,
		maxFileSize: o.MaxFileSize,
		prefix:      prefix,
		suffix:      suffix,
		debugName:   o.DebugName,
		dir:         dir,
		now:         o.Now,
		logger:      o.Logger,
		verbose:     o.Verbose,
		invariant:   o.Invariant,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	segs, err := j.segments()
	if err != nil {
		return nil, err
	}
	j.lastSeg = o.After
	if len(segs) > 0 {
		j.lastSeg = max(j.lastSeg, segs[len(segs)-1].ordinal)
	}
	return j, nil
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) timestamp() uint32 {
	v := j.now().Unix()
	if v < 0 || v > 0xFFFF_FFFF {
		panic("time travel disallowed")
	}
	return uint32(v)
}

type segmentFile struct {
	name    string
	ordinal uint32
}

// segments lists segment files in ordinal order.
func (j *Journal) segments() ([]segmentFile, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var segs []segmentFile
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		seg, _, err := parseSegmentName(j.prefix, j.suffix, name)
		if err != nil {
			continue
		}
		segs = append(segs, segmentFile{name, seg})
	}
	slices.SortFunc(segs, func(a, b segmentFile) int {
		return int(int64(a.ordinal) - int64(b.ordinal))
	})
	return segs, nil
}

// FileNames lists the segment files, oldest first.
func (j *Journal) FileNames() []string {
	j.lock.Lock()
	defer j.lock.Unlock()
	segs, err := j.segments()
	if err != nil {
		return nil
	}
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.name
	}
	return names
}

// WriteRecord appends one record. Empty records are ignored.
func (j *Journal) WriteRecord(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > maxRecordSize {
		return fmt.Errorf("%v: record of %d bytes is too large", j.debugName, len(data))
	}

	j.lock.Lock()
	defer j.lock.Unlock()
	if err := j.checkLocked(); err != nil {
		return err
	}

	if j.segWriter != nil && j.segWriter.size >= j.maxFileSize {
		j.rotateLocked()
	}
	if j.segWriter == nil {
		sw, err := j.startSegment(j.lastSeg+1, j.timestamp())
		if err != nil {
			return j.fail(err)
		}
		j.lastSeg = sw.seg
		j.segWriter = sw
	}
	j.records++
	return j.fail(j.segWriter.writeRecord(data))
}

func (j *Journal) checkLocked() error {
	if j.closed {
		return ErrClosed
	}
	return j.err
}

// Sync flushes the current segment to stable storage.
func (j *Journal) Sync() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if err := j.checkLocked(); err != nil {
		return err
	}
	if j.segWriter == nil {
		return nil
	}
	return j.fail(fdatasync(j.segWriter.f))
}

// Rotate closes the current segment; the next record starts a new one.
// It returns the ordinal of the last sealed segment: every record written
// before Rotate lives in a segment at or below it.
func (j *Journal) Rotate() uint32 {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.rotateLocked()
	return j.lastSeg
}

// DropThrough deletes the sealed segments with ordinals up to seg.
func (j *Journal) DropThrough(seg uint32) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.closed {
		return ErrClosed
	}
	if j.segWriter != nil && j.segWriter.seg <= seg {
		j.rotateLocked()
	}
	segs, err := j.segments()
	if err != nil {
		return err
	}
	var n int
	for _, s := range segs {
		if s.ordinal > seg {
			break
		}
		if err := os.Remove(filepath.Join(j.dir, s.name)); err != nil {
			return err
		}
		n++
	}
	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: dropped segments", slog.String("jrnl", j.debugName), slog.Uint64("through", uint64(seg)), slog.Int("segments", n))
	}
	return nil
}

func (j *Journal) rotateLocked() {
	if j.segWriter == nil {
		return
	}
	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: rotating", slog.String("jrnl", j.debugName), slog.Uint64("seg", uint64(j.segWriter.seg)), slog.Int64("size", j.segWriter.size))
	}
	j.segWriter.close()
	j.segWriter = nil
}

// Reset deletes every segment. Segment ordinals keep increasing.
func (j *Journal) Reset() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.rotateLocked()
	segs, err := j.segments()
	if err != nil {
		return err
	}
	for _, s := range segs {
		if err := os.Remove(filepath.Join(j.dir, s.name)); err != nil {
			return err
		}
	}
	j.err = nil
	j.records = 0
	j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: reset", slog.String("jrnl", j.debugName), slog.Int("segments", len(segs)))
	return nil
}

// Records is the number of records written since Open or Reset.
func (j *Journal) Records() uint64 {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.records
}

func (j *Journal) Close() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.closed {
		return nil
	}
	var err error
	if j.segWriter != nil {
		err = fdatasync(j.segWriter.f)
	}
	j.rotateLocked()
	j.closed = true
	return err
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}
	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))
	j.rotateLocked()
	if j.err == nil {
		j.err = err
	}
	return err
}

// Replay calls fn for every record in write order. Replay stops at the
// first corrupted record, truncating its segment there and deleting any
// later segments, and reports how many records were read. An error returned
// by fn stops the replay and is returned as is.
func (j *Journal) Replay(fn func(data []byte) error) (int, error) {
	return j.ReplayAfter(0, fn)
}

// ReplayAfter is Replay restricted to the segments with ordinals above seg.
func (j *Journal) ReplayAfter(seg uint32, fn func(data []byte) error) (int, error) {
	j.lock.Lock()
	defer j.lock.Unlock()
	if err := j.checkLocked(); err != nil {
		return 0, err
	}
	j.rotateLocked()

	segs, err := j.segments()
	if err != nil {
		return 0, err
	}
	var count int
	for i, s := range segs {
		if s.ordinal <= seg {
			continue
		}
		if err := j.context.Err(); err != nil {
			return count, err
		}
		n, goodSize, err := j.replaySegment(s, fn)
		count += n
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: trimming corrupted journal", slog.String("jrnl", j.debugName), slog.String("file", s.name), slog.Int64("size", goodSize), slog.Int("later_segments", len(segs)-i-1))
			return count, j.trim(s, goodSize, segs[i+1:])
		} else if err != nil {
			return count, err
		}
	}
	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: replayed", slog.String("jrnl", j.debugName), slog.Int("segments", len(segs)), slog.Int("records", count))
	}
	return count, nil
}

func (j *Journal) replaySegment(s segmentFile, fn func(data []byte) error) (int, int64, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, s.name))
	if err != nil {
		return 0, 0, err
	}
	if err := j.checkHeader(data, s.ordinal); err != nil {
		return 0, 0, err
	}

	var count int
	off := segmentHeaderSize
	for off < len(data) {
		payload, n, err := decodeRecord(data[off:])
		if err != nil {
			return count, int64(off), err
		}
		if err := fn(payload); err != nil {
			return count, int64(off), err
		}
		count++
		off += n
	}
	return count, int64(off), nil
}

// trim cuts a segment at size, deleting it when not even the header
// survives, and deletes all later segments.
func (j *Journal) trim(s segmentFile, size int64, later []segmentFile) error {
	fn := filepath.Join(j.dir, s.name)
	if size < segmentHeaderSize {
		if err := os.Remove(fn); err != nil {
			return err
		}
	} else if err := os.Truncate(fn, size); err != nil {
		return err
	}
	for _, l := range later {
		if err := os.Remove(filepath.Join(j.dir, l.name)); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) checkHeader(data []byte, expectedSeq uint32) error {
	if len(data) < segmentHeaderSize {
		return errCorruptedFile
	}
	var h segmentHeader
	n, err := binary.Decode(data[:segmentHeaderSize], binary.LittleEndian, &h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}
	if h.Magic != magic {
		return errCorruptedFile
	}
	if xxhash.Sum64(data[:segmentHeaderSize-8]) != h.Checksum {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	if h.Invariant != j.invariant {
		return ErrIncompatible
	}
	return nil
}

func decodeRecord(b []byte) ([]byte, int, error) {
	v, hn := binary.Uvarint(b)
	if hn <= 0 {
		return nil, 0, errCorruptedFile
	}
	size := v >> recordFlagShift
	if size > maxRecordSize || uint64(len(b)-hn) < size+recordTrailerSize {
		return nil, 0, errCorruptedFile
	}
	end := hn + int(size)
	stored := b[hn:end]
	if xxhash.Sum64(b[:end]) != binary.LittleEndian.Uint64(b[end:end+recordTrailerSize]) {
		return nil, 0, errCorruptedFile
	}
	if v&recordFlagCompressed == 0 {
		return bytes.Clone(stored), end + recordTrailerSize, nil
	}
	payload, err := snappy.Decode(nil, stored)
	if err != nil {
		return nil, 0, errCorruptedFile
	}
	return payload, end + recordTrailerSize, nil
}

type segmentWriter struct {
	f    *os.File
	seg  uint32
	size int64
	buf  []byte
}

func (j *Journal) startSegment(seg, ts uint32) (*segmentWriter, error) {
	name := formatSegmentName(j.prefix, j.suffix, seg, ts)

	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j.invariant, seg, ts)
	if _, err := f.Write(hbuf[:]); err != nil {
		return nil, err
	}

	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: new segment", slog.String("jrnl", j.debugName), slog.String("file", name))
	}
	ok = true
	return &segmentWriter{f: f, seg: seg, size: segmentHeaderSize}, nil
}

func (sw *segmentWriter) writeRecord(data []byte) error {
	flags := uint64(0)
	stored := data
	if enc := snappy.Encode(nil, data); len(enc) < len(data) {
		stored = enc
		flags |= recordFlagCompressed
	}

	b := sw.buf[:0]
	b = binary.AppendUvarint(b, uint64(len(stored))<<recordFlagShift|flags)
	b = append(b, stored...)
	b = binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
	sw.buf = b

	n, err := sw.f.Write(b)
	sw.size += int64(n)
	return err
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, invariant [32]byte, seg, ts uint32) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Timestamp:      ts,
		Invariant:      invariant,
	}
	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], xxhash.Sum64(buf[:segmentHeaderSize-8]))
}

func formatSegmentName(prefix, suffix string, seg, ts uint32) string {
	t := time.Unix(int64(ts), 0).UTC()
	return fmt.Sprintf("%s%012d-%s%s", prefix, seg, t.Format(timestampFmt), suffix)
}

func parseSegmentName(prefix, suffix, name string) (seg, ts uint32, err error) {
	rem, ok := strings.CutPrefix(name, prefix)
	if ok {
		rem, ok = strings.CutSuffix(rem, suffix)
	}
	if !ok {
		return 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	segStr, tsStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(segStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seg = uint32(v)

	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seg, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	return seg, uint32(t.Unix()), nil
}

var _ io.Closer = (*Journal)(nil)
