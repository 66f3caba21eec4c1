package journal

import (
	"testing"
)

func TestParseName(t *testing.T) {
	seq, ts, err := parseSegmentName("op-", ".wal", "op-000000000123-20230101T000000.wal")
	if err != nil {
		t.Fatal(err)
	}
	if e := uint32(123); seq != e {
		t.Errorf("seq = %v, expected %v", seq, e)
	}
	if e := uint32(1672531200); ts != e {
		t.Errorf("ts = %v, expected %v", ts, e)
	}

	for _, name := range []string{
		"op-000000000123-20230101T000000.tmp",
		"x-000000000123-20230101T000000.wal",
		"op-000000000123.wal",
		"op-abc-20230101T000000.wal",
		"op-000000000123-2023.wal",
	} {
		if _, _, err := parseSegmentName("op-", ".wal", name); err == nil {
			t.Errorf("parseSegmentName(%q) succeeded, expected error", name)
		}
	}
}

func TestFormatName(t *testing.T) {
	name := formatSegmentName("x", "y", 123, 1672531200)
	exp := "x000000000123-20230101T000000y"
	if name != exp {
		t.Errorf("name = %q, expected %q", name, exp)
	}
}

func TestDecodeRecord_truncated(t *testing.T) {
	for _, data := range [][]byte{nil, {0x80}, {10, 'h', 'e'}} {
		if _, _, err := decodeRecord(data); err != errCorruptedFile {
			t.Errorf("decodeRecord(%x) err = %v, expected corruption", data, err)
		}
	}
}
