package mongoplay

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

type DumpFlags uint64

const (
	DumpCollectionHeaders = DumpFlags(1 << iota)
	DumpDocuments
	DumpStats
	DumpIndexes

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every collection for debugging. Documents are
// printed as relaxed extended JSON, one per line.
func (cat *Catalog) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, db := range cat.Databases() {
		colls, err := db.Collections()
		if err != nil {
			continue
		}
		for _, c := range colls {
			c.dump(&buf, f)
		}
	}
	return buf.String()
}

// Dump renders one collection the way Catalog.Dump does.
func (c *Collection) Dump(f DumpFlags) string {
	var buf strings.Builder
	c.dump(&buf, f)
	return buf.String()
}

func (c *Collection) dump(w *strings.Builder, f DumpFlags) {
	prefix := c.FullName()
	st, err := c.Stats()
	if err != nil {
		return
	}

	if f.Contains(DumpCollectionHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d docs)\n", prefix, st.Count)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: count = %d, size = %d, avg_obj_size = %d, indexes = %d\n", prefix, st.Count, st.Size, st.AvgObjSize, len(st.Indexes))
	}

	if f.Contains(DumpDocuments) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		docs, _, err := c.Snapshot()
		if err != nil {
			return
		}
		for i, d := range docs {
			dumpDocument(w, prefix, i+1, d)
		}
	}

	if f.Contains(DumpIndexes) {
		specs, err := c.IndexInformation()
		if err != nil {
			return
		}
		fmt.Fprintln(w, dumpSep2)
		for _, spec := range specs {
			unique := ""
			if spec.Unique {
				unique = " UNIQUE"
			}
			fmt.Fprintf(w, "%s.i.%s %v%s\n", prefix, spec.Name, spec.KeyDocument(), unique)
		}
	}
}

func dumpDocument(w *strings.Builder, prefix string, pos int, d *Document) {
	data, err := bson.MarshalExtJSON(d.BSON(), false, false)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = ** ERROR: %v\n", prefix, pos, err)
		return
	}
	fmt.Fprintf(w, "%s.%d = %s\n", prefix, pos, data)
}
