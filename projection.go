package mongoplay

import (
	"strings"
)

// projection restricts the fields of returned documents. Paths form a tree;
// a nil node covers the whole field.
type projection struct {
	include bool
	paths   projNode
}

type projNode map[string]projNode

func (n projNode) add(path string) {
	head, rest, more := strings.Cut(path, ".")
	sub, exists := n[head]
	if exists && sub == nil {
		return
	}
	if !more {
		n[head] = nil
		return
	}
	if sub == nil {
		sub = projNode{}
		n[head] = sub
	}
	sub.add(rest)
}

// parseProjection parses {"field": 1 | 0, ...}. The identity is included
// unless excluded explicitly; other fields may not mix inclusion and
// exclusion. An empty projection returns nil.
func parseProjection(spec *Document) (*projection, error) {
	if spec.Len() == 0 {
		return nil, nil
	}
	var includes, excludes []string
	var excludeID, includeID bool
	for _, f := range spec.fields {
		if f.Key == "" || strings.HasPrefix(f.Key, "$") {
			return nil, fieldErrf(f.Key, ErrInvalidProjection, "invalid field name")
		}
		var on bool
		switch f.Value.kind {
		case KindBool:
			on = f.Value.n != 0
		case KindInt, KindFloat:
			n, _ := f.Value.FloatValue()
			on = n != 0
		default:
			return nil, fieldErrf(f.Key, ErrInvalidProjection, "expected 1, 0, true or false, got %s", f.Value.kind)
		}
		switch {
		case f.Key == IDField:
			excludeID, includeID = !on, on
		case on:
			includes = append(includes, f.Key)
		default:
			excludes = append(excludes, f.Key)
		}
	}
	if len(includes) > 0 && len(excludes) > 0 {
		return nil, fieldErrf(excludes[0], ErrInvalidProjection, "cannot exclude a field in an inclusion projection")
	}

	// {"_id": 1} alone keeps only the identity
	p := &projection{include: len(includes) > 0 || (includeID && len(excludes) == 0), paths: projNode{}}
	if p.include {
		if !excludeID {
			p.paths.add(IDField)
		}
		for _, path := range includes {
			p.paths.add(path)
		}
	} else {
		if excludeID {
			p.paths.add(IDField)
		}
		for _, path := range excludes {
			p.paths.add(path)
		}
	}
	return p, nil
}

func fieldsProjection(names []string) *projection {
	p := &projection{include: true, paths: projNode{}}
	p.paths.add(IDField)
	for _, name := range names {
		p.paths.add(name)
	}
	return p
}

// apply returns the projected copy of d, keeping the field order of d.
func (p *projection) apply(d *Document) *Document {
	if p == nil {
		return d.Clone()
	}
	if p.include {
		return includeFields(d, p.paths)
	}
	return excludeFields(d, p.paths)
}

func includeFields(d *Document, n projNode) *Document {
	out := &Document{}
	for _, f := range d.fields {
		sub, ok := n[f.Key]
		switch {
		case !ok:
		case sub == nil:
			out.fields = append(out.fields, f)
		case f.Value.kind == KindDocument:
			out.fields = append(out.fields, Field{f.Key, Value{kind: KindDocument, doc: includeFields(f.Value.doc, sub)}})
		}
	}
	return out
}

func excludeFields(d *Document, n projNode) *Document {
	out := &Document{}
	for _, f := range d.fields {
		sub, ok := n[f.Key]
		switch {
		case !ok:
			out.fields = append(out.fields, f)
		case sub == nil:
		case f.Value.kind == KindDocument:
			out.fields = append(out.fields, Field{f.Key, Value{kind: KindDocument, doc: excludeFields(f.Value.doc, sub)}})
		default:
			out.fields = append(out.fields, f)
		}
	}
	return out
}
