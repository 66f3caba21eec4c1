package mongoplay

import (
	"errors"
	"log/slog"
	"reflect"
	"testing"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func setup(t testing.TB) *Catalog {
	t.Helper()
	return New(Options{Verbose: true})
}

func setupColl(t testing.TB, docs ...*Document) *Collection {
	t.Helper()
	c := must(setup(t).Collection("test", "things"))
	for _, d := range docs {
		must(c.Insert(d))
	}
	return c
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func docEqual(t testing.TB, a, e *Document) {
	if !a.Equal(e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func docsEqual(t testing.TB, a []*Document, e ...*Document) {
	t.Helper()
	if len(a) != len(e) {
		t.Errorf("** got %d docs %v, wanted %d docs %v", len(a), a, len(e), e)
		return
	}
	for i := range a {
		if !a[i].Equal(e[i]) {
			t.Errorf("** doc %d: got %v, wanted %v", i, a[i], e[i])
		}
	}
}

func isErr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

// names extracts the "name" field of each document.
func names(docs []*Document) []string {
	result := make([]string, 0, len(docs))
	for _, d := range docs {
		v, _ := d.Get("name")
		s, _ := v.StringValue()
		result = append(result, s)
	}
	return result
}
