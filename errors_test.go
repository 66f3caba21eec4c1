package mongoplay

import (
	"errors"
	"strings"
	"testing"
)

func TestNamespaceError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := nsErrf("app", "people", inner, "oops %d", 1)
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	deepEqual(t, err.Error(), "app.people: oops 1: inner")

	deepEqual(t, nsErrf("app", "", ErrDatabaseNotFound, "").Error(), "app: database not found")
}

func TestFieldError_ErrorAndUnwrap(t *testing.T) {
	err := fieldErrf("a", ErrInvalidUpdateSpec, "bad")
	err = prefixPath("outer", err)
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T, wanted *FieldError", err)
	}
	deepEqual(t, fe.Path, "outer.a")
	isErr(t, err, ErrInvalidUpdateSpec)
	if s := err.Error(); !strings.HasPrefix(s, "outer.a: bad: ") {
		t.Fatalf("err.Error() = %q", s)
	}

	wrapped := nsErrf("d", "c", err, "update")
	isErr(t, wrapped, ErrInvalidUpdateSpec)
	deepEqual(t, wrapped.Error(), "d.c: update: outer.a: bad: invalid update spec")
}

func TestIsNotFound(t *testing.T) {
	deepEqual(t, isNotFound(nsErrf("a", "b", ErrCollectionNotFound, "")), true)
	deepEqual(t, isNotFound(nsErrf("a", "", ErrDatabaseNotFound, "")), true)
	deepEqual(t, isNotFound(ErrIndexNotFound), true)
	deepEqual(t, isNotFound(ErrDuplicateKey), false)
	deepEqual(t, isNotFound(nil), false)
}
