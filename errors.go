package mongoplay

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDocumentType is returned when a document contains a value of
	// a Go type that cannot be stored.
	ErrInvalidDocumentType = errors.New("invalid document type")

	// ErrInvalidUpdateSpec is returned for update documents that mix
	// replacement fields with operators or misuse an operator.
	ErrInvalidUpdateSpec = errors.New("invalid update spec")

	// ErrUnsupportedQueryOperator is returned for unknown $-tags in queries
	// and updates.
	ErrUnsupportedQueryOperator = errors.New("unsupported query operator")

	ErrCollectionNotFound = errors.New("collection not found")
	ErrDatabaseNotFound   = errors.New("database not found")
	ErrIndexNotFound      = errors.New("index not found")
	ErrIndexConflict      = errors.New("invalid or conflicting index")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrInvalidNamespace   = errors.New("invalid namespace")
	ErrInvalidProjection  = errors.New("invalid projection")
	ErrInvalidSort        = errors.New("invalid sort")
)

// NamespaceError reports a failure tied to a database or collection.
type NamespaceError struct {
	DB         string
	Collection string
	Msg        string
	Err        error
}

func nsErrf(db, coll string, err error, format string, args ...any) error {
	return &NamespaceError{db, coll, fmt.Sprintf(format, args...), err}
}

func (e *NamespaceError) Unwrap() error {
	return e.Err
}

func (e *NamespaceError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.DB)
	if e.Collection != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Collection)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// FieldError reports a failure tied to a field path inside a document,
// query, update or projection.
type FieldError struct {
	Path string
	Msg  string
	Err  error
}

func fieldErrf(path string, err error, format string, args ...any) error {
	return &FieldError{path, fmt.Sprintf(format, args...), err}
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func (e *FieldError) Error() string {
	var buf strings.Builder
	if e.Path != "" {
		buf.WriteString(e.Path)
		buf.WriteString(": ")
	}
	if e.Msg != "" {
		buf.WriteString(e.Msg)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Err.Error())
	return buf.String()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrDatabaseNotFound) || errors.Is(err, ErrCollectionNotFound) || errors.Is(err, ErrIndexNotFound)
}
