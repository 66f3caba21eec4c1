// Package httpapi exposes a mongoplay.Catalog over HTTP. Request and response
// bodies are relaxed extended JSON.
//
// Routes:
//
//	GET    /databases
//	GET    /databases/:db
//	DELETE /databases/:db
//	GET    /databases/:db/collections
//	GET    /databases/:db/collections/:coll
//	DELETE /databases/:db/collections/:coll
//	POST   /databases/:db/collections/:coll/insert   {"docs": [...]} or {"doc": {...}}
//	POST   /databases/:db/collections/:coll/find     {"query", "sort", "projection", "skip", "limit"}
//	POST   /databases/:db/collections/:coll/update   {"query", "update", "multi", "upsert"}
//	POST   /databases/:db/collections/:coll/remove   {"query"}
//	POST   /databases/:db/collections/:coll/count    {"query"}
//	POST   /databases/:db/collections/:coll/explain  {"query", "sort"}
//	GET    /databases/:db/collections/:coll/indexes
//	POST   /databases/:db/collections/:coll/indexes  {"key", "name", "unique"}
//	DELETE /databases/:db/collections/:coll/indexes/:name
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"

	mongoplay "github.com/xlgmokha/mongo-play"
)

const DefaultMaxBodySize = 16 * 1024 * 1024

type Options struct {
	Logger      *slog.Logger
	Verbose     bool
	MaxBodySize int64
}

type server struct {
	cat         *mongoplay.Catalog
	logger      *slog.Logger
	verbose     bool
	maxBodySize int64
}

// New returns a handler serving cat.
func New(cat *mongoplay.Catalog, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = cat.Logger()
	}
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	s := &server{
		cat:         cat,
		logger:      opts.Logger,
		verbose:     opts.Verbose,
		maxBodySize: opts.MaxBodySize,
	}

	const db = "/databases/:db"
	const coll = db + "/collections/:coll"
	r := httprouter.New()
	r.GET("/databases", s.handle(s.listDatabases))
	r.GET(db, s.handle(s.databaseStats))
	r.DELETE(db, s.handle(s.dropDatabase))
	r.GET(db+"/collections", s.handle(s.listCollections))
	r.GET(coll, s.handle(s.collectionStats))
	r.DELETE(coll, s.handle(s.dropCollection))
	r.POST(coll+"/insert", s.handle(s.insert))
	r.POST(coll+"/find", s.handle(s.find))
	r.POST(coll+"/update", s.handle(s.update))
	r.POST(coll+"/remove", s.handle(s.remove))
	r.POST(coll+"/count", s.handle(s.count))
	r.POST(coll+"/explain", s.handle(s.explain))
	r.GET(coll+"/indexes", s.handle(s.listIndexes))
	r.POST(coll+"/indexes", s.handle(s.createIndex))
	r.DELETE(coll+"/indexes/:name", s.handle(s.dropIndex))
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, &Error{http.StatusNotFound, "no such endpoint"})
	})
	return r
}

type request struct {
	*http.Request
	params httprouter.Params
	body   *mongoplay.Document
}

type handlerFunc func(r *request) (*mongoplay.Document, error)

func (s *server) handle(fn handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, hr *http.Request, params httprouter.Params) {
		start := time.Now()
		r := &request{Request: hr, params: params}
		if hr.Method == http.MethodPost {
			body, err := s.readBody(w, hr)
			if err != nil {
				s.writeError(w, hr, err)
				return
			}
			r.body = body
		}

		resp, err := fn(r)
		if err != nil {
			s.writeError(w, hr, err)
			return
		}
		data, err := bson.MarshalExtJSON(resp.BSON(), false, false)
		if err != nil {
			s.writeError(w, hr, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		if s.verbose {
			s.logger.LogAttrs(hr.Context(), slog.LevelDebug, "http", slog.String("method", hr.Method), slog.String("path", hr.URL.Path), slog.Int("status", http.StatusOK), slog.Duration("elapsed", time.Since(start)))
		}
	}
}

func (s *server) readBody(w http.ResponseWriter, r *http.Request) (*mongoplay.Document, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &Error{http.StatusRequestEntityTooLarge, err.Error()}
		}
		return nil, err
	}
	if len(data) == 0 {
		return &mongoplay.Document{}, nil
	}
	var raw bson.D
	if err := bson.UnmarshalExtJSON(data, false, &raw); err != nil {
		return nil, &Error{http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err)}
	}
	doc, err := mongoplay.FromBSON(raw)
	if err != nil {
		return nil, badRequest(err)
	}
	return doc, nil
}

// Error is an error with an HTTP status.
type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string {
	return e.Msg
}

func badRequest(err error) error {
	return &Error{http.StatusBadRequest, err.Error()}
}

// statusOf maps catalog errors to HTTP statuses.
func statusOf(err error) int {
	var he *Error
	switch {
	case errors.As(err, &he):
		return he.Status
	case errors.Is(err, mongoplay.ErrDatabaseNotFound),
		errors.Is(err, mongoplay.ErrCollectionNotFound),
		errors.Is(err, mongoplay.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, mongoplay.ErrDuplicateKey),
		errors.Is(err, mongoplay.ErrIndexConflict):
		return http.StatusConflict
	case errors.Is(err, mongoplay.ErrInvalidDocumentType),
		errors.Is(err, mongoplay.ErrInvalidUpdateSpec),
		errors.Is(err, mongoplay.ErrUnsupportedQueryOperator),
		errors.Is(err, mongoplay.ErrInvalidNamespace),
		errors.Is(err, mongoplay.ErrInvalidProjection),
		errors.Is(err, mongoplay.ErrInvalidSort):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	level := slog.LevelDebug
	if status >= 500 {
		level = slog.LevelError
	}
	if s.verbose || status >= 500 {
		s.logger.LogAttrs(r.Context(), level, "http", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("err", err))
	}
	data, merr := bson.MarshalExtJSON(bson.D{{Key: "error", Value: err.Error()}}, false, false)
	if merr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// database looks up an existing database without creating it.
func (s *server) database(r *request) (*mongoplay.Database, error) {
	name := r.params.ByName("db")
	if !slices.Contains(s.cat.DatabaseNames(), name) {
		return nil, fmt.Errorf("%s: %w", name, mongoplay.ErrDatabaseNotFound)
	}
	return s.cat.Database(name)
}

// existingCollection looks up an existing collection without creating it.
func (s *server) existingCollection(r *request) (*mongoplay.Collection, error) {
	db, err := s.database(r)
	if err != nil {
		return nil, err
	}
	name := r.params.ByName("coll")
	names, err := db.CollectionNames()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%s.%s: %w", db.Name(), name, mongoplay.ErrCollectionNotFound)
	}
	return db.Collection(name)
}

// collection gets or creates the collection, like the first write to a
// namespace does.
func (s *server) collection(r *request) (*mongoplay.Collection, error) {
	return s.cat.Collection(r.params.ByName("db"), r.params.ByName("coll"))
}

func (s *server) listDatabases(r *request) (*mongoplay.Document, error) {
	var dbs []any
	for _, st := range s.cat.DatabaseInfo() {
		dbs = append(dbs, databaseStatsDoc(st))
	}
	return mongoplay.NewDocument("databases", orEmpty(dbs))
}

func (s *server) databaseStats(r *request) (*mongoplay.Document, error) {
	db, err := s.database(r)
	if err != nil {
		return nil, err
	}
	st, err := db.Stats()
	if err != nil {
		return nil, err
	}
	return databaseStatsDoc(st), nil
}

func databaseStatsDoc(st mongoplay.DatabaseStats) *mongoplay.Document {
	return mongoplay.MustDocument(
		"name", st.Name,
		"collections", st.Collections,
		"objects", st.Objects,
		"dataSize", st.DataSize,
		"indexes", st.Indexes,
		"empty", st.Empty,
	)
}

func (s *server) dropDatabase(r *request) (*mongoplay.Document, error) {
	if err := s.cat.DropDatabase(r.params.ByName("db")); err != nil {
		return nil, err
	}
	return okDoc(), nil
}

func (s *server) listCollections(r *request) (*mongoplay.Document, error) {
	db, err := s.database(r)
	if err != nil {
		return nil, err
	}
	names, err := db.CollectionNames()
	if err != nil {
		return nil, err
	}
	return mongoplay.NewDocument("collections", names)
}

func (s *server) collectionStats(r *request) (*mongoplay.Document, error) {
	c, err := s.existingCollection(r)
	if err != nil {
		return nil, err
	}
	st, err := c.Stats()
	if err != nil {
		return nil, err
	}
	return mongoplay.NewDocument(
		"ns", c.FullName(),
		"count", st.Count,
		"size", st.Size,
		"avgObjSize", st.AvgObjSize,
		"indexes", st.Indexes,
	)
}

func (s *server) dropCollection(r *request) (*mongoplay.Document, error) {
	c, err := s.existingCollection(r)
	if err != nil {
		return nil, err
	}
	if err := c.Drop(); err != nil {
		return nil, err
	}
	return okDoc(), nil
}

func (s *server) insert(r *request) (*mongoplay.Document, error) {
	var docs []*mongoplay.Document
	if d, err := subdocument(r.body, "doc"); err != nil {
		return nil, err
	} else if d != nil {
		docs = append(docs, d)
	}
	if v, ok := r.body.Get("docs"); ok {
		elems, ok := v.ArrayValue()
		if !ok {
			return nil, &Error{http.StatusBadRequest, "docs: expected an array"}
		}
		for i, e := range elems {
			d, ok := e.DocumentValue()
			if !ok {
				return nil, &Error{http.StatusBadRequest, fmt.Sprintf("docs.%d: expected a document", i)}
			}
			docs = append(docs, d)
		}
	}
	if len(docs) == 0 {
		return nil, &Error{http.StatusBadRequest, "nothing to insert"}
	}

	c, err := s.collection(r)
	if err != nil {
		return nil, err
	}
	ids, err := c.InsertMany(docs...)
	if err != nil {
		return nil, err
	}
	return mongoplay.NewDocument("insertedIds", ids)
}

func (s *server) cursor(r *request, c *mongoplay.Collection) (*mongoplay.Cursor, error) {
	query, err := subdocument(r.body, "query")
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(query)
	if err != nil {
		return nil, err
	}
	if sort, err := subdocument(r.body, "sort"); err != nil {
		return nil, err
	} else if sort != nil {
		cur.SortBy(sort)
	}
	if proj, err := subdocument(r.body, "projection"); err != nil {
		return nil, err
	} else if proj != nil {
		cur.Project(proj)
	}
	if n, ok, err := intField(r.body, "skip"); err != nil {
		return nil, err
	} else if ok {
		cur.Skip(n)
	}
	if n, ok, err := intField(r.body, "limit"); err != nil {
		return nil, err
	} else if ok {
		cur.Limit(n)
	}
	return cur, nil
}

func (s *server) find(r *request) (*mongoplay.Document, error) {
	c, err := s.existingCollection(r)
	if isNotFound(err) {
		return mongoplay.NewDocument("documents", []any{})
	} else if err != nil {
		return nil, err
	}
	cur, err := s.cursor(r, c)
	if err != nil {
		return nil, err
	}
	docs, err := cur.All()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return mongoplay.NewDocument("documents", out)
}

func (s *server) explain(r *request) (*mongoplay.Document, error) {
	c, err := s.existingCollection(r)
	if err != nil {
		return nil, err
	}
	cur, err := s.cursor(r, c)
	if err != nil {
		return nil, err
	}
	e, err := cur.Explain()
	if err != nil {
		return nil, err
	}
	return e.Document(), nil
}

func (s *server) update(r *request) (*mongoplay.Document, error) {
	query, err := subdocument(r.body, "query")
	if err != nil {
		return nil, err
	}
	upd, err := subdocument(r.body, "update")
	if err != nil {
		return nil, err
	}
	if upd == nil {
		return nil, &Error{http.StatusBadRequest, "update: required"}
	}
	var opts mongoplay.UpdateOptions
	if opts.Multi, err = boolField(r.body, "multi"); err != nil {
		return nil, err
	}
	if opts.Upsert, err = boolField(r.body, "upsert"); err != nil {
		return nil, err
	}

	c, err := s.collection(r)
	if err != nil {
		return nil, err
	}
	res, err := c.Update(query, upd, opts)
	if err != nil {
		return nil, err
	}
	resp := mongoplay.MustDocument("matched", res.Matched, "modified", res.Modified)
	if res.UpsertedID != nil {
		resp.SetValue("upserted", *res.UpsertedID)
	}
	return resp, nil
}

func (s *server) remove(r *request) (*mongoplay.Document, error) {
	query, err := subdocument(r.body, "query")
	if err != nil {
		return nil, err
	}
	c, err := s.existingCollection(r)
	if isNotFound(err) {
		return mongoplay.NewDocument("removed", 0)
	} else if err != nil {
		return nil, err
	}
	n, err := c.Remove(query)
	if err != nil {
		return nil, err
	}
	return mongoplay.NewDocument("removed", n)
}

func (s *server) count(r *request) (*mongoplay.Document, error) {
	query, err := subdocument(r.body, "query")
	if err != nil {
		return nil, err
	}
	c, err := s.existingCollection(r)
	if isNotFound(err) {
		return mongoplay.NewDocument("count", 0)
	} else if err != nil {
		return nil, err
	}
	n, err := c.Count(query)
	if err != nil {
		return nil, err
	}
	return mongoplay.NewDocument("count", n)
}

func (s *server) listIndexes(r *request) (*mongoplay.Document, error) {
	c, err := s.existingCollection(r)
	if err != nil {
		return nil, err
	}
	specs, err := c.IndexInformation()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(specs))
	for i, spec := range specs {
		d := mongoplay.MustDocument("name", spec.Name, "key", spec.KeyDocument())
		if spec.Unique {
			d.SetValue("unique", mongoplay.Bool(true))
		}
		out[i] = d
	}
	return mongoplay.NewDocument("indexes", out)
}

func (s *server) createIndex(r *request) (*mongoplay.Document, error) {
	keys, err := subdocument(r.body, "key")
	if err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, &Error{http.StatusBadRequest, "key: required"}
	}
	var opts mongoplay.IndexOptions
	if v, ok := r.body.Get("name"); ok {
		if opts.Name, ok = v.StringValue(); !ok {
			return nil, &Error{http.StatusBadRequest, "name: expected a string"}
		}
	}
	if opts.Unique, err = boolField(r.body, "unique"); err != nil {
		return nil, err
	}

	c, err := s.collection(r)
	if err != nil {
		return nil, err
	}
	name, err := c.CreateIndex(keys, opts)
	if err != nil {
		return nil, err
	}
	return mongoplay.NewDocument("name", name)
}

func (s *server) dropIndex(r *request) (*mongoplay.Document, error) {
	c, err := s.existingCollection(r)
	if err != nil {
		return nil, err
	}
	if err := c.DropIndex(r.params.ByName("name")); err != nil {
		return nil, err
	}
	return okDoc(), nil
}

func subdocument(body *mongoplay.Document, key string) (*mongoplay.Document, error) {
	v, ok := body.Get(key)
	if !ok || v.IsNull() {
		return nil, nil
	}
	d, ok := v.DocumentValue()
	if !ok {
		return nil, &Error{http.StatusBadRequest, fmt.Sprintf("%s: expected a document, got %v", key, v.Kind())}
	}
	return d, nil
}

func intField(body *mongoplay.Document, key string) (int, bool, error) {
	v, ok := body.Get(key)
	if !ok || v.IsNull() {
		return 0, false, nil
	}
	if n, ok := v.IntValue(); ok {
		return int(n), true, nil
	}
	if f, ok := v.FloatValue(); ok && f == float64(int64(f)) {
		return int(f), true, nil
	}
	return 0, false, &Error{http.StatusBadRequest, fmt.Sprintf("%s: expected an integer, got %v", key, v)}
}

func boolField(body *mongoplay.Document, key string) (bool, error) {
	v, ok := body.Get(key)
	if !ok || v.IsNull() {
		return false, nil
	}
	b, ok := v.BoolValue()
	if !ok {
		return false, &Error{http.StatusBadRequest, fmt.Sprintf("%s: expected a boolean, got %v", key, v)}
	}
	return b, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, mongoplay.ErrDatabaseNotFound) || errors.Is(err, mongoplay.ErrCollectionNotFound)
}

func okDoc() *mongoplay.Document {
	return mongoplay.MustDocument("ok", 1)
}

func orEmpty(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}
