package httpapi_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	mongoplay "github.com/xlgmokha/mongo-play"
	"github.com/xlgmokha/mongo-play/httpapi"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

type testServer struct {
	t   testing.TB
	cat *mongoplay.Catalog
	h   http.Handler
}

func setup(t testing.TB) *testServer {
	cat := mongoplay.New(mongoplay.Options{})
	return &testServer{t, cat, httpapi.New(cat, httpapi.Options{Verbose: true})}
}

// do performs a request and returns the status and the body parsed from
// relaxed extended JSON.
func (s *testServer) do(method, path, body string) (int, *mongoplay.Document) {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, req)

	var raw bson.D
	if err := bson.UnmarshalExtJSON(w.Body.Bytes(), false, &raw); err != nil {
		s.t.Fatalf("%s %s: invalid response %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, must(mongoplay.FromBSON(raw))
}

func (s *testServer) ok(method, path, body string) *mongoplay.Document {
	s.t.Helper()
	code, resp := s.do(method, path, body)
	if code != http.StatusOK {
		s.t.Fatalf("%s %s: status %d, body %v", method, path, code, resp)
	}
	return resp
}

func (s *testServer) status(method, path, body string, expected int) {
	s.t.Helper()
	code, resp := s.do(method, path, body)
	if code != expected {
		s.t.Errorf("** %s %s: status %d, wanted %d; body %v", method, path, code, expected, resp)
	}
	if _, ok := resp.Get("error"); !ok {
		s.t.Errorf("** %s %s: no error in %v", method, path, resp)
	}
}

const people = "/databases/app/collections/people"

func TestAPI_crud(t *testing.T) {
	s := setup(t)
	resp := s.ok("POST", people+"/insert", `{"docs": [
		{"_id": 1, "name": "mo", "age": 30},
		{"_id": 2, "name": "al", "age": 25},
		{"_id": 3, "name": "jo", "age": 35}
	]}`)
	deepEqual(t, resp.String(), `{"insertedIds": [1, 2, 3]}`)

	resp = s.ok("POST", people+"/insert", `{"doc": {"name": "new"}}`)
	ids, _ := must2(resp.Get("insertedIds")).ArrayValue()
	deepEqual(t, ids[0].Kind(), mongoplay.KindObjectID)

	resp = s.ok("POST", people+"/find", `{"query": {"age": {"$gte": 30}}, "sort": {"age": -1}, "projection": {"name": 1}}`)
	deepEqual(t, resp.String(), `{"documents": [{"_id": 3, "name": "jo"}, {"_id": 1, "name": "mo"}]}`)

	resp = s.ok("POST", people+"/find", `{"sort": {"_id": 1}, "skip": 1, "limit": 1, "projection": {"_id": 0, "name": 1}}`)
	deepEqual(t, resp.String(), `{"documents": [{"name": "al"}]}`)

	resp = s.ok("POST", people+"/update", `{"query": {"age": {"$lt": 40}}, "update": {"$inc": {"age": 1}}, "multi": true}`)
	deepEqual(t, resp.String(), `{"matched": 3, "modified": 3}`)

	resp = s.ok("POST", people+"/update", `{"query": {"name": "zed"}, "update": {"$set": {"age": 1}}, "upsert": true}`)
	deepEqual(t, must2(resp.Get("matched")).String(), "0")
	if _, ok := resp.Get("upserted"); !ok {
		t.Errorf("** no upserted id in %v", resp)
	}

	resp = s.ok("POST", people+"/count", `{"query": {"age": {"$gt": 30}}}`)
	deepEqual(t, resp.String(), `{"count": 2}`)
	resp = s.ok("POST", people+"/count", ``)
	deepEqual(t, resp.String(), `{"count": 5}`)

	resp = s.ok("POST", people+"/remove", `{"query": {"name": {"$regex": "^(mo|zed)$"}}}`)
	deepEqual(t, resp.String(), `{"removed": 2}`)

	resp = s.ok("GET", people, ``)
	deepEqual(t, must2(resp.Get("ns")).String(), `"app.people"`)
	deepEqual(t, must2(resp.Get("count")).String(), "3")
}

func TestAPI_missingNamespaces(t *testing.T) {
	s := setup(t)
	deepEqual(t, s.ok("POST", people+"/find", `{}`).String(), `{"documents": []}`)
	deepEqual(t, s.ok("POST", people+"/count", `{}`).String(), `{"count": 0}`)
	deepEqual(t, s.ok("POST", people+"/remove", `{}`).String(), `{"removed": 0}`)
	deepEqual(t, s.cat.DatabaseNames(), []string{})

	s.status("GET", "/databases/app", ``, http.StatusNotFound)
	s.status("GET", "/databases/app/collections", ``, http.StatusNotFound)
	s.status("GET", people, ``, http.StatusNotFound)
	s.status("DELETE", "/databases/app", ``, http.StatusNotFound)
	s.status("DELETE", people, ``, http.StatusNotFound)
	s.status("GET", people+"/indexes", ``, http.StatusNotFound)
	s.status("GET", "/nope", ``, http.StatusNotFound)
	deepEqual(t, s.cat.DatabaseNames(), []string{})
}

func TestAPI_badRequests(t *testing.T) {
	s := setup(t)
	s.ok("POST", people+"/insert", `{"doc": {"a": 1}}`)
	s.status("POST", people+"/insert", `{"docs": [`, http.StatusBadRequest)
	s.status("POST", people+"/insert", `{}`, http.StatusBadRequest)
	s.status("POST", people+"/insert", `{"docs": [1]}`, http.StatusBadRequest)
	s.status("POST", people+"/insert", `{"doc": {"r": {"$regularExpression": {"pattern": "a", "options": ""}}}}`, http.StatusBadRequest)
	s.status("POST", people+"/find", `{"query": {"a": {"$nope": 1}}}`, http.StatusBadRequest)
	s.status("POST", people+"/find", `{"query": 5}`, http.StatusBadRequest)
	s.status("POST", people+"/find", `{"sort": {"a": 2}}`, http.StatusBadRequest)
	s.status("POST", people+"/find", `{"projection": {"a": 1, "b": 0}}`, http.StatusBadRequest)
	s.status("POST", people+"/find", `{"skip": "x"}`, http.StatusBadRequest)
	s.status("POST", people+"/update", `{"query": {}}`, http.StatusBadRequest)
	s.status("POST", people+"/update", `{"update": {"$set": {"a": 1}, "b": 2}}`, http.StatusBadRequest)
	s.status("POST", people+"/update", `{"update": {"$set": {"a": 1}}, "multi": "yes"}`, http.StatusBadRequest)
	s.status("POST", "/databases/a.b/collections/x/insert", `{"doc": {}}`, http.StatusBadRequest)
}

func TestAPI_duplicateKey(t *testing.T) {
	s := setup(t)
	s.ok("POST", people+"/insert", `{"doc": {"_id": 1}}`)
	s.status("POST", people+"/insert", `{"doc": {"_id": 1}}`, http.StatusConflict)

	s.ok("POST", people+"/indexes", `{"key": {"email": 1}, "unique": true}`)
	s.ok("POST", people+"/insert", `{"doc": {"_id": 2, "email": "a@example.com"}}`)
	s.status("POST", people+"/insert", `{"doc": {"_id": 3, "email": "a@example.com"}}`, http.StatusConflict)
	s.status("POST", people+"/indexes", `{"key": {"other": 1}, "name": "email_1"}`, http.StatusConflict)
}

func TestAPI_indexes(t *testing.T) {
	s := setup(t)
	s.ok("POST", people+"/insert", `{"docs": [{"n": 1, "a": 1, "b": 1}, {"n": 2, "a": 1, "b": 2}]}`)
	resp := s.ok("POST", people+"/indexes", `{"key": {"n": -1}}`)
	deepEqual(t, resp.String(), `{"name": "n_-1"}`)
	resp = s.ok("POST", people+"/indexes", `{"key": {"a": 1, "b": 1}, "name": "ab", "unique": true}`)
	deepEqual(t, resp.String(), `{"name": "ab"}`)

	resp = s.ok("GET", people+"/indexes", ``)
	deepEqual(t, resp.String(), `{"indexes": [`+
		`{"name": "_id_", "key": {"_id": 1}}, `+
		`{"name": "n_-1", "key": {"n": -1}}, `+
		`{"name": "ab", "key": {"a": 1, "b": 1}, "unique": true}]}`)

	resp = s.ok("POST", people+"/explain", `{"query": {"n": 2}}`)
	planner, _ := must2(resp.Get("queryPlanner")).DocumentValue()
	plan, _ := must2(planner.Get("winningPlan")).DocumentValue()
	deepEqual(t, must2(plan.Get("indexName")).String(), `"n_-1"`)

	// both documents lack the field, so both key as null
	s.status("POST", people+"/indexes", `{"key": {"missing": 1}, "unique": true}`, http.StatusConflict)
	ixs, _ := must2(s.ok("GET", people+"/indexes", ``).Get("indexes")).ArrayValue()
	deepEqual(t, len(ixs), 3)

	s.ok("DELETE", people+"/indexes/n_-1", ``)
	s.status("DELETE", people+"/indexes/n_-1", ``, http.StatusNotFound)
	s.status("DELETE", people+"/indexes/_id_", ``, http.StatusConflict)
}

func TestAPI_namespaces(t *testing.T) {
	s := setup(t)
	s.ok("POST", people+"/insert", `{"doc": {"a": 1}}`)
	s.ok("POST", "/databases/app/collections/things/insert", `{"doc": {"a": 1}}`)
	s.ok("POST", "/databases/other/collections/x/insert", `{"doc": {"a": 1}}`)

	resp := s.ok("GET", "/databases", ``)
	dbs, _ := must2(resp.Get("databases")).ArrayValue()
	deepEqual(t, len(dbs), 2)
	first, _ := dbs[0].DocumentValue()
	deepEqual(t, must2(first.Get("name")).String(), `"app"`)
	deepEqual(t, must2(first.Get("objects")).String(), `2`)

	deepEqual(t, s.ok("GET", "/databases/app/collections", ``).String(), `{"collections": ["people", "things"]}`)
	deepEqual(t, must2(s.ok("GET", "/databases/app", ``).Get("collections")).String(), `2`)

	s.ok("DELETE", people, ``)
	deepEqual(t, s.ok("GET", "/databases/app/collections", ``).String(), `{"collections": ["things"]}`)
	s.ok("DELETE", "/databases/other", ``)
	deepEqual(t, s.cat.DatabaseNames(), []string{"app"})
}

func TestAPI_bodyTooLarge(t *testing.T) {
	cat := mongoplay.New(mongoplay.Options{})
	s := &testServer{t, cat, httpapi.New(cat, httpapi.Options{MaxBodySize: 16})}
	s.status("POST", people+"/insert", `{"doc": {"name": "way too long for the limit"}}`, http.StatusRequestEntityTooLarge)
}

func deepEqual[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func must2[T any](v T, ok bool) T {
	if !ok {
		panic("missing value")
	}
	return v
}
