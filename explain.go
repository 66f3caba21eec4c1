package mongoplay

import (
	"time"
)

// Explanation describes how a query was executed.
type Explanation struct {
	Namespace    string
	Plan         string // COLLSCAN or IXSCAN
	Index        string
	Bounds       string
	Query        *Document
	Filter       string
	DocsExamined int
	KeysExamined int
	NReturned    int
	Duration     time.Duration
}

// Explain runs the query, honoring sort, skip and limit, and reports the
// chosen plan with execution counts.
func (cur *Cursor) Explain() (*Explanation, error) {
	if cur.err != nil {
		return nil, cur.err
	}
	_, ex, err := cur.evaluate(true)
	if err != nil {
		return nil, err
	}
	e := &Explanation{
		Namespace:    cur.coll.FullName(),
		Plan:         ex.plan.name(),
		Query:        cur.query.Document(),
		Filter:       cur.query.String(),
		DocsExamined: ex.stats.docsExamined,
		KeysExamined: ex.stats.keysExamined,
		NReturned:    ex.returned,
		Duration:     ex.elapsed,
	}
	if ex.plan.index != nil {
		e.Index = ex.plan.index.spec.Name
		e.Bounds = ex.plan.rang.String()
	}
	return e, nil
}

// Document renders the explanation in the shape of a server explain reply.
func (e *Explanation) Document() *Document {
	winning := MustDocument("stage", e.Plan)
	if e.Index != "" {
		winning.SetValue("indexName", String(e.Index))
		winning.SetValue("indexBounds", String(e.Bounds))
	}
	planner := MustDocument(
		"namespace", e.Namespace,
		"parsedQuery", DocumentValue(e.Query),
		"winningPlan", DocumentValue(winning),
	)
	stats := MustDocument(
		"nReturned", e.NReturned,
		"totalKeysExamined", e.KeysExamined,
		"totalDocsExamined", e.DocsExamined,
		"executionTimeMillis", e.Duration.Milliseconds(),
	)
	return MustDocument(
		"queryPlanner", DocumentValue(planner),
		"executionStats", DocumentValue(stats),
	)
}
