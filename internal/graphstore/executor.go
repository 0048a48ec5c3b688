// Package graphstore runs validated queries against the graph database.
package graphstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ziadkadry99/fingraph/internal/query"
	"github.com/ziadkadry99/fingraph/internal/schema"
)

// Record is one result row. Keys and Values are parallel.
type Record struct {
	Keys   []string
	Values []any
}

// Get returns the value for key.
func (r Record) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Result holds rows in the order the store returned them.
type Result struct {
	Records []Record
}

// Len returns the row count.
func (r Result) Len() int { return len(r.Records) }

// Keys returns the column names of the first row.
func (r Result) Keys() []string {
	if len(r.Records) == 0 {
		return nil
	}
	return append([]string(nil), r.Records[0].Keys...)
}

// Executor runs one query in a read-only transaction.
type Executor interface {
	Execute(ctx context.Context, q query.CandidateQuery) (Result, error)
}

// Pinger is implemented by executors that can check store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrorKind classifies an execution failure.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindRejected      ErrorKind = "rejected"
	KindConnectivity  ErrorKind = "connectivity"
	KindPoolExhausted ErrorKind = "pool_exhausted"
	KindUnknown       ErrorKind = "unknown"
)

// ExecutionError reports a failed query. Store errors are never retried.
type ExecutionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("graph query failed (%s)", e.Kind)
	}
	return fmt.Sprintf("graph query failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}

// CountCompaniesQuery checks that the schema's anchor label is populated.
const CountCompaniesQuery = `MATCH (c:Company) RETURN count(c) AS count`

// CountCompanies returns the number of Company nodes. The query goes through
// the same validator as generated ones and is not run when d rejects it.
func CountCompanies(ctx context.Context, e Executor, d *schema.Descriptor) (int64, error) {
	if problems := query.NewValidator(d).Validate(CountCompaniesQuery, nil); len(problems) > 0 {
		return 0, &query.ViolationError{Query: CountCompaniesQuery, Violations: problems}
	}
	res, err := e.Execute(ctx, query.CandidateQuery{TemplateID: "count_companies", Text: CountCompaniesQuery})
	if err != nil {
		return 0, err
	}
	if res.Len() == 0 {
		return 0, nil
	}
	v, _ := res.Records[0].Get("count")
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("unexpected count value %T", v)
}
