// Package graph executes declarative resource queries across large
// subscription sets, handling batching, pagination, and retry.
package graph

import (
	"context"
	"fmt"
	"time"
)

// QueryClient is the surface the executor needs from the resource graph
// service. One call returns one page; callers follow the skip token.
type QueryClient interface {
	Query(ctx context.Context, req Request) (Page, error)
}

// Request is a single page-sized query against a set of subscriptions.
// PageSize zero leaves the page size to the service.
type Request struct {
	Query           string
	SubscriptionIDs []string
	SkipToken       string
	PageSize        int
}

// Page is one page of query results. An empty SkipToken means the page
// is the last one.
type Page struct {
	Rows         []Row
	SkipToken    string
	TotalRecords int64
}

// Row is a single query result row as returned by the object-array
// result format. Values hold JSON-decoded types.
type Row map[string]any

// String returns the value at key when it is a string, otherwise "".
func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Float64 returns the numeric value at key. JSON numbers decode as
// float64 but some SDK paths surface integers.
func (r Row) Float64(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	}
	return 0
}

// Int returns the numeric value at key truncated to an int.
func (r Row) Int(key string) int {
	return int(r.Float64(key))
}

// Tags flattens the row's tags object into a string map. Azure returns
// null for untagged resources; non-string tag values are stringified.
func (r Row) Tags() map[string]string {
	obj, ok := r["tags"].(map[string]any)
	if !ok {
		return nil
	}
	tags := make(map[string]string, len(obj))
	for k, v := range obj {
		switch s := v.(type) {
		case string:
			tags[k] = s
		case nil:
		default:
			tags[k] = fmt.Sprint(s)
		}
	}
	return tags
}

// Time parses the RFC 3339 timestamp at key. The second return is false
// when the field is absent, empty, or unparseable.
func (r Row) Time(key string) (time.Time, bool) {
	s, ok := r[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
