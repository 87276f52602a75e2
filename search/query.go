// Package search models GitHub repository search queries and runs them
// against the GraphQL API, one page at a time.
package search

import (
	"fmt"
	"strings"
)

const (
	argListDelimiter = ", "
	queryDelimiter   = " "
)

// Lang is a language filter understood by the search API.
type Lang string

// Languages the pipeline currently targets.
const (
	LangRust Lang = "Rust"
	LangGo   Lang = "Go"
)

// QuerySegment renders the language filter as a search qualifier.
func (l Lang) QuerySegment() string {
	return "language:" + string(l)
}

// SearchFor is the entity kind a query searches for. It is a closed enum;
// Undefined exists only as the zero value of an unconfigured builder.
type SearchFor string

const (
	SearchForRepository SearchFor = "Repository"
	SearchForUndefined  SearchFor = "Undefined"
)

// typeSegment renders the target for the GraphQL search field. Unknown
// targets are an error, not a panic: SearchFor is a plain string, so a
// query decoded off the wire can carry any value.
func (s SearchFor) typeSegment() (string, error) {
	switch s {
	case SearchForRepository:
		return "REPOSITORY", nil
	default:
		return "", fmt.Errorf("unknown search target %q", string(s))
	}
}

// Query is a complete, validated search query. Construct via NewQuery.
type Query struct {
	SearchFor SearchFor `json:"search_for"`
	Query     *string   `json:"query"`
	Count     uint8     `json:"count"`
	After     *string   `json:"after"`
}

// ArgList renders the query as the argument list of a GraphQL search field,
// e.g. `type: REPOSITORY, first: 10, query: "language:Rust created:..."`.
func (q *Query) ArgList() (string, error) {
	target, err := q.SearchFor.typeSegment()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "type: %s, first: %d", target, q.Count)

	if q.Query != nil {
		b.WriteString(argListDelimiter)
		fmt.Fprintf(&b, "query: %q", *q.Query)
	}

	if q.After != nil {
		b.WriteString(argListDelimiter)
		fmt.Fprintf(&b, "after: %q", *q.After)
	}

	return b.String(), nil
}

// Validate re-checks a query that arrived over the wire instead of through
// the builder.
func (q *Query) Validate() error {
	if _, err := q.SearchFor.typeSegment(); err != nil {
		return err
	}
	if q.Count == 0 || q.Count > 100 {
		return fmt.Errorf("count must be in 1..100, got %d", q.Count)
	}
	return nil
}

// WithAfter returns a copy of the query resuming after the given cursor.
func (q Query) WithAfter(cursor string) Query {
	q.After = &cursor
	return q
}

// IncompleteQuery is a builder for Query.
type IncompleteQuery struct {
	searchFor SearchFor
	query     *string
	count     *uint8
	after     *string
}

// NewQuery starts building a search query.
func NewQuery() *IncompleteQuery {
	return &IncompleteQuery{searchFor: SearchForUndefined}
}

// Clone copies the builder so a base query can be extended per request
// without mutating the original.
func (b *IncompleteQuery) Clone() *IncompleteQuery {
	clone := &IncompleteQuery{searchFor: b.searchFor}
	if b.query != nil {
		query := *b.query
		clone.query = &query
	}
	if b.count != nil {
		count := *b.count
		clone.count = &count
	}
	if b.after != nil {
		after := *b.after
		clone.after = &after
	}
	return clone
}

// RawQuery appends a raw search qualifier. Multiple fragments are joined
// with spaces in the order they were added.
func (b *IncompleteQuery) RawQuery(rawQuery string) *IncompleteQuery {
	if b.query != nil {
		joined := *b.query + queryDelimiter + rawQuery
		b.query = &joined
	} else {
		b.query = &rawQuery
	}
	return b
}

// SearchFor sets the entity kind to search for.
func (b *IncompleteQuery) SearchFor(t SearchFor) *IncompleteQuery {
	b.searchFor = t
	return b
}

// Lang appends a language qualifier.
func (b *IncompleteQuery) Lang(lang Lang) *IncompleteQuery {
	return b.RawQuery(lang.QuerySegment())
}

// Owner appends a user qualifier restricting results to one account.
func (b *IncompleteQuery) Owner(owner string) *IncompleteQuery {
	return b.RawQuery(fmt.Sprintf("user:%s", owner))
}

// Count sets the page size.
func (b *IncompleteQuery) Count(count uint8) *IncompleteQuery {
	b.count = &count
	return b
}

// After sets the pagination cursor.
func (b *IncompleteQuery) After(after string) *IncompleteQuery {
	b.after = &after
	return b
}

// Build validates the query and returns it. The page size defaults to 10
// and must stay within 1..100.
func (b *IncompleteQuery) Build() (Query, error) {
	count := uint8(10)
	if b.count != nil {
		count = *b.count
	}
	if count == 0 || count > 100 {
		return Query{}, fmt.Errorf("count must be in 1..100, got %d", count)
	}
	if b.searchFor == SearchForUndefined || b.searchFor == "" {
		return Query{}, fmt.Errorf("search target is not defined")
	}

	return Query{
		SearchFor: b.searchFor,
		Query:     b.query,
		Count:     count,
		After:     b.after,
	}, nil
}
