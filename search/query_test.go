package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaultsCountToTen(t *testing.T) {
	q, err := NewQuery().SearchFor(SearchForRepository).Build()
	require.NoError(t, err)
	assert.Equal(t, uint8(10), q.Count)
	assert.Equal(t, SearchForRepository, q.SearchFor)
	assert.Nil(t, q.Query)
	assert.Nil(t, q.After)
}

func TestBuildRejectsBadCounts(t *testing.T) {
	tests := []struct {
		name  string
		count uint8
		ok    bool
	}{
		{name: "zero", count: 0},
		{name: "one", count: 1, ok: true},
		{name: "hundred", count: 100, ok: true},
		{name: "over hundred", count: 101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQuery().SearchFor(SearchForRepository).Count(tt.count).Build()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBuildRejectsUndefinedTarget(t *testing.T) {
	_, err := NewQuery().Lang(LangRust).Build()
	assert.Error(t, err)
}

func TestRawQueryFragmentsJoinWithSpaces(t *testing.T) {
	q, err := NewQuery().
		SearchFor(SearchForRepository).
		Lang(LangRust).
		RawQuery("created:2018-01-01..2018-01-02").
		Build()
	require.NoError(t, err)
	require.NotNil(t, q.Query)
	assert.Equal(t, "language:Rust created:2018-01-01..2018-01-02", *q.Query)
}

func TestOwnerQualifier(t *testing.T) {
	q, err := NewQuery().SearchFor(SearchForRepository).Owner("rustyrobot").Build()
	require.NoError(t, err)
	require.NotNil(t, q.Query)
	assert.Equal(t, "user:rustyrobot", *q.Query)
}

func TestArgList(t *testing.T) {
	q, err := NewQuery().
		SearchFor(SearchForRepository).
		Lang(LangRust).
		Count(25).
		Build()
	require.NoError(t, err)

	args, err := q.ArgList()
	require.NoError(t, err)
	assert.Equal(t, `type: REPOSITORY, first: 25, query: "language:Rust"`, args)

	withCursor := q.WithAfter("Y3Vyc29yOjEw")
	args, err = withCursor.ArgList()
	require.NoError(t, err)
	assert.Equal(t,
		`type: REPOSITORY, first: 25, query: "language:Rust", after: "Y3Vyc29yOjEw"`,
		args)
	// The source query is unchanged.
	assert.Nil(t, q.After)
}

func TestArgListRejectsUnknownTarget(t *testing.T) {
	q := Query{SearchFor: "Bogus", Count: 10}
	_, err := q.ArgList()
	assert.ErrorContains(t, err, "Bogus")
}

func TestValidateChecksWireQueries(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		ok    bool
	}{
		{name: "valid", query: Query{SearchFor: SearchForRepository, Count: 10}, ok: true},
		{name: "unknown target", query: Query{SearchFor: "Bogus", Count: 10}},
		{name: "undefined target", query: Query{SearchFor: SearchForUndefined, Count: 10}},
		{name: "zero count", query: Query{SearchFor: SearchForRepository}},
		{name: "oversized count", query: Query{SearchFor: SearchForRepository, Count: 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
