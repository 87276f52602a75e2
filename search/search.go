package search

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	eve "github.com/rustyrobot/rustyrobot/common"
)

// Querier runs a raw GraphQL query and returns the full response document.
type Querier interface {
	Query(description, query string) (json.RawMessage, error)
}

// PageInfo carries the pagination cursor of a search page.
type PageInfo struct {
	EndCursor   *string `json:"endCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// Result is one page of search results. Nodes are left raw so the caller
// decides which repository projection to decode them with.
type Result struct {
	PageInfo        PageInfo          `json:"pageInfo"`
	RepositoryCount uint64            `json:"repositoryCount"`
	Nodes           []json.RawMessage `json:"nodes"`
}

const repoQueryTemplate = `
query {
	search($ARGS$) {
		pageInfo {
			endCursor
			hasNextPage
		}
		repositoryCount
		nodes {
			... on Repository {
				id
				nameWithOwner
				description
				sshUrl
				url
				defaultBranchRef {
					name
				}
				createdAt
				parent {
					nameWithOwner
					sshUrl
					url
				}
				hasIssuesEnabled
				isFork
			}
		}
	}
}`

type searchEnvelope struct {
	Data struct {
		Search Result `json:"search"`
	} `json:"data"`
}

// Search runs one page of the repository search described by query.
func Search(gh Querier, query Query) (Result, error) {
	eve.Logger.WithField("query", query).Info("performing search")

	args, err := query.ArgList()
	if err != nil {
		return Result{}, fmt.Errorf("failed to render search query: %w", err)
	}
	doc := strings.Replace(uglify(repoQueryTemplate), "$ARGS$", args, 1)

	eve.Logger.WithField("graphql", doc).Debug("search query document")

	raw, err := gh.Query("search", doc)
	if err != nil {
		return Result{}, fmt.Errorf("failed to run search query: %w", err)
	}

	var envelope searchEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Result{}, fmt.Errorf("failed to decode search response: %w", err)
	}

	return envelope.Data.Search, nil
}

// uglify collapses a readable query template onto a single line.
func uglify(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	scanner := bufio.NewScanner(strings.NewReader(query))
	for scanner.Scan() {
		b.WriteString(strings.TrimSpace(scanner.Text()))
		b.WriteString(" ")
	}
	return b.String()
}
