// Package types defines the entities exchanged between rustyrobot stages.
//
// The canonical Repository shape travels inside bus messages and the state
// store. GitHub's REST (v3) and GraphQL (v4) APIs describe repositories with
// different field names; both shapes project into the canonical one so the
// rest of the pipeline never sees API-specific structures.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Repository is the canonical repository entity used across the pipeline.
type Repository struct {
	ID               string            `json:"id"`
	NameWithOwner    string            `json:"name_with_owner"`
	Description      *string           `json:"description"`
	SSHURL           string            `json:"ssh_url"`
	URL              string            `json:"url"`
	DefaultBranch    string            `json:"default_branch"`
	CreatedAt        time.Time         `json:"created_at"`
	Parent           *RepositoryParent `json:"parent"`
	HasIssuesEnabled bool              `json:"has_issues_enabled"`
	IsFork           bool              `json:"is_fork"`
	Stats            *Stats            `json:"stats"`
}

// Owner returns the account part of NameWithOwner.
func (r *Repository) Owner() (string, error) {
	owner, _, err := splitNameWithOwner(r.NameWithOwner)
	return owner, err
}

// Name returns the repository part of NameWithOwner.
func (r *Repository) Name() (string, error) {
	_, name, err := splitNameWithOwner(r.NameWithOwner)
	return name, err
}

// EnsureStats returns the repository's stats, allocating them on first use.
func (r *Repository) EnsureStats() *Stats {
	if r.Stats == nil {
		r.Stats = &Stats{Aux: map[string]json.RawMessage{}}
	}
	if r.Stats.Aux == nil {
		r.Stats.Aux = map[string]json.RawMessage{}
	}
	return r.Stats
}

func splitNameWithOwner(nameWithOwner string) (string, string, error) {
	parts := strings.SplitN(nameWithOwner, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed name_with_owner %q", nameWithOwner)
	}
	return parts[0], parts[1], nil
}

// RepositoryParent identifies the upstream of a fork.
type RepositoryParent struct {
	NameWithOwner string `json:"name_with_owner"`
	SSHURL        string `json:"ssh_url"`
	URL           string `json:"url"`
}

// Stats accumulates per-repository pipeline results.
type Stats struct {
	Format *FormatStats               `json:"format"`
	Fix    *FixStats                  `json:"fix"`
	PRs    []PR                       `json:"prs"`
	Aux    map[string]json.RawMessage `json:"aux"`
}

// HasPR reports whether a pull request with the given number is tracked.
func (s *Stats) HasPR(number int64) bool {
	for _, pr := range s.PRs {
		if pr.Number == number {
			return true
		}
	}
	return false
}

// PR tracks one pull request opened by the pipeline.
type PR struct {
	Title  string   `json:"title"`
	Number int64    `json:"number"`
	Status PRStatus `json:"status"`
}

// PRStatus is the review state of a pull request.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "Open"
	PRStatusMerged PRStatus = "Merged"
	PRStatusClosed PRStatus = "Closed"
)

// ParsePRStatus maps an API state string onto a PRStatus, case-insensitively.
func ParsePRStatus(from string) (PRStatus, error) {
	switch strings.ToLower(from) {
	case "open":
		return PRStatusOpen, nil
	case "merged":
		return PRStatusMerged, nil
	case "closed":
		return PRStatusClosed, nil
	default:
		return "", fmt.Errorf("couldn't parse %q as a pull request status", from)
	}
}

// FormatStats summarizes a formatter run.
type FormatStats struct {
	FilesChanged uint64 `json:"files_changed"`
	LinesAdded   uint64 `json:"lines_added"`
	LinesRemoved uint64 `json:"lines_removed"`
	Branch       string `json:"branch"`
}

// FixStats summarizes a lint-fix run.
type FixStats struct {
	FilesChanged uint64   `json:"files_changed"`
	LinesAdded   uint64   `json:"lines_added"`
	LinesRemoved uint64   `json:"lines_removed"`
	ErrCnt       uint64   `json:"err_cnt"`
	WarnCnt      uint64   `json:"warn_cnt"`
	ErrFixed     uint64   `json:"err_fixed"`
	WarnFixed    uint64   `json:"warn_fixed"`
	FixedLints   []string `json:"fixed_lints"`
	Branch       string   `json:"branch"`
}

// V4Repository is the GraphQL API projection of a repository.
type V4Repository struct {
	ID               string            `json:"id"`
	NameWithOwner    string            `json:"nameWithOwner"`
	Description      *string           `json:"description"`
	SSHURL           string            `json:"sshUrl"`
	URL              string            `json:"url"`
	DefaultBranchRef V4BranchRef       `json:"defaultBranchRef"`
	CreatedAt        time.Time         `json:"createdAt"`
	Parent           *V4ParentRef      `json:"parent"`
	HasIssuesEnabled bool              `json:"hasIssuesEnabled"`
	IsFork           bool              `json:"isFork"`
}

// V4BranchRef carries the name of a branch reference.
type V4BranchRef struct {
	Name string `json:"name"`
}

// V4ParentRef is the GraphQL projection of a fork's upstream.
type V4ParentRef struct {
	NameWithOwner string `json:"nameWithOwner"`
	SSHURL        string `json:"sshUrl"`
	URL           string `json:"url"`
}

// Canonical converts the v4 shape into the canonical Repository.
func (v4 V4Repository) Canonical() Repository {
	var parent *RepositoryParent
	if v4.Parent != nil {
		parent = &RepositoryParent{
			NameWithOwner: v4.Parent.NameWithOwner,
			SSHURL:        v4.Parent.SSHURL,
			URL:           v4.Parent.URL,
		}
	}
	return Repository{
		ID:               v4.ID,
		NameWithOwner:    v4.NameWithOwner,
		Description:      v4.Description,
		SSHURL:           v4.SSHURL,
		URL:              v4.URL,
		DefaultBranch:    v4.DefaultBranchRef.Name,
		CreatedAt:        v4.CreatedAt,
		Parent:           parent,
		HasIssuesEnabled: v4.HasIssuesEnabled,
		IsFork:           v4.IsFork,
	}
}

// V3Repository is the REST API projection of a repository.
type V3Repository struct {
	ID            int64      `json:"id"`
	FullName      string     `json:"full_name"`
	Description   *string    `json:"description"`
	SSHURL        string     `json:"ssh_url"`
	HTMLURL       string     `json:"html_url"`
	DefaultBranch string     `json:"default_branch"`
	CreatedAt     time.Time  `json:"created_at"`
	Parent        *V3Parent  `json:"parent"`
	HasIssues     bool       `json:"has_issues"`
	Fork          bool       `json:"fork"`
}

// V3Parent is the REST projection of a fork's upstream.
type V3Parent struct {
	FullName string `json:"full_name"`
	SSHURL   string `json:"ssh_url"`
	HTMLURL  string `json:"html_url"`
}

// Canonical converts the v3 shape into the canonical Repository. The numeric
// REST id is carried over as its decimal string.
func (v3 V3Repository) Canonical() Repository {
	var parent *RepositoryParent
	if v3.Parent != nil {
		parent = &RepositoryParent{
			NameWithOwner: v3.Parent.FullName,
			SSHURL:        v3.Parent.SSHURL,
			URL:           v3.Parent.HTMLURL,
		}
	}
	return Repository{
		ID:               strconv.FormatInt(v3.ID, 10),
		NameWithOwner:    v3.FullName,
		Description:      v3.Description,
		SSHURL:           v3.SSHURL,
		URL:              v3.HTMLURL,
		DefaultBranch:    v3.DefaultBranch,
		CreatedAt:        v3.CreatedAt,
		Parent:           parent,
		HasIssuesEnabled: v3.HasIssues,
		IsFork:           v3.Fork,
	}
}

// RepositoryFromJSON decodes a repository in either API shape, trying v4
// first and falling back to v3.
func RepositoryFromJSON(raw json.RawMessage) (Repository, error) {
	var v4 V4Repository
	if err := json.Unmarshal(raw, &v4); err == nil && v4.NameWithOwner != "" {
		return v4.Canonical(), nil
	}

	var v3 V3Repository
	if err := json.Unmarshal(raw, &v3); err == nil && v3.FullName != "" {
		return v3.Canonical(), nil
	}

	return Repository{}, fmt.Errorf("failed to decode repository: neither v4 nor v3 shape")
}
