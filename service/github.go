// Package service holds the per-stage message handlers: the github worker
// executing remote API requests, and the small translators gluing the
// event stream back into requests.
package service

import (
	"encoding/json"
	"fmt"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/github"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/search"
	"github.com/rustyrobot/rustyrobot/shutdown"
	"github.com/rustyrobot/rustyrobot/types"
)

// Forge is the REST surface the worker drives.
type Forge interface {
	Fork(owner, name string) (types.Repository, error)
	Delete(owner, name string) error
	CreatePullRequest(owner, name string, pr github.NewPullRequest) (github.PullRequest, error)
	PullRequestsByHead(owner, name, headOwner, branch string) ([]github.PullRequest, error)
	PullRequestByNumber(owner, name string, number int64) (github.PullRequest, error)
	Notifications() (json.RawMessage, error)
}

// Counters is the slice of the state store the worker counts into.
type Counters interface {
	Increment(key string)
	Sync() error
}

// GithubWorker executes requests from the request topic against the remote
// API and publishes the resulting events.
type GithubWorker struct {
	searcher search.Querier
	forge    Forge
	state    Counters
	sd       *shutdown.Handle
}

// NewGithubWorker assembles a worker over the GraphQL and REST clients.
func NewGithubWorker(searcher search.Querier, forge Forge, state Counters, sd *shutdown.Handle) *GithubWorker {
	return &GithubWorker{
		searcher: searcher,
		forge:    forge,
		state:    state,
		sd:       sd,
	}
}

// Handler dispatches one request to the matching operation.
func (w *GithubWorker) Handler() kafka.Handler[kafka.Request, kafka.Event] {
	return func(req kafka.Request, emit func(kafka.Event)) *kafka.HandlerError {
		w.count("requests received")

		var err *kafka.HandlerError
		switch {
		case req.Fetch != nil:
			err = w.fetch(*req.Fetch, emit)
		case req.Fork != nil:
			err = w.fork(*req.Fork, emit)
		case req.DeleteFork != nil:
			err = w.deleteFork(*req.DeleteFork, emit)
		case req.CreatePR != nil:
			err = w.createPR(*req.CreatePR, emit)
		case req.CheckPRStatus != nil:
			err = w.checkPRStatus(*req.CheckPRStatus, emit)
		case req.FetchNotifications:
			err = w.fetchNotifications()
		default:
			err = kafka.OtherError(fmt.Errorf("request carries no variant"))
		}
		if err != nil {
			return err
		}

		w.count("requests handled")
		return nil
	}
}

// count bumps a state counter and syncs. A failed sync is logged, not
// fatal; the counter survives in memory until the next successful sync.
func (w *GithubWorker) count(key string) {
	w.state.Increment(key)
	if err := w.state.Sync(); err != nil {
		eve.Logger.WithError(err).Error("failed to sync state")
	}
}

// fetch pages through the search results and emits one RepositoryFetched
// per node. Search failures are internal: the query must not be lost, the
// fetcher will not re-request the window.
func (w *GithubWorker) fetch(query search.Query, emit func(kafka.Event)) *kafka.HandlerError {
	w.count("repository fetch requests received")

	// A malformed query is scoped to this request: commit and skip it
	// instead of crash-looping on redelivery.
	if err := query.Validate(); err != nil {
		return kafka.OtherError(fmt.Errorf("rejecting fetch request: %w", err))
	}

	for !w.sd.ShouldShutdown() {
		result, err := search.Search(w.searcher, query)
		if err != nil {
			return kafka.InternalError(err)
		}

		for _, node := range result.Nodes {
			repo, err := types.RepositoryFromJSON(node)
			if err != nil {
				return kafka.InternalError(fmt.Errorf("failed to decode search node: %w", err))
			}
			w.count("repositories fetched")
			emit(kafka.Event{RepositoryFetched: &repo})
		}

		if !result.PageInfo.HasNextPage || result.PageInfo.EndCursor == nil {
			break
		}
		query = query.WithAfter(*result.PageInfo.EndCursor)
	}

	w.count("repository fetch requests handled")
	return nil
}

// fork forks the repository and emits RepositoryForked. The fork keeps a
// parent pointer even when the API response omits it.
func (w *GithubWorker) fork(source types.Repository, emit func(kafka.Event)) *kafka.HandlerError {
	owner, name, err := ownerAndName(&source)
	if err != nil {
		return kafka.OtherError(err)
	}

	fork, err := w.forge.Fork(owner, name)
	if err != nil {
		return kafka.OtherError(fmt.Errorf("failed to fork %s: %w", source.NameWithOwner, err))
	}

	if fork.Parent == nil {
		fork.Parent = &types.RepositoryParent{
			NameWithOwner: source.NameWithOwner,
			SSHURL:        source.SSHURL,
			URL:           source.URL,
		}
	}

	emit(kafka.Event{RepositoryForked: &fork})
	return nil
}

// deleteFork removes a fork. Deletion is destructive, a failure here is a
// service problem and the request must be redelivered.
func (w *GithubWorker) deleteFork(repo types.Repository, emit func(kafka.Event)) *kafka.HandlerError {
	owner, name, err := ownerAndName(&repo)
	if err != nil {
		return kafka.OtherError(err)
	}

	if err := w.forge.Delete(owner, name); err != nil {
		return kafka.InternalError(fmt.Errorf("failed to delete %s: %w", repo.NameWithOwner, err))
	}

	emit(kafka.Event{ForkDeleted: &repo})
	return nil
}

// createPR opens a pull request from the fork's working branch against the
// parent. When a pull request with the same head already exists it is
// adopted instead of duplicated; PRCreated is emitted only when the stats
// gained a record.
func (w *GithubWorker) createPR(request kafka.CreatePR, emit func(kafka.Event)) *kafka.HandlerError {
	repo := request.Repo
	if repo.Parent == nil {
		return kafka.OtherError(fmt.Errorf("repository %s has no parent to open a pull request against", repo.NameWithOwner))
	}

	parentOwner, parentName, err := splitOwner(repo.Parent.NameWithOwner)
	if err != nil {
		return kafka.OtherError(err)
	}
	forkOwner, err := repo.Owner()
	if err != nil {
		return kafka.OtherError(err)
	}

	existing, err := w.forge.PullRequestsByHead(parentOwner, parentName, forkOwner, request.Branch)
	if err != nil {
		return kafka.OtherError(fmt.Errorf("failed to list pull requests for %s: %w", repo.Parent.NameWithOwner, err))
	}

	prs := existing
	if len(prs) == 0 {
		created, err := w.forge.CreatePullRequest(parentOwner, parentName, github.NewPullRequest{
			Title: request.Title,
			Head:  forkOwner + ":" + request.Branch,
			Base:  repo.DefaultBranch,
			Body:  request.Message,
		})
		if err != nil {
			return kafka.OtherError(fmt.Errorf("failed to open pull request against %s: %w", repo.Parent.NameWithOwner, err))
		}
		eve.Logger.WithFields(map[string]interface{}{
			"repo":   repo.Parent.NameWithOwner,
			"number": created.Number,
		}).Info("opened pull request")
		prs = []github.PullRequest{created}
	} else {
		eve.Logger.WithField("repo", repo.Parent.NameWithOwner).Info("pull request already exists, adopting")
	}

	stats := repo.EnsureStats()
	recorded := false
	for _, pr := range prs {
		if stats.HasPR(pr.Number) {
			continue
		}
		status, err := pr.Status()
		if err != nil {
			return kafka.OtherError(err)
		}
		stats.PRs = append(stats.PRs, types.PR{
			Title:  pr.Title,
			Number: pr.Number,
			Status: status,
		})
		recorded = true
	}

	if recorded {
		emit(kafka.Event{PRCreated: &repo})
	}
	return nil
}

// checkPRStatus polls every tracked pull request and emits PRStatusChange
// for each one whose review state moved.
func (w *GithubWorker) checkPRStatus(repo types.Repository, emit func(kafka.Event)) *kafka.HandlerError {
	if repo.Stats == nil || len(repo.Stats.PRs) == 0 {
		eve.Logger.WithField("repo", repo.NameWithOwner).Debug("no tracked pull requests")
		return nil
	}
	if repo.Parent == nil {
		return kafka.OtherError(fmt.Errorf("repository %s has tracked pull requests but no parent", repo.NameWithOwner))
	}

	parentOwner, parentName, err := splitOwner(repo.Parent.NameWithOwner)
	if err != nil {
		return kafka.OtherError(err)
	}

	for idx, tracked := range repo.Stats.PRs {
		remote, err := w.forge.PullRequestByNumber(parentOwner, parentName, tracked.Number)
		if err != nil {
			return kafka.OtherError(fmt.Errorf("failed to check pull request #%d on %s: %w", tracked.Number, repo.Parent.NameWithOwner, err))
		}
		status, err := remote.Status()
		if err != nil {
			return kafka.OtherError(err)
		}
		if status == tracked.Status {
			continue
		}

		repo.Stats.PRs[idx].Status = status
		change := kafka.PRStatusChange{Repo: repo, PR: repo.Stats.PRs[idx]}
		emit(kafka.Event{PRStatusChange: &change})
	}
	return nil
}

// fetchNotifications pulls the notification feed. Turning notifications
// into events is not implemented yet; the payload is only logged.
// TODO: map review comment notifications onto PRStatusChange events.
func (w *GithubWorker) fetchNotifications() *kafka.HandlerError {
	payload, err := w.forge.Notifications()
	if err != nil {
		return kafka.OtherError(fmt.Errorf("failed to fetch notifications: %w", err))
	}
	eve.Logger.WithField("bytes", len(payload)).Info("fetched notifications")
	return nil
}

func ownerAndName(repo *types.Repository) (string, string, error) {
	owner, err := repo.Owner()
	if err != nil {
		return "", "", err
	}
	name, err := repo.Name()
	if err != nil {
		return "", "", err
	}
	return owner, name, nil
}

func splitOwner(nameWithOwner string) (string, string, error) {
	repo := types.Repository{NameWithOwner: nameWithOwner}
	return ownerAndName(&repo)
}
