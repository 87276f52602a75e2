// Package formatter turns forked repositories into formatted working
// branches. It clones the fork, syncs it with its upstream, runs the
// format tool in every discovered project root, commits on the working
// branch and pushes, attaching the diff summary to the repository stats.
package formatter

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/types"
)

// WorkingBranch is where the pipeline accumulates formatting changes.
const WorkingBranch = "rustyrobot_suggested_formatting"

const (
	upstreamRemote = "upstream"
	commitMessage  = "rustyrobot formatting"
)

// Formatter applies the format tool to one repository at a time.
type Formatter struct {
	// Tool is the command run in each project root, cargo fmt by default.
	Tool []string

	// ProjectFile marks a directory as a project root during discovery.
	ProjectFile string

	// WorkDir is where clones are placed. Empty means the system temp dir.
	WorkDir string

	runner commandRunner
	clone  func(runner commandRunner, path, cloneURL string) (*Git, error)
}

// New creates a formatter with the default tool chain.
func New() *Formatter {
	return &Formatter{
		Tool:        []string{"cargo", "fmt"},
		ProjectFile: "Cargo.toml",
		runner:      execRunner{},
		clone:       cloneWith,
	}
}

// Handler adapts the formatter to the event stream: every RepositoryForked
// event produces a RepositoryFormatted one, everything else passes by.
func (f *Formatter) Handler() kafka.Handler[kafka.Event, kafka.Event] {
	return func(event kafka.Event, emit func(kafka.Event)) *kafka.HandlerError {
		if event.RepositoryForked == nil {
			return nil
		}
		formatted, err := f.Format(*event.RepositoryForked)
		if err != nil {
			return err
		}
		emit(kafka.Event{RepositoryFormatted: &formatted})
		return nil
	}
}

// Format clones the fork, formats it and pushes the working branch,
// returning the repository with format stats attached. Failures scoped to
// the repository are reported as other errors so one broken repository
// does not stall the stage.
func (f *Formatter) Format(repo types.Repository) (types.Repository, *kafka.HandlerError) {
	if repo.Parent == nil {
		return repo, kafka.OtherError(fmt.Errorf("repository %s has no parent to sync with", repo.NameWithOwner))
	}

	path, err := os.MkdirTemp(f.WorkDir, strings.ReplaceAll(repo.NameWithOwner, "/", "_")+"-*")
	if err != nil {
		return repo, kafka.InternalError(fmt.Errorf("failed to create working directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(path); err != nil {
			eve.Logger.WithError(err).Error("failed to remove working directory")
		}
	}()

	log := eve.Logger.WithField("repo", repo.NameWithOwner)

	log.Debug("cloning fork")
	git, err := f.clone(f.runner, path, repo.SSHURL)
	if err != nil {
		return repo, kafka.OtherError(err)
	}

	if err := f.syncWithUpstream(git, &repo); err != nil {
		return repo, kafka.OtherError(err)
	}
	log.WithField("upstream", repo.Parent.NameWithOwner).Info("synced fork with upstream")

	if err := f.checkoutWorkingBranch(git, &repo); err != nil {
		return repo, kafka.OtherError(err)
	}

	log.Info("running format tool")
	roots, err := f.projectRoots(path)
	if err != nil {
		return repo, kafka.OtherError(err)
	}
	for _, root := range roots {
		if err := f.formatProject(root); err != nil {
			return repo, kafka.OtherError(err)
		}
	}

	if err := git.CommitAll(commitMessage); err != nil {
		return repo, kafka.OtherError(err)
	}

	stat, err := git.DiffStat("HEAD~1..HEAD")
	if err != nil {
		return repo, kafka.OtherError(err)
	}
	log.WithFields(map[string]interface{}{
		"files_changed": stat.FilesChanged,
		"lines_added":   stat.LinesAdded,
		"lines_removed": stat.LinesRemoved,
	}).Info("committed formatting changes")

	repo.EnsureStats().Format = &types.FormatStats{
		FilesChanged: stat.FilesChanged,
		LinesAdded:   stat.LinesAdded,
		LinesRemoved: stat.LinesRemoved,
		Branch:       WorkingBranch,
	}

	if err := git.Push(WorkingBranch); err != nil {
		return repo, kafka.OtherError(err)
	}
	log.Info("pushed working branch")

	return repo, nil
}

// syncWithUpstream merges the upstream default branch into the fork and
// pushes, so the working branch forks off a current base.
func (f *Formatter) syncWithUpstream(git *Git, repo *types.Repository) error {
	if err := git.Checkout(repo.DefaultBranch, false); err != nil {
		return err
	}
	if err := git.AddRemote(upstreamRemote, repo.Parent.SSHURL); err != nil {
		return err
	}
	if err := git.Fetch(upstreamRemote); err != nil {
		return err
	}
	if err := git.Merge(upstreamRemote + "/" + repo.DefaultBranch); err != nil {
		return err
	}
	return git.Push(repo.DefaultBranch)
}

// checkoutWorkingBranch puts the tree on the working branch. When the
// branch survives from an earlier run the previous formatting commit is
// dropped and the branch is re-merged with the default branch, so the new
// run replaces the old suggestion instead of stacking on it.
func (f *Formatter) checkoutWorkingBranch(git *Git, repo *types.Repository) error {
	exists, err := git.HasBranch(WorkingBranch)
	if err != nil {
		return err
	}

	if !exists {
		eve.Logger.WithField("repo", repo.NameWithOwner).Info("creating working branch")
		return git.Checkout(WorkingBranch, true)
	}

	eve.Logger.WithField("repo", repo.NameWithOwner).Info("working branch exists, reverting previous run")
	if err := git.Checkout(WorkingBranch, false); err != nil {
		return err
	}
	if err := git.Reset("HEAD~1", true); err != nil {
		return err
	}
	return git.Merge(repo.DefaultBranch)
}

// projectRoots finds the directories holding a project file. Once a root
// is found its subtree is not descended into, nested workspace members are
// covered by the tool run at the root.
func (f *Formatter) projectRoots(root string) ([]string, error) {
	var roots []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if entry.Name() == ".git" {
			return filepath.SkipDir
		}
		if _, err := os.Stat(filepath.Join(path, f.ProjectFile)); err == nil {
			roots = append(roots, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover project roots: %w", err)
	}
	return roots, nil
}

func (f *Formatter) formatProject(dir string) error {
	if len(f.Tool) == 0 {
		return fmt.Errorf("no format tool configured")
	}
	output, err := f.runner.Run(dir, f.Tool[0], f.Tool[1:]...)
	if err != nil {
		return fmt.Errorf("failed to format %s: %w: %s", dir, err, strings.TrimSpace(string(output)))
	}
	return nil
}
