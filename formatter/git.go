package formatter

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// commandRunner executes an external command in a directory and returns its
// combined output. Tests substitute a scripted implementation.
type commandRunner interface {
	Run(dir, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(dir, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, err
	}
	return output, nil
}

// GitError wraps a failed git invocation with the command line and whatever
// the command printed.
type GitError struct {
	Command string
	Output  string
	Err     error
}

func (e *GitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, strings.TrimSpace(e.Output))
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Remote is one line of `git remote -v`, fetch and push entries both.
type Remote struct {
	Name string
	URL  string
}

// Branch is one entry of `git branch -a`. Remote is empty for local
// branches.
type Branch struct {
	Remote string
	Name   string
}

// DiffStat is the summary line of a diff.
type DiffStat struct {
	FilesChanged uint64
	LinesAdded   uint64
	LinesRemoved uint64
}

// Git drives the git command line against one working tree. libgit2
// bindings exist but the CLI is the interface that actually behaves.
type Git struct {
	path   string
	runner commandRunner
}

// Clone clones the repository at cloneURL into path.
func Clone(path, cloneURL string) (*Git, error) {
	return cloneWith(execRunner{}, path, cloneURL)
}

func cloneWith(runner commandRunner, path, cloneURL string) (*Git, error) {
	git := &Git{path: path, runner: runner}
	if _, err := git.git("clone", cloneURL, path); err != nil {
		return nil, err
	}
	return git, nil
}

// Open attaches to an existing working tree, verifying git recognizes it.
func Open(path string) (*Git, error) {
	return openWith(execRunner{}, path)
}

func openWith(runner commandRunner, path string) (*Git, error) {
	git := &Git{path: path, runner: runner}
	if _, err := git.git("status"); err != nil {
		return nil, err
	}
	return git, nil
}

func (g *Git) git(args ...string) ([]byte, error) {
	// clone runs outside the tree it is about to create.
	dir := g.path
	if len(args) > 0 && args[0] == "clone" {
		dir = ""
	}
	output, err := g.runner.Run(dir, "git", args...)
	if err != nil {
		return output, &GitError{
			Command: "git " + strings.Join(args, " "),
			Output:  string(output),
			Err:     err,
		}
	}
	return output, nil
}

// Checkout switches to the named branch, creating it when create is set.
func (g *Git) Checkout(branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)
	_, err := g.git(args...)
	return err
}

// Remotes lists the configured remotes, one entry per `git remote -v` line.
func (g *Git) Remotes() ([]Remote, error) {
	output, err := g.git("remote", "-v")
	if err != nil {
		return nil, err
	}

	var remotes []Remote
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			return nil, fmt.Errorf("unparsable remote line %q", scanner.Text())
		}
		remotes = append(remotes, Remote{Name: fields[0], URL: fields[1]})
	}
	return remotes, scanner.Err()
}

// HasRemote reports whether a remote with the given name is configured.
func (g *Git) HasRemote(name string) (bool, error) {
	remotes, err := g.Remotes()
	if err != nil {
		return false, err
	}
	for _, remote := range remotes {
		if remote.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// AddRemote configures a remote. Adding a remote that already exists is a
// no-op.
func (g *Git) AddRemote(name, url string) error {
	exists, err := g.HasRemote(name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = g.git("remote", "add", name, url)
	return err
}

// Fetch fetches from the named remote.
func (g *Git) Fetch(remote string) error {
	_, err := g.git("fetch", remote)
	return err
}

// Merge merges the target ref without opening an editor.
func (g *Git) Merge(target string) error {
	_, err := g.git("merge", target, "--no-edit")
	return err
}

// Reset resets to the target ref, discarding the working tree when hard is
// set.
func (g *Git) Reset(target string, hard bool) error {
	args := []string{"reset"}
	if hard {
		args = append(args, "--hard")
	}
	args = append(args, target)
	_, err := g.git(args...)
	return err
}

// Branches lists local and remote-tracking branches.
func (g *Git) Branches() ([]Branch, error) {
	output, err := g.git("branch", "-a")
	if err != nil {
		return nil, err
	}

	var branches []Branch
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "*"))
		if line == "" || strings.Contains(line, "->") {
			// Symbolic refs like remotes/origin/HEAD carry no branch.
			continue
		}
		if !strings.Contains(line, "/") {
			branches = append(branches, Branch{Name: line})
			continue
		}
		tokens := strings.SplitN(line, "/", 3)
		if len(tokens) < 3 {
			return nil, fmt.Errorf("unparsable branch line %q", scanner.Text())
		}
		branches = append(branches, Branch{Remote: tokens[1], Name: tokens[2]})
	}
	return branches, scanner.Err()
}

// HasBranch reports whether a branch with the given name exists, locally or
// on a remote.
func (g *Git) HasBranch(name string) (bool, error) {
	branches, err := g.Branches()
	if err != nil {
		return false, err
	}
	for _, branch := range branches {
		if branch.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CommitAll commits every tracked change.
func (g *Git) CommitAll(message string) error {
	_, err := g.git("commit", "-a", "-m", message)
	return err
}

// Push pushes the branch to origin, setting the upstream.
func (g *Git) Push(branch string) error {
	_, err := g.git("push", "--set-upstream", "origin", branch)
	return err
}

// DiffStat summarizes the diff over the given revision range.
func (g *Git) DiffStat(revRange string) (DiffStat, error) {
	output, err := g.git("diff", "--shortstat", revRange)
	if err != nil {
		return DiffStat{}, err
	}
	return parseShortStat(string(output))
}

// parseShortStat parses git's summary line, e.g.
// ` 3 files changed, 10 insertions(+), 2 deletions(-)`. An empty diff
// produces no output at all.
func parseShortStat(line string) (DiffStat, error) {
	var stat DiffStat
	line = strings.TrimSpace(line)
	if line == "" {
		return stat, nil
	}

	for _, part := range strings.Split(line, ",") {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			return stat, fmt.Errorf("unparsable diff stat segment %q", part)
		}
		count, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return stat, fmt.Errorf("unparsable diff stat segment %q: %w", part, err)
		}
		switch {
		case strings.HasPrefix(fields[1], "file"):
			stat.FilesChanged = count
		case strings.HasPrefix(fields[1], "insertion"):
			stat.LinesAdded = count
		case strings.HasPrefix(fields[1], "deletion"):
			stat.LinesRemoved = count
		default:
			return stat, fmt.Errorf("unparsable diff stat segment %q", part)
		}
	}
	return stat, nil
}
