package gitsync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DylanDDeng/notely-sub000/internal/gitcmd"
	"github.com/DylanDDeng/notely-sub000/internal/history"
)

const (
	remoteName = "origin"

	// notesPathspec matches Markdown files in the vault root only.
	notesPathspec = ":(glob)*.md"
)

func (e *Engine) runChecked(ctx context.Context, dir string, args ...string) (gitcmd.Result, error) {
	return e.git.Run(ctx, dir, args, gitcmd.Options{Check: true})
}

// initRepo creates a repository whose unborn branch is already named branch.
func (e *Engine) initRepo(ctx context.Context, dir, branch string) error {
	if _, err := e.runChecked(ctx, dir, "init"); err != nil {
		return err
	}
	_, err := e.runChecked(ctx, dir, "symbolic-ref", "HEAD", "refs/heads/"+branch)
	return err
}

// ensureGitignore keeps the history directory out of version control.
func ensureGitignore(dir string) error {
	path := filepath.Join(dir, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("gitsync: read .gitignore: %w", err)
	}

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		switch strings.TrimSpace(sc.Text()) {
		case history.Dir, history.Dir + "/", "/" + history.Dir, "/" + history.Dir + "/":
			return nil
		}
	}

	var b strings.Builder
	b.Write(data)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(history.Dir + "/\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("gitsync: write .gitignore: %w", err)
	}
	return nil
}

// ensureOrigin points the origin remote at url, creating it if needed.
func (e *Engine) ensureOrigin(ctx context.Context, dir, url string) error {
	res, err := e.git.Run(ctx, dir, []string{"remote", "get-url", remoteName}, gitcmd.Options{})
	if err != nil {
		return err
	}
	switch {
	case res.ExitCode != 0:
		_, err = e.runChecked(ctx, dir, "remote", "add", remoteName, url)
	case strings.TrimSpace(res.Stdout) != url:
		_, err = e.runChecked(ctx, dir, "remote", "set-url", remoteName, url)
	}
	return err
}

// remoteHeads lists branch heads on origin. The probe doubles as the
// reachability and authentication check.
func (e *Engine) remoteHeads(ctx context.Context, dir, token string, refs ...string) ([]string, error) {
	ctx, cancel := e.network(ctx)
	defer cancel()
	args := append([]string{"ls-remote", "--heads", remoteName}, refs...)
	res, err := e.git.RunWithAuth(ctx, dir, token, args, gitcmd.Options{Check: true})
	if err != nil {
		return nil, err
	}
	var heads []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			heads = append(heads, fields[1])
		}
	}
	return heads, nil
}

func (e *Engine) remoteBranchExists(ctx context.Context, dir, token, branch string) (bool, error) {
	ref := "refs/heads/" + branch
	heads, err := e.remoteHeads(ctx, dir, token, ref)
	if err != nil {
		return false, err
	}
	for _, h := range heads {
		if h == ref {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) fetch(ctx context.Context, dir, token, branch string) error {
	ctx, cancel := e.network(ctx)
	defer cancel()
	refspec := fmt.Sprintf("+refs/heads/%s:%s", branch, trackingRef(branch))
	_, err := e.git.RunWithAuth(ctx, dir, token, []string{"fetch", remoteName, refspec}, gitcmd.Options{Check: true})
	return err
}

func (e *Engine) push(ctx context.Context, dir, token, branch string, setUpstream bool) error {
	ctx, cancel := e.network(ctx)
	defer cancel()
	args := []string{"push"}
	if setUpstream {
		args = append(args, "--set-upstream")
	}
	args = append(args, remoteName, "HEAD:refs/heads/"+branch)
	_, err := e.git.RunWithAuth(ctx, dir, token, args, gitcmd.Options{Check: true})
	return err
}

// stageNotes stages additions, edits and deletions of root-level notes.
// git add fails on a pathspec that matches nothing, so ls-files decides
// first whether there is anything to stage.
func (e *Engine) stageNotes(ctx context.Context, dir string) error {
	res, err := e.runChecked(ctx, dir, "ls-files", "-z", "--others", "--modified", "--deleted",
		"--exclude-standard", "--", notesPathspec)
	if err != nil {
		return err
	}
	if res.Stdout == "" {
		return nil
	}
	_, err = e.runChecked(ctx, dir, "add", "-A", "--", notesPathspec)
	return err
}

// hasStagedChanges runs diff --quiet, which exits 1 when there is a diff.
func (e *Engine) hasStagedChanges(ctx context.Context, dir string) (bool, error) {
	args := []string{"diff", "--cached", "--quiet"}
	res, err := e.git.Run(ctx, dir, args, gitcmd.Options{})
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, &gitcmd.CommandError{Args: args, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
}

func (e *Engine) commit(ctx context.Context, dir, message string) error {
	_, err := e.git.Run(ctx, dir,
		[]string{"-c", "commit.gpgsign=false", "commit", "--no-verify", "-m", message},
		gitcmd.Options{Env: e.identityEnv(), Check: true})
	return err
}

// countCommits returns the number of commits in rng (for example A..B).
func (e *Engine) countCommits(ctx context.Context, dir, rng string) (int, error) {
	res, err := e.runChecked(ctx, dir, "rev-list", "--count", rng)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, fmt.Errorf("gitsync: parse rev-list count %q: %w", res.Stdout, err)
	}
	return n, nil
}

// unmergedPaths lists files left in conflict by a failed rebase.
func (e *Engine) unmergedPaths(ctx context.Context, dir string) ([]string, error) {
	res, err := e.runChecked(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// hasRootNotes reports whether dir holds Markdown files at its top level.
func hasRootNotes(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gitsync: read vault: %w", err)
	}
	for _, ent := range entries {
		if !ent.IsDir() && strings.EqualFold(filepath.Ext(ent.Name()), ".md") {
			return true, nil
		}
	}
	return false, nil
}

func trackingRef(branch string) string {
	return "refs/remotes/" + remoteName + "/" + branch
}
