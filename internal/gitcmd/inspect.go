package gitcmd

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Inspector answers read-only questions about a working copy without
// spawning git.
type Inspector struct{}

// IsRepository reports whether dir is the root of a git working copy.
func (Inspector) IsRepository(dir string) bool {
	_, err := git.PlainOpen(dir)
	return err == nil
}

// HasCommits reports whether HEAD resolves to a commit. An unborn branch
// yields false without error.
func (Inspector) HasCommits(dir string) (bool, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return false, nil
		}
		return false, fmt.Errorf("gitcmd: open repository: %w", err)
	}
	if _, err := repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("gitcmd: resolve HEAD: %w", err)
	}
	return true, nil
}
