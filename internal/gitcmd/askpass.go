package gitcmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// AskpassFile is the helper script name inside the data directory.
	AskpassFile = "git-askpass.sh"

	// PasswordEnv carries the token from RunWithAuth to the helper.
	PasswordEnv = "NOTELY_GIT_PASSWORD"

	// Username answered to every username prompt.
	Username = "x-access-token"
)

const askpassScript = `#!/bin/sh
case "$1" in
  Username*|username*) printf '%s\n' '` + Username + `' ;;
  *) printf '%s\n' "$` + PasswordEnv + `" ;;
esac
`

// ensureAskpass writes the helper script if it is missing or stale and
// returns its path. The script holds no secret; the token arrives via env.
func (r *Runner) ensureAskpass() (string, error) {
	if r.dataDir == "" {
		return "", fmt.Errorf("gitcmd: data directory is not configured")
	}
	if err := os.MkdirAll(r.dataDir, 0o700); err != nil {
		return "", fmt.Errorf("gitcmd: create data dir: %w", err)
	}
	path := filepath.Join(r.dataDir, AskpassFile)

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, []byte(askpassScript)) {
		if err := os.Chmod(path, 0o700); err != nil {
			return "", fmt.Errorf("gitcmd: chmod askpass: %w", err)
		}
		return path, nil
	}

	tmp, err := os.CreateTemp(r.dataDir, ".askpass-*")
	if err != nil {
		return "", fmt.Errorf("gitcmd: create askpass: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(askpassScript); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("gitcmd: write askpass: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("gitcmd: close askpass: %w", err)
	}
	if err := os.Chmod(tmpName, 0o700); err != nil {
		return "", fmt.Errorf("gitcmd: chmod askpass: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("gitcmd: install askpass: %w", err)
	}
	return path, nil
}
