// Package gitcmd runs the git executable on behalf of the sync engine.
//
// Commands are always spawned with an argv slice, never through a shell.
// Authentication is injected per call through an askpass helper and commit
// identity through environment variables, so the user's global git
// configuration is never touched.
package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
)

// Result is the captured outcome of one git invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Options tune a single invocation.
type Options struct {
	// Env holds KEY=VALUE overrides merged over the process environment.
	Env []string
	// Check turns a non-zero exit code into a *CommandError.
	Check bool
}

// CommandError describes a git invocation that exited non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Error prefers stderr over stdout for the message.
func (e *CommandError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	cmd := "git " + firstArg(e.Args)
	if detail == "" {
		return fmt.Sprintf("%s exited with code %d", cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s failed (exit %d): %s", cmd, e.ExitCode, detail)
}

// Unwrap lets callers match apperr.ErrGitCommandFailed.
func (e *CommandError) Unwrap() error {
	return apperr.ErrGitCommandFailed
}

// Executor spawns a prepared command. It exists so tests can observe
// invocations without a git binary.
type Executor interface {
	Execute(cmd *exec.Cmd) error
}

// ExecExecutor delegates to os/exec.
type ExecExecutor struct{}

// Execute implements Executor.
func (ExecExecutor) Execute(cmd *exec.Cmd) error {
	return cmd.Run()
}

// Runner invokes git with a controlled environment.
type Runner struct {
	binary   string
	dataDir  string
	baseEnv  []string
	executor Executor
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBinary overrides the git executable (default "git").
func WithBinary(path string) RunnerOption {
	return func(r *Runner) {
		if path != "" {
			r.binary = path
		}
	}
}

// WithEnv adds KEY=VALUE pairs to every invocation.
func WithEnv(env ...string) RunnerOption {
	return func(r *Runner) {
		r.baseEnv = append(r.baseEnv, env...)
	}
}

// WithExecutor replaces the process executor.
func WithExecutor(e Executor) RunnerOption {
	return func(r *Runner) {
		r.executor = e
	}
}

// NewRunner creates a Runner. dataDir is where the askpass helper lives.
// Every invocation runs in the C locale so git's messages are stable.
func NewRunner(dataDir string, opts ...RunnerOption) *Runner {
	r := &Runner{
		binary:   "git",
		dataDir:  dataDir,
		baseEnv:  []string{"LC_ALL=C"},
		executor: ExecExecutor{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes git with args in dir.
func (r *Runner) Run(ctx context.Context, dir string, args []string, opts Options) (Result, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), append(append([]string{}, r.baseEnv...), opts.Env...))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := r.executor.Execute(cmd)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("gitcmd: git %s: %w", firstArg(args), ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("gitcmd: start git: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	if opts.Check && res.ExitCode != 0 {
		return res, &CommandError{
			Args:     args,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}

// RunWithAuth executes git with non-interactive token authentication.
// Any configured credential helper is disabled for this invocation only.
func (r *Runner) RunWithAuth(ctx context.Context, dir, token string, args []string, opts Options) (Result, error) {
	script, err := r.ensureAskpass()
	if err != nil {
		return Result{}, err
	}
	opts.Env = append(append([]string{}, opts.Env...),
		"GIT_ASKPASS="+script,
		"GIT_TERMINAL_PROMPT=0",
		PasswordEnv+"="+token,
	)
	full := append([]string{"-c", "credential.helper="}, args...)
	res, err := r.Run(ctx, dir, full, opts)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		cmdErr.Args = args
	}
	return res, err
}

// IdentityEnv returns the environment that sets both author and committer.
func IdentityEnv(name, email string) []string {
	return []string{
		"GIT_AUTHOR_NAME=" + name,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
	}
}

// mergeEnv overlays overrides on base; later keys win.
func mergeEnv(base, overrides []string) []string {
	if len(overrides) == 0 {
		return base
	}
	index := make(map[string]int, len(base)+len(overrides))
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range append(append([]string{}, base...), overrides...) {
		key, _, _ := strings.Cut(kv, "=")
		if i, ok := index[key]; ok {
			out[i] = kv
			continue
		}
		index[key] = len(out)
		out = append(out, kv)
	}
	return out
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
