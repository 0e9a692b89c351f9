// Package gitsync reconciles the notes directory with a remote Git
// repository.
//
// All public operations return result values instead of errors: failures
// are classified into a status and a human-readable message, and every
// run outcome is written back to the sync configuration so it is visible
// on the next load.
package gitsync

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/credential"
	"github.com/DylanDDeng/notely-sub000/internal/gitcmd"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

// Git is the subset of *gitcmd.Runner used by the engine.
type Git interface {
	Run(ctx context.Context, dir string, args []string, opts gitcmd.Options) (gitcmd.Result, error)
	RunWithAuth(ctx context.Context, dir, token string, args []string, opts gitcmd.Options) (gitcmd.Result, error)
}

// Inspector answers read-only repository questions.
type Inspector interface {
	IsRepository(dir string) bool
	HasCommits(dir string) (bool, error)
}

// Reason says what triggered a run.
type Reason string

const (
	ReasonManual Reason = "manual"
	ReasonAuto   Reason = "auto"
)

// RunResult is the outcome of one Run call.
type RunResult struct {
	Success        bool              `json:"success"`
	Status         syncconfig.Status `json:"status"`
	Message        string            `json:"message"`
	Reason         Reason            `json:"reason"`
	CommitsCreated int               `json:"commitsCreated"`
	Pushed         bool              `json:"pushed"`
	Pulled         bool              `json:"pulled"`
	ConflictFiles  []string          `json:"conflictFiles"`
}

// SetupResult is the outcome of Connect.
type SetupResult struct {
	Success         bool              `json:"success"`
	Status          syncconfig.Status `json:"status"`
	Message         string            `json:"message"`
	RepoInitialized bool              `json:"repoInitialized"`
	RemoteConnected bool              `json:"remoteConnected"`
}

// OpResult is the outcome of settings changes.
type OpResult struct {
	Success bool              `json:"success"`
	Status  syncconfig.Status `json:"status"`
	Message string            `json:"message"`
}

const (
	DefaultCommitName     = "Notely Sync"
	DefaultCommitEmail    = "sync@notely.local"
	DefaultNetworkTimeout = 60 * time.Second
)

// Engine owns sync runs for one active notes directory.
type Engine struct {
	store   *syncconfig.Store
	vault   credential.Vault
	git     Git
	inspect Inspector
	logger  *slog.Logger

	commitName     string
	commitEmail    string
	networkTimeout time.Duration
	intervalUnit   time.Duration
	now            func() time.Time
	notify         func(RunResult)

	dir string

	running atomic.Bool
	sched   scheduler

	baseMu  sync.Mutex
	baseCtx context.Context
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithInspector replaces the repository inspector.
func WithInspector(i Inspector) Option {
	return func(e *Engine) { e.inspect = i }
}

// WithIdentity sets the author and committer used for sync commits.
func WithIdentity(name, email string) Option {
	return func(e *Engine) {
		if name != "" {
			e.commitName = name
		}
		if email != "" {
			e.commitEmail = email
		}
	}
}

// WithNetworkTimeout bounds every call that talks to the remote.
// Zero disables the bound.
func WithNetworkTimeout(d time.Duration) Option {
	return func(e *Engine) { e.networkTimeout = d }
}

// WithNotifier registers a callback receiving every finished run.
func WithNotifier(fn func(RunResult)) Option {
	return func(e *Engine) { e.notify = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIntervalUnit changes the unit of IntervalMinutes (tests only).
func WithIntervalUnit(d time.Duration) Option {
	return func(e *Engine) { e.intervalUnit = d }
}

// New creates an engine for the notes directory dir.
func New(store *syncconfig.Store, vault credential.Vault, git Git, dir string, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		vault:          vault,
		git:            git,
		inspect:        gitcmd.Inspector{},
		logger:         slog.Default(),
		commitName:     DefaultCommitName,
		commitEmail:    DefaultCommitEmail,
		networkTimeout: DefaultNetworkTimeout,
		intervalUnit:   time.Minute,
		now:            time.Now,
		dir:            absPath(dir),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dir returns the notes directory the engine was opened on. It is fixed for
// the engine's lifetime; opening another vault creates a new engine, which
// then detects the mismatch against the persisted vault path.
func (e *Engine) Dir() string {
	return e.dir
}

// Config returns the token-free configuration.
func (e *Engine) Config() syncconfig.PublicConfig {
	return e.store.Public()
}

// Running reports whether a run is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) identityEnv() []string {
	return gitcmd.IdentityEnv(e.commitName, e.commitEmail)
}

// network derives the context for a call that reaches the remote.
func (e *Engine) network(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.networkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.networkTimeout)
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}

// samePath compares directories after resolving symlinks.
func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = absPath(a), absPath(b)
	if a == b {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
