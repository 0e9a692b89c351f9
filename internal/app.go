package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DylanDDeng/notely-sub000/internal/credential"
	"github.com/DylanDDeng/notely-sub000/internal/gitcmd"
	"github.com/DylanDDeng/notely-sub000/internal/gitsync"
	"github.com/DylanDDeng/notely-sub000/internal/history"
	"github.com/DylanDDeng/notely-sub000/internal/index"
	"github.com/DylanDDeng/notely-sub000/internal/noteservice"
	"github.com/DylanDDeng/notely-sub000/internal/sse"
	"github.com/DylanDDeng/notely-sub000/internal/storage"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

var errNoConfig = errors.New("config is required")

// App holds the wired components shared by every command.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Store   storage.Provider
	Index   *index.DB
	History *history.Store
	Notes   *noteservice.Service
	Sync    *gitsync.Engine

	version string
	broker  *sse.Broker
}

// Open wires storage, index, history and the sync engine without serving
// anything. The caller must Close the result.
func Open(opts ...Option) (*App, error) {
	return open(newApplication(opts), nil)
}

func open(app *application, broker *sse.Broker) (*App, error) {
	if app.config == nil {
		return nil, errNoConfig
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	vaultPath, err := filepath.Abs(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}

	logger.Info("Configuration loaded",
		slog.String("vault_path", vaultPath),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("sync_data_dir", cfg.Sync.DataDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(vaultPath, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite index.
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Index:   db,
		version: app.version,
		broker:  broker,
	}

	// Bring the index up to date with whatever changed while we were down.
	if _, err := index.Reconcile(db, store, logger, a.noteChanged); err != nil {
		logger.Warn("initial index reconcile failed", slog.String("error", err.Error()))
	}

	a.History = history.NewStore(vaultPath, logger, history.WithMaxVersions(cfg.History.MaxVersions))

	svcOpts := []noteservice.Option{noteservice.WithLogger(logger)}
	if broker != nil {
		svcOpts = append(svcOpts, noteservice.WithListener(broker))
	}
	a.Notes = noteservice.NewService(store, db, a.History, svcOpts...)

	a.Sync = gitsync.New(
		syncconfig.NewStore(syncconfig.NewFileBackend(cfg.Sync.DataDir), logger),
		credential.NewKeyringVault(),
		gitcmd.NewRunner(cfg.Sync.DataDir, gitcmd.WithBinary(cfg.Sync.GitBinary)),
		vaultPath,
		gitsync.WithLogger(logger),
		gitsync.WithIdentity(cfg.Sync.CommitName, cfg.Sync.CommitEmail),
		gitsync.WithNetworkTimeout(cfg.Sync.NetworkTimeout),
		gitsync.WithNotifier(a.syncFinished),
	)

	return a, nil
}

// Close releases the index.
func (a *App) Close() error {
	a.Sync.Stop()
	return a.Index.Close()
}

func (a *App) noteChanged(kind index.ChangeKind, path string) {
	if a.broker != nil {
		a.broker.NoteChanged(kind, path)
	}
}

// syncFinished refreshes the index after a run that touched the working
// tree and forwards the result to SSE clients.
func (a *App) syncFinished(res gitsync.RunResult) {
	if res.Pulled || len(res.ConflictFiles) > 0 {
		st, err := index.Reconcile(a.Index, a.Store, a.Logger, a.noteChanged)
		if err != nil {
			a.Logger.Warn("post-sync reconcile failed", slog.String("error", err.Error()))
		} else {
			a.Logger.Info("post-sync reconcile",
				slog.Int("indexed", st.Indexed),
				slog.Int("removed", st.Removed))
		}
	}
	if a.broker != nil {
		a.broker.SyncStatus(res)
	}
}
