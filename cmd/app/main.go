package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/DylanDDeng/notely-sub000/internal"
	"github.com/DylanDDeng/notely-sub000/internal/gitsync"
	"github.com/DylanDDeng/notely-sub000/internal/history"
	pkgconfig "github.com/DylanDDeng/notely-sub000/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if v := cmd.String("vault"); v != "" {
		cfg.Vault.Path = v
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

// withApp opens the application for a one-shot command. Logs go to stderr
// so stdout only carries the command's JSON output.
func withApp(fn func(ctx context.Context, cmd *cli.Command, app *internal.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		app, err := internal.Open(internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(ctx, cmd, app)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

// requireArgs returns the first n positional arguments.
func requireArgs(cmd *cli.Command, names ...string) ([]string, error) {
	args := cmd.Args()
	if args.Len() < len(names) {
		return nil, fmt.Errorf("usage: %s %v", cmd.FullName(), names)
	}
	out := make([]string, len(names))
	for i := range names {
		out[i] = args.Get(i)
	}
	return out, nil
}

func optionalBool(cmd *cli.Command, name string) *bool {
	if !cmd.IsSet(name) {
		return nil
	}
	v := cmd.Bool(name)
	return &v
}

func optionalInt(cmd *cli.Command, name string) *int {
	if !cmd.IsSet(name) {
		return nil
	}
	v := int(cmd.Int(name))
	return &v
}

func optionalString(cmd *cli.Command, name string) *string {
	if !cmd.IsSet(name) {
		return nil
	}
	v := cmd.String(name)
	return &v
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Git sync of the vault",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show sync configuration and the last run outcome",
				Action: withApp(func(_ context.Context, _ *cli.Command, app *internal.App) error {
					return printJSON(app.Sync.Config())
				}),
			},
			{
				Name:  "connect",
				Usage: "Connect the vault to an https remote and enable sync",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "remote", Usage: "https URL of the remote repository", Required: true},
					&cli.StringFlag{Name: "branch", Usage: "Branch to sync (default main)"},
					&cli.StringFlag{Name: "token", Usage: "Access token; omit to reuse the stored one", Sources: cli.EnvVars("NOTELY_GIT_TOKEN")},
					&cli.BoolFlag{Name: "auto-sync", Usage: "Sync on a timer"},
					&cli.IntFlag{Name: "interval", Usage: "Minutes between automatic syncs (1-120)"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					res := app.Sync.Connect(ctx, gitsync.ConnectRequest{
						RemoteURL:       cmd.String("remote"),
						Branch:          cmd.String("branch"),
						Token:           cmd.String("token"),
						AutoSyncEnabled: optionalBool(cmd, "auto-sync"),
						IntervalMinutes: optionalInt(cmd, "interval"),
					})
					if err := printJSON(res); err != nil {
						return err
					}
					if !res.Success {
						return cli.Exit("", 1)
					}
					return nil
				}),
			},
			{
				Name:  "run",
				Usage: "Commit, pull and push now",
				Action: withApp(func(ctx context.Context, _ *cli.Command, app *internal.App) error {
					res := app.Sync.Run(ctx, gitsync.ReasonManual)
					if err := printJSON(res); err != nil {
						return err
					}
					if !res.Success {
						return cli.Exit("", 1)
					}
					return nil
				}),
			},
			{
				Name:  "settings",
				Usage: "Change sync settings",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "enabled", Usage: "Enable or disable sync"},
					&cli.StringFlag{Name: "remote", Usage: "https URL of the remote repository"},
					&cli.StringFlag{Name: "branch", Usage: "Branch to sync"},
					&cli.BoolFlag{Name: "auto-sync", Usage: "Sync on a timer"},
					&cli.IntFlag{Name: "interval", Usage: "Minutes between automatic syncs (1-120)"},
				},
				Action: withApp(func(_ context.Context, cmd *cli.Command, app *internal.App) error {
					res := app.Sync.UpdateSettings(gitsync.SettingsPatch{
						Enabled:         optionalBool(cmd, "enabled"),
						RemoteURL:       optionalString(cmd, "remote"),
						Branch:          optionalString(cmd, "branch"),
						AutoSyncEnabled: optionalBool(cmd, "auto-sync"),
						IntervalMinutes: optionalInt(cmd, "interval"),
					})
					if err := printJSON(res); err != nil {
						return err
					}
					if !res.Success {
						return cli.Exit("", 1)
					}
					return nil
				}),
			},
			{
				Name:  "clear-credential",
				Usage: "Forget the stored access token and disable sync",
				Action: withApp(func(_ context.Context, _ *cli.Command, app *internal.App) error {
					return printJSON(app.Sync.ClearCredential())
				}),
			},
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Version history of notes",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List versions of a note, newest first",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum entries (1-200)", Value: history.DefaultListLimit},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					args, err := requireArgs(cmd, "path")
					if err != nil {
						return err
					}
					entries, err := app.Notes.ListHistory(ctx, args[0], int(cmd.Int("limit")))
					if err != nil {
						return err
					}
					return printJSON(entries)
				}),
			},
			{
				Name:      "show",
				Usage:     "Print the content of one version",
				ArgsUsage: "<path> <version-id>",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					args, err := requireArgs(cmd, "path", "version-id")
					if err != nil {
						return err
					}
					data, err := app.Notes.ReadVersion(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(data)
					return err
				}),
			},
			{
				Name:      "label",
				Usage:     "Set or clear the label of a version",
				ArgsUsage: "<path> <version-id> [label]",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					args, err := requireArgs(cmd, "path", "version-id")
					if err != nil {
						return err
					}
					label := cmd.Args().Get(2)
					e, err := app.Notes.UpdateVersionMeta(ctx, args[0], args[1], history.MetaUpdate{Label: &label})
					if err != nil {
						return err
					}
					return printJSON(e)
				}),
			},
			{
				Name:      "pin",
				Usage:     "Pin a version so retention never removes it",
				ArgsUsage: "<path> <version-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "off", Usage: "Unpin instead"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					args, err := requireArgs(cmd, "path", "version-id")
					if err != nil {
						return err
					}
					pinned := !cmd.Bool("off")
					e, err := app.Notes.UpdateVersionMeta(ctx, args[0], args[1], history.MetaUpdate{Pinned: &pinned})
					if err != nil {
						return err
					}
					return printJSON(e)
				}),
			},
			{
				Name:      "restore",
				Usage:     "Write a version back to the note",
				ArgsUsage: "<path> <version-id>",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					args, err := requireArgs(cmd, "path", "version-id")
					if err != nil {
						return err
					}
					note, err := app.Notes.RestoreVersion(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"path":       note.Path,
						"checksum":   note.Checksum,
						"version_id": note.VersionID,
					})
				}),
			},
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "notely",
		Usage:   "Local-first Markdown notes with version history and Git sync",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Override vault.path from the config file",
				Sources: cli.EnvVars("NOTELY_VAULT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, watcher and sync scheduler (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			syncCommand(),
			historyCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
