// Package cli implements the agentctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/agentchat/internal/config"
	"github.com/ashureev/agentchat/internal/llm"
	"github.com/ashureev/agentchat/internal/selfimprove"
	"github.com/ashureev/agentchat/internal/shared"
	"github.com/ashureev/agentchat/internal/store"
)

// Options wires the commands to their dependencies. Zero fields use the
// production defaults.
type Options struct {
	Out    io.Writer
	Config func() (*config.Config, error)
	// Completer builds the model client for analyze. Defaults to llm.NewFromConfig.
	Completer func(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Completer, error)
}

type app struct {
	opts   Options
	dbPath string
	userID string
}

// NewRootCmd builds the agentctl command tree.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Config == nil {
		opts.Config = config.Load
	}
	if opts.Completer == nil {
		opts.Completer = func(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Completer, error) {
			return llm.NewFromConfig(ctx, cfg, logger)
		}
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Operate agentchat self-improvement",
		Long:          "Inspect and drive agent self-improvement directly against the agentchat database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Out)
	root.PersistentFlags().StringVarP(&a.dbPath, "db", "d", "", "Database path (default: $DB_PATH or config)")
	root.PersistentFlags().StringVarP(&a.userID, "user", "u", "", "User ID to act as")

	root.AddCommand(
		a.settingsCmd(),
		a.historyCmd(),
		a.analyzeCmd(),
		a.applyCmd(),
		a.seedCmd(),
		a.agentsCmd(),
	)
	return root
}

// env is an opened database plus the service over it.
type env struct {
	cfg    *config.Config
	repo   *store.SQLiteStore
	svc    *selfimprove.Service
	logger *slog.Logger
}

func (e *env) Close() {
	if err := e.repo.Close(); err != nil {
		e.logger.Warn("Failed to close database", "error", err)
	}
}

// open loads configuration and the database. withModel also builds the
// model client, which is only needed by analyze.
func (a *app) open(ctx context.Context, withModel bool) (*env, error) {
	cfg, err := a.opts.Config()
	if err != nil {
		return nil, err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	logger := cfg.NewLogger(os.Stderr)

	repo, err := store.NewSQLite(cfg.DBPath, shared.RetryPolicy{
		MaxRetries: cfg.Retry.DatabaseMaxRetries,
		BaseDelay:  cfg.Retry.DatabaseRetryBaseDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var completer llm.Completer = llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		return "", fmt.Errorf("no model client configured")
	})
	if withModel {
		completer, err = a.opts.Completer(ctx, cfg.LLM, logger)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("init model client: %w", err)
		}
	}

	return &env{
		cfg:    cfg,
		repo:   repo,
		svc:    selfimprove.NewService(repo, completer, cfg.SelfImprove, logger),
		logger: logger,
	}, nil
}

func (a *app) requireUser() error {
	if a.userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
