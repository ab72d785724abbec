package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/NASA-0007/Rosaiq-Trial/internal/config"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "undefined"
)

// NewRootCmd builds the command tree. Running the binary without a
// subcommand starts the server.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "rosaiq-server",
		Short:         "RosaIQ air quality sensor backend",
		Version:       Version + " (" + BuildTime + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgFile)
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "optional YAML config file (environment wins)")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newMigrateCmd(&cfgFile),
		newSweepCmd(&cfgFile),
		newUserCmd(&cfgFile),
	)
	return root
}

// Execute runs the root command and is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func openRepo(cfg *config.Config) (*store.Repo, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	repo, err := store.New(db, store.Options{Defaults: cfg.DeviceDefaults})
	if err != nil {
		return nil, fmt.Errorf("db migrate failed: %w", err)
	}
	return repo, nil
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
