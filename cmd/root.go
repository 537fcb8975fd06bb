// Package cmd defines the CLI commands of the tracker-mirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/app"
	"github.com/JakeFAU/tracker-mirror/internal/config"
	"github.com/JakeFAU/tracker-mirror/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application container. Tests
// inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	RunTask(ctx context.Context, name string) error
	Close(ctx context.Context) error
}

// newApp is the application factory; a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tracker-mirror",
		Short: "Mirrors a torrent tracker into a catalog and publishes RSS feeds.",
		Long: `tracker-mirror polls the tracker index, imports new entries into the
catalog, keeps the category tree in sync, and republishes per-category RSS
feeds plus a category map to the configured object store.`,
		SilenceUsage: true,

		// Services are built once the flags are parsed and before any
		// subcommand runs; the root command itself needs none.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd == cmd.Root() {
				return nil
			}
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env MIRROR_* overrides)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTaskCmds()...)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
