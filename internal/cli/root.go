// Package cli implements the chatsync command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/poloBBQ/chatsync/internal/config"
	"github.com/poloBBQ/chatsync/internal/logging"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

// ExecuteTUI runs the tui command.
func ExecuteTUI(version string) error {
	cmd := newRootCmd(version)
	cmd.SetArgs([]string{"tui"})
	return cmd.Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Terminal chat client with a local sync engine",
		Long:          "chatsync keeps channel lists and chat timelines in sync with a chat backend and renders them in the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.config/chatsync/config.yaml)")
	flags.String("log-level", "", "override logging level (debug, info, warn, error)")
	flags.String("log-format", "", "override logging format (json, console)")
	flags.String("db", "", "override the SQLite backend path")

	cmd.AddCommand(
		newTUICmd(),
		newReplayCmd(),
		newSeedCmd(),
		newVersionCmd(version),
	)

	return cmd
}

// runtime is the resolved configuration shared by the subcommands.
type runtime struct {
	cfg    *config.Config
	loader *config.Loader
}

func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// loadRuntime loads the configuration, applies flag overrides and sets up
// logging. logOutput receives the logs; nil means stderr.
func loadRuntime(cmd *cobra.Command, logOutput io.Writer) (*runtime, error) {
	flags := cmd.Flags()
	configFile, _ := flags.GetString("config")
	cfg, loader, err := loadConfig(configFile)
	if err != nil {
		return nil, &ExitError{Code: ExitCodeUsage, Err: fmt.Errorf("error loading config: %w", err)}
	}

	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := flags.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if db, _ := flags.GetString("db"); db != "" {
		cfg.Backend.Path = db
	}

	if logOutput == nil {
		logOutput = os.Stderr
	}
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       logOutput,
		NoColor:      logOutput != os.Stderr,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logger := logging.Component("cli")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}
	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}

	return &runtime{cfg: cfg, loader: loader}, nil
}
