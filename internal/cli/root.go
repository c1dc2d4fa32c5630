// Package cli implements the policyrag command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"policyrag/internal/bootstrap"
	"policyrag/internal/config"
	"policyrag/internal/logging"
	"policyrag/internal/service"
)

var (
	configPath string
	verbose    bool

	appConfig *config.AppConfig
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "policyrag",
	Short: "Retrieval over HR policy documents",
	Long: `policyrag indexes Markdown policy documents into a vector store and
retrieves the passages most relevant to a question, formatted as
numbered policy references ready for a language model prompt.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or ~/.config/policyrag/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	var (
		cfg *config.AppConfig
		err error
	)
	if configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	appConfig = cfg
	logger = logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
	return nil
}

// openManager builds and initializes a manager from the loaded configuration.
// The caller owns Close.
func openManager(ctx context.Context) (*service.Manager, error) {
	m := bootstrap.NewManager(appConfig, logger)
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return m, nil
}
