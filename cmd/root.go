// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/observability"
	"github.com/xkilldash9x/catalog-cli/internal/service"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_SITE_BASE_URL.
const EnvPrefix = "CATALOG"

// app carries what the commands share. Each root command gets its own, so
// tests never leak viper or flag state into each other.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
	factory service.ComponentFactory
}

// Option adjusts the root command's dependencies.
type Option func(*app)

// WithComponentFactory replaces the Chrome-backed component factory.
func WithComponentFactory(f service.ComponentFactory) Option {
	return func(a *app) { a.factory = f }
}

// WithLogger uses logger instead of initializing the global one.
func WithLogger(logger *zap.Logger) Option {
	return func(a *app) { a.logger = logger }
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{v: viper.New(), factory: service.NewComponentFactory()}
	for _, opt := range opts {
		opt(a)
	}
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:           "catalog-cli",
		Short:         "Adds ISBNs to a remote library catalogue, one durable outcome at a time.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			return a.initialize()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the queue and ledger files")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("queue.data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = a.v.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	rootCmd.SetVersionTemplate(`{{printf "catalog-cli %s\n" .Version}}`)

	rootCmd.AddCommand(
		newRunCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newResetSessionCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// initialize reads the config file and environment, then sets up logging.
func (a *app) initialize() error {
	if err := initializeConfig(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger == nil {
		observability.InitializeLogger(cfg.Logger())
		a.logger = observability.GetLogger()
	}
	a.logger.Debug("Configuration loaded.", zap.String("version", Version), zap.String("data_dir", cfg.Queue().DataDir))
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	defer observability.Sync()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
