// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/config"
	"github.com/xkilldash9x/pacer/internal/observability"
	"github.com/xkilldash9x/pacer/internal/service"
)

// app carries state shared by every subcommand of one root command.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	factory service.ComponentFactory
}

// NewRootCommand builds the command tree wired to real databases.
func NewRootCommand() *cobra.Command {
	return newRootCommand(service.NewComponentFactory())
}

func newRootCommand(factory service.ComponentFactory) *cobra.Command {
	a := &app{v: viper.New(), factory: factory}

	rootCmd := &cobra.Command{
		Use:           "pacer",
		Short:         "Pacer throttles batched background migrations and maintains partitioned tables.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initializeConfig(); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(a.v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "pacer"})
				return err
			}
			a.cfg = cfg
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting pacer", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newAdaptCmd(a),
		newMigrationsCmd(a),
		newPartitionsCmd(a),
		newRunCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command under ctx and logs any failure.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func (a *app) initializeConfig() error {
	config.SetDefaults(a.v)

	if a.cfgFile != "" {
		path, err := homedir.Expand(a.cfgFile)
		if err != nil {
			return fmt.Errorf("invalid config path %q: %w", a.cfgFile, err)
		}
		a.v.SetConfigFile(path)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("PACER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// withComponents builds the component graph for one command invocation and
// tears it down afterwards.
func (a *app) withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *service.Components) error) error {
	ctx := cmd.Context()
	components, err := a.factory.Create(ctx, a.cfg, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()
	return fn(ctx, components)
}
