// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/internal/config"
	"github.com/xkilldash9x/darkswarm/internal/observability"
)

// configKeyAnnotation maps a flag onto the config key it overrides.
const configKeyAnnotation = "config_key"

// app carries state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
	stdout  io.Writer
}

// NewRootCommand builds a fresh command tree writing reports to stdout.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout)
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	a := &app{stdout: stdout}

	rootCmd := &cobra.Command{
		Use:           "darkswarm",
		Short:         "Darkswarm runs a swarm of OSINT agents against dark web sources.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./darkswarm.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newInvestigateCmd(a))
	rootCmd.AddCommand(newSnapshotCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))
	return rootCmd
}

// Execute runs the CLI with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted by signal.")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	observability.Sync()
	return err
}

// initialize loads the configuration, applies flag overrides and sets up logging.
func (a *app) initialize(cmd *cobra.Command) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	if bindErr != nil {
		return fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "darkswarm"})
		return err
	}
	observability.InitializeLogger(cfg.Logger)
	a.cfg = cfg
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded.", zap.String("version", Version))
	return nil
}

// bindConfigFlag ties a flag to a config key so it overrides file and environment values.
func bindConfigFlag(cmd *cobra.Command, flag, key string) {
	if cmd.Flags().Lookup(flag) != nil {
		_ = cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key})
		return
	}
	_ = cmd.PersistentFlags().SetAnnotation(flag, configKeyAnnotation, []string{key})
}
