package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/gatehouse/pkg/app"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Version is set at build time
var Version = "dev"

// environment carries the process inputs so commands can run in tests
type environment struct {
	loadConfig func() (*config.Config, error)
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
}

func defaultEnvironment() *environment {
	return &environment{
		loadConfig: config.Load,
		in:         os.Stdin,
		out:        os.Stdout,
		errOut:     os.Stderr,
	}
}

// NewRootCommand creates the gatehouse command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultEnvironment())
}

func newRootCommand(env *environment) *cobra.Command {
	root := &cobra.Command{
		Use:   "gatehouse",
		Short: "Identity and SSO authentication service",
		Long: `gatehouse authenticates chat users by password or through their
organization's SAML or OIDC identity provider and issues session tokens.

Configuration comes from the YAML file named by GATEHOUSE_CONFIG_FILE and
GATEHOUSE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(env.in)
	root.SetOut(env.out)
	root.SetErr(env.errOut)

	root.AddCommand(
		newServeCommand(env),
		newMigrateCommand(env),
		newSeedCommand(env),
		newHashPasswordCommand(env),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newServeCommand(env *environment) *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(env, dev)
			if err != nil {
				return err
			}

			logger := newLogger(cfg, env.errOut)
			if dev {
				logger.Warn("Development mode: in-memory stores, auto-provisioning and unverified SSO assertions are enabled")
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger, Version)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "use in-memory stores and relaxed SSO verification")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// loadConfig loads and validates configuration, applying development
// defaults first when dev is set
func loadConfig(env *environment, dev bool) (*config.Config, error) {
	cfg, err := env.loadConfig()
	if err != nil {
		return nil, err
	}
	if dev {
		cfg.ApplyDevDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *observability.Logger {
	return observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), w).
		WithField("service", cfg.Observability.OTelServiceName)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
