package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/gatehouse/pkg/app"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/password"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
)

func newMigrateCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(env, false)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverMemory {
				return errors.New("migrate requires a SQL database driver")
			}

			ctx := commandContext(cmd)
			db, err := sqlstore.Open(ctx, cfg.Database.SQLStore())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := sqlstore.Migrate(ctx, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", applied)
			return nil
		},
	}
}

func newSeedCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Create organizations, SSO configurations and users from a YAML file",
		Long: `seed applies a YAML file of organizations, SSO configurations, users and
memberships to the configured database. Records that already exist are
left unchanged; SSO configurations are overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(env, false)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverMemory {
				return errors.New("seed requires a SQL database driver")
			}

			seed, err := app.LoadSeed(args[0])
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			cfg.Database.SeedFile = ""
			a, err := app.New(ctx, cfg, newLogger(cfg, env.errOut), Version)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			result, err := a.ApplySeed(ctx, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d organization(s), %d user(s), %d membership(s); stored %d SSO configuration(s)\n",
				result.Organizations, result.Users, result.Memberships, result.SSOConfigs)
			return nil
		},
	}
}

func newHashPasswordCommand(env *environment) *cobra.Command {
	var skipStrength bool

	cmd := &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Print the Argon2id hash of a password",
		Long: `hash-password prints the encoded Argon2id hash stored in users.password_hash.
Without an argument the password is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plain string
			if len(args) == 1 {
				plain = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				plain = strings.TrimRight(line, "\r\n")
			}

			if !skipStrength {
				if err := password.ValidateStrength(plain); err != nil {
					return err
				}
			}

			hash, err := password.NewHasher(password.DefaultParams).Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipStrength, "skip-strength-check", false, "hash passwords that fail the strength policy")
	return cmd
}
