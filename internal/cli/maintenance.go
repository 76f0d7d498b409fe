package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

// NewSweepLocksCommand creates the sweep-locks command.
func NewSweepLocksCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-locks",
		Short: "Finish editorial locks older than LOCK_TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.services.Locks.Sweep(cmd.Context())
			if err != nil {
				return WrapExitError(GetExitCode(err), "sweeping locks", err)
			}
			return printResult(cmd, rootOpts, map[string]int64{"expired": n},
				fmt.Sprintf("expired %d lock(s)", n))
		},
	}
}

// NewSetMailDefaultsCommand creates the set-mail-defaults command.
func NewSetMailDefaultsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-mail-defaults",
		Short: "Create default mail preferences for users without any",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.services.Preferences.SetDefaults(cmd.Context())
			if err != nil {
				return WrapExitError(GetExitCode(err), "creating mail preferences", err)
			}
			return printResult(cmd, rootOpts, map[string]int64{"created": n},
				fmt.Sprintf("created %d mail preference row(s)", n))
		},
	}
}

// NewMigrateCommand creates the migrate command. It needs MariaDB only.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.MigrationsPath
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := database.RunMigrations(db, path)
			if err != nil {
				return WrapExitError(GetExitCode(err), "running migrations", err)
			}
			return printResult(cmd, rootOpts, map[string]uint{"version": version},
				fmt.Sprintf("schema at version %d", version))
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "migrations directory (default MIGRATIONS_PATH)")
	return cmd
}

// CreateUserOptions holds flags for the create-user command.
type CreateUserOptions struct {
	*RootOptions
	Input auth.CreateUserInput
}

// NewCreateUserCommand creates the create-user command, which mirrors a
// directory user into the local user table.
func NewCreateUserCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateUserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Mirror a directory user with groups and scopes",
		Long: `Mirror a directory user into the local user table.

Example:
  qcatctl create-user --email anna@example.org --name "Anna" \
    --group unccd_focal_points_kh --scope country_KH`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			u, err := e.services.Auth.CreateUser(cmd.Context(), opts.Input)
			if err != nil {
				return WrapExitError(GetExitCode(err), "creating user", err)
			}
			return printResult(cmd, rootOpts, u, fmt.Sprintf("created user %s", u.ID))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Input.Email, "email", "", "email address (required)")
	f.StringVar(&opts.Input.DisplayName, "name", "", "display name")
	f.StringVar(&opts.Input.Password, "password", "", "password; empty for mail-only users")
	f.BoolVar(&opts.Input.IsStaff, "staff", false, "mark the user as staff")
	f.BoolVar(&opts.Input.IsSuperuser, "superuser", false, "mark the user as superuser")
	f.StringSliceVar(&opts.Input.Groups, "group", nil, "directory group (repeatable)")
	f.StringSliceVar(&opts.Input.Scopes, "scope", nil, "scope such as country_KH (repeatable)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
