package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/jobs"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/tokens"
	"github.com/platinummonkey/warden/pkg/users"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending schema migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.parseFlags(args, env.out()); err != nil {
			return err
		}
		ctx := context.Background()
		db, err := env.DB(ctx)
		if err != nil {
			return err
		}

		// schema_migrations is missing on a fresh database
		before, _ := storage.SchemaVersion(ctx, db)
		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}
		after, err := storage.SchemaVersion(ctx, db)
		if err != nil {
			return err
		}

		if after == before {
			fmt.Fprintf(env.out(), "Schema is up to date (version %d)\n", after)
		} else {
			fmt.Fprintf(env.out(), "Migrated schema from version %d to %d\n", before, after)
		}
		return nil
	}
	return cmd
}

func newSeedCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Install the permission catalog and system roles",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.parseFlags(args, env.out()); err != nil {
			return err
		}
		ctx := context.Background()
		db, err := env.DB(ctx)
		if err != nil {
			return err
		}
		if err := rbac.Seed(ctx, db); err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "Seeded %d permissions and %d system roles\n",
			len(rbac.DefaultPermissions), len(rbac.SystemRoles))
		return nil
	}
	return cmd
}

func newMakeAdminCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "make-admin",
		Description: "Give an existing user the admin role",
		Flags:       flag.NewFlagSet("make-admin", flag.ContinueOnError),
	}
	email := cmd.Flags.String("email", "", "Email of the user to promote (required)")
	role := cmd.Flags.String("role", string(auth.GlobalRoleAdmin), "Global role to assign")

	cmd.Run = func(args []string) error {
		if err := cmd.parseFlags(args, env.out()); err != nil {
			return err
		}
		if strings.TrimSpace(*email) == "" {
			return errors.New("--email is required")
		}
		target, err := auth.ParseGlobalRole(*role)
		if err != nil {
			return err
		}

		ctx := context.Background()
		db, err := env.DB(ctx)
		if err != nil {
			return err
		}
		store := users.NewStore(db)
		user, err := store.GetByEmail(ctx, *email)
		if err != nil {
			return fmt.Errorf("user %s: %w", *email, err)
		}
		if err := store.SetGlobalRole(ctx, user.ID, target); err != nil {
			return err
		}

		env.logger().WithFields(map[string]interface{}{
			"user_id": user.ID,
			"from":    string(user.Role),
			"to":      string(target),
		}).Info("Global role changed")
		fmt.Fprintf(env.out(), "%s is now %s\n", user.Email, target)
		return nil
	}
	return cmd
}

func newCheckPermissionsCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "check-permissions",
		Description: "Print a user's effective permissions",
		Flags:       flag.NewFlagSet("check-permissions", flag.ContinueOnError),
	}
	email := cmd.Flags.String("email", "", "Email of the user to inspect (required)")
	require := cmd.Flags.String("require", "", "Fail unless the user has this permission")

	cmd.Run = func(args []string) error {
		if err := cmd.parseFlags(args, env.out()); err != nil {
			return err
		}
		if strings.TrimSpace(*email) == "" {
			return errors.New("--email is required")
		}

		ctx := context.Background()
		db, err := env.DB(ctx)
		if err != nil {
			return err
		}
		user, err := users.NewStore(db).GetByEmail(ctx, *email)
		if err != nil {
			return fmt.Errorf("user %s: %w", *email, err)
		}

		resolver := rbac.NewResolver(rbac.NewStore(db), rbac.WithLogger(env.logger()))
		perms := resolver.GetUserPermissions(ctx, user.ID)
		sort.Strings(perms)

		out := env.out()
		fmt.Fprintf(out, "%s (role %s)\n", user.Email, user.Role)
		if len(perms) == 0 {
			fmt.Fprintln(out, "  no permissions")
		}
		for _, p := range perms {
			fmt.Fprintf(out, "  %s\n", p)
		}

		if *require != "" && !resolver.HasPermission(ctx, user.ID, *require) {
			return fmt.Errorf("%s lacks permission %s", user.Email, *require)
		}
		return nil
	}
	return cmd
}

func newPurgeTokensCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "purge-tokens",
		Description: "Delete expired verification, reset and auth-code tokens",
		Flags:       flag.NewFlagSet("purge-tokens", flag.ContinueOnError),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.parseFlags(args, env.out()); err != nil {
			return err
		}
		ctx := context.Background()
		db, err := env.DB(ctx)
		if err != nil {
			return err
		}
		n, err := jobs.NewScheduler(tokens.NewStore(db), env.logger(), nil).PurgeExpiredTokens(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out(), "Purged %d expired tokens\n", n)
		return nil
	}
	return cmd
}
