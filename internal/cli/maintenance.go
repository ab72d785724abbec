package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/NASA-0007/Rosaiq-Trial/internal/access"
	"github.com/NASA-0007/Rosaiq-Trial/internal/retention"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	"github.com/NASA-0007/Rosaiq-Trial/pkg/roles"

	"github.com/spf13/cobra"
)

func newMigrateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			repo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()
			slog.Info("schema up to date", "driver", cfg.Database.Driver)
			return warnNoUsers(cmd.Context(), repo, cmd.OutOrStdout())
		},
	}
}

// warnNoUsers points a fresh install at the command that creates the first
// admin; the dashboard is unusable until one exists.
func warnNoUsers(ctx context.Context, repo *store.Repo, out io.Writer) error {
	n, err := repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(out, "no users yet; create an admin with: rosaiq-server user create --username <name> --password <password> --role admin")
	}
	return nil
}

func newSweepCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep and print what was deleted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			repo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			res, err := retention.New(repo, retention.Options{
				MeasurementDays: cfg.Retention.MeasurementDays,
				EventDays:       cfg.Retention.EventDays,
			}).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "measurements deleted: %d\nevents deleted: %d\n", res.MeasurementsDeleted, res.EventsDeleted)
			return nil
		},
	}
}

func newUserCmd(cfgFile *string) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage dashboard users",
	}

	var username, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a dashboard user, e.g. the first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			repo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			hash, err := access.HashPassword(password)
			if err != nil {
				return err
			}
			u, err := repo.CreateUser(cmd.Context(), username, hash, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", u.Username, u.Role, u.ID)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "login name")
	create.Flags().StringVar(&password, "password", "", "password (min 6 characters)")
	create.Flags().StringVar(&role, "role", roles.User, "admin or user")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")

	userCmd.AddCommand(create)
	return userCmd
}
