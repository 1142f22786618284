// Command bookstorectl runs one-off maintenance against the bookstore database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book"
	bookrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/book/repo"
	orderrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/order/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/payment"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/utilities"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	dbCfg := database.ConfigFromEnv()
	env := &cli{
		logger: lg.Sugar(),
		out:    os.Stdout,
		dbCfg:  dbCfg,
		open:   func() (*sqlx.DB, error) { return database.Open(dbCfg) },
	}
	if err := env.rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries what every subcommand needs; tests swap open for sqlmock.
type cli struct {
	logger *zap.SugaredLogger
	out    io.Writer
	dbCfg  database.Config
	open   func() (*sqlx.DB, error)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bookstorectl",
		Short:         "Maintenance commands for the bookstore service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.makeAdminCmd())
	root.AddCommand(c.reconcileCmd())
	return root
}

func (c *cli) withDB(ctx context.Context, fn func(ctx context.Context, db *sqlx.DB) error) error {
	db, err := c.open()
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	return fn(ctx, db)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDB(cmd.Context(), func(ctx context.Context, db *sqlx.DB) error {
				applied, err := database.Migrate(ctx, db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations: %s\n", len(applied), strings.Join(applied, ", "))
				return nil
			})
		},
	}
}

func (c *cli) makeAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "make-admin <email>",
		Short: "Promote an account to admin; its existing tokens stop working",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDB(cmd.Context(), func(ctx context.Context, db *sqlx.DB) error {
				svc := user.NewUserService(userrepo.NewUserRepo(db, c.dbCfg.QueryTimeout), nil)
				u, err := svc.PromoteToAdmin(ctx, args[0])
				if err != nil {
					return fmt.Errorf("make-admin %s: %w", args[0], err)
				}
				c.logger.Infow("user promoted", "user_id", u.ID, "email", u.Email)
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now an admin\n", u.Email)
				return nil
			})
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Restore missing access grants from successful orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDB(cmd.Context(), func(ctx context.Context, db *sqlx.DB) error {
				payCfg := payment.ConfigFromEnv()
				books := book.NewService(bookrepo.NewBookRepo(db, c.dbCfg.QueryTimeout), nil, c.logger)
				engine := payment.NewEngine(books, orderrepo.NewOrderRepo(db, c.dbCfg.QueryTimeout),
					payment.NewGateway(payCfg, c.logger), payCfg, c.logger)
				n, err := engine.Reconcile(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d grants\n", n)
				return nil
			})
		},
	}
}
