package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resource-service/common/logger"
	commonmetrics "resource-service/common/metrics"
	"resource-service/internal/admin"
	"resource-service/internal/app"
	"resource-service/internal/config"
	"resource-service/internal/credential"
	"resource-service/internal/db"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	log := logger.NewWithServiceContext(app.ServiceName, app.Version)

	root := &cobra.Command{
		Use:           "resource-service",
		Short:         "Role-based resource distribution API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(log), migrateCmd(log), adminCmd(log))

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			application, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			if err := application.SeedDefaultAdmin(ctx); err != nil {
				log.Warn("admin seeding skipped", "error", err)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- application.Run()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			var runErr error
			select {
			case <-quit:
			case runErr = <-errCh:
				if runErr != nil {
					log.Error("server stopped", "error", runErr)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			log.Info("server exited gracefully")
			return runErr
		},
	}
}

func migrateCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, cfg *config.Config, database *bun.DB) error {
				if err := db.Migrate(ctx, database); err != nil {
					return err
				}
				log.Info("migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print migration status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, _ *config.Config, database *bun.DB) error {
				return db.MigrationStatus(ctx, database)
			})
		},
	})

	return cmd
}

func adminCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator account tools",
	}

	var email, password string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := readPassword()
				if err != nil {
					return err
				}
				password = p
			}

			return withDB(cmd.Context(), func(ctx context.Context, _ *config.Config, database *bun.DB) error {
				repo := admin.NewRepository(database, commonmetrics.NewMock())
				store, err := credential.NewStore(repo, credential.NewBcryptHasher(bcrypt.DefaultCost))
				if err != nil {
					return err
				}
				created, err := admin.NewSeeder(repo, store, log).Create(ctx, email, password)
				if err != nil {
					return err
				}
				log.Info("admin created", "id", created.ID, "email", created.Email)
				return nil
			})
		},
	}
	seed.Flags().StringVar(&email, "email", "", "admin email")
	seed.Flags().StringVar(&password, "password", "", "admin password (prompted when omitted)")
	_ = seed.MarkFlagRequired("email")

	cmd.AddCommand(seed)
	return cmd
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

func withDB(ctx context.Context, fn func(context.Context, *config.Config, *bun.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close(database)
	return fn(ctx, cfg, database)
}
