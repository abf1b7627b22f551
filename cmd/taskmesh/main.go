package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/taskmesh/internal/auth"
	"github.com/mtlprog/taskmesh/internal/config"
	"github.com/mtlprog/taskmesh/internal/database"
	"github.com/mtlprog/taskmesh/internal/logger"
)

func main() {
	app := &cli.App{
		Name:  "taskmesh",
		Usage: "Task tracker services connected by an event broker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   string(logger.FormatJSON),
				Usage:   "Log format (json, text)",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Aliases: []string{"d"},
				Value:   config.DefaultDatabaseURL,
				Usage:   "PostgreSQL database URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "broker-url",
				Aliases: []string{"b"},
				Value:   config.DefaultBrokerURL,
				Usage:   "Broker URL (amqp://... or memory://)",
				EnvVars: []string{"BROKER_URL"},
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				Usage:   "HMAC secret for access tokens",
				EnvVars: []string{"JWT_SECRET"},
			},
			&cli.DurationFlag{
				Name:    "token-lifetime",
				Value:   config.DefaultTokenLifetime,
				Usage:   "Lifetime of issued access tokens",
				EnvVars: []string{"TOKEN_LIFETIME"},
			},
		},
		Commands: []*cli.Command{
			serveCommand("serve", "Run every service in one process", serviceSet{tasks: true, notifications: true, identity: true}),
			serveCommand("serve-tasks", "Run the task service", serviceSet{tasks: true}),
			serveCommand("serve-notifications", "Run the notification service and websocket gateway", serviceSet{notifications: true}),
			serveCommand("serve-identity", "Run the identity service", serviceSet{identity: true}),
			{
				Name:  "dispatch-outbox",
				Usage: "Publish pending outbox events",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "once",
						Usage: "Drain due events and exit",
					},
					outboxBatchFlag(),
					outboxPollFlag(),
					outboxAttemptsFlag(),
				},
				Action: runDispatchOutbox,
			},
			{
				Name:  "migrate",
				Usage: "Manage database migrations",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "Apply all pending migrations", Action: migrateAction(database.RunMigrations)},
					{Name: "down", Usage: "Roll back the latest migration", Action: migrateAction(database.RollbackMigration)},
					{Name: "status", Usage: "Print migration status", Action: migrateAction(database.MigrationStatus)},
				},
			},
			{
				Name:  "issue-token",
				Usage: "Print an access token for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user-id",
						Aliases:  []string{"u"},
						Usage:    "User ID to put in the token subject",
						Required: true,
					},
				},
				Action: runIssueToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func outboxBatchFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "outbox-batch-size",
		Value:   config.DefaultOutboxBatchSize,
		Usage:   "Outbox rows leased per dispatch round",
		EnvVars: []string{"OUTBOX_BATCH_SIZE"},
	}
}

func outboxPollFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "outbox-poll-interval",
		Value:   config.DefaultOutboxPollInterval,
		Usage:   "Delay between outbox polls",
		EnvVars: []string{"OUTBOX_POLL_INTERVAL"},
	}
}

func outboxAttemptsFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "outbox-max-attempts",
		Value:   config.DefaultOutboxMaxAttempts,
		Usage:   "Publish attempts before an outbox event is marked dead",
		EnvVars: []string{"OUTBOX_MAX_ATTEMPTS"},
	}
}

// loadConfig resolves flags into a validated Config and installs the logger.
func loadConfig(c *cli.Context, service string, withAuth bool) (config.Config, *slog.Logger, error) {
	cfg := config.Default()
	cfg.LogLevel = c.String("log-level")
	cfg.DatabaseURL = c.String("database-url")
	cfg.BrokerURL = c.String("broker-url")
	cfg.JWTSecret = c.String("jwt-secret")
	cfg.TokenLifetime = c.Duration("token-lifetime")
	// Per-command flags read as zero values where a command lacks them.
	if port := c.String("port"); port != "" {
		cfg.Port = port
	}
	if n := c.Int("outbox-batch-size"); n > 0 {
		cfg.OutboxBatchSize = n
	}
	if d := c.Duration("outbox-poll-interval"); d > 0 {
		cfg.OutboxPollInterval = d
	}
	if n := c.Int("outbox-max-attempts"); n > 0 {
		cfg.OutboxMaxAttempts = n
	}

	log := logger.Setup(logger.ParseLevel(cfg.LogLevel), logger.Format(c.String("log-format")), service)

	err := cfg.Validate()
	if withAuth {
		err = errors.Join(err, cfg.ValidateAuth())
	}
	if err != nil {
		return cfg, log, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, log, nil
}

func migrateAction(fn func(context.Context, *pgxpool.Pool) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := c.Context
		logger.Setup(logger.ParseLevel(c.String("log-level")), logger.Format(c.String("log-format")), "migrate")

		databaseURL := c.String("database-url")
		if databaseURL == "" {
			return fmt.Errorf("database url is required")
		}

		db, err := database.New(ctx, databaseURL, database.DefaultPoolOptions())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		return fn(ctx, db.Pool())
	}
}

func runIssueToken(c *cli.Context) error {
	log := logger.Setup(logger.ParseLevel(c.String("log-level")), logger.Format(c.String("log-format")), "issue-token")

	lifetime := c.Duration("token-lifetime")
	if lifetime <= 0 {
		lifetime = config.DefaultTokenLifetime
	}

	issuer, err := auth.NewJWT(c.String("jwt-secret"), lifetime, log)
	if err != nil {
		return err
	}

	token, err := issuer.Issue(c.String("user-id"))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, token)
	return nil
}
