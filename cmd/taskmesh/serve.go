package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/taskmesh/internal/auth"
	"github.com/mtlprog/taskmesh/internal/broker"
	"github.com/mtlprog/taskmesh/internal/config"
	"github.com/mtlprog/taskmesh/internal/database"
	"github.com/mtlprog/taskmesh/internal/gateway"
	"github.com/mtlprog/taskmesh/internal/handler"
	"github.com/mtlprog/taskmesh/internal/middleware"
	"github.com/mtlprog/taskmesh/internal/outbox"
	"github.com/mtlprog/taskmesh/internal/repository"
	"github.com/mtlprog/taskmesh/internal/service"
)

// Queue names. Each consuming service owns its queues, so a topic bound to
// two queues reaches both services.
const (
	queueTaskUsers     = "tasks.users"
	queueNotifications = "notifications.events"
)

// serviceSet selects which services a process hosts.
type serviceSet struct {
	tasks         bool
	notifications bool
	identity      bool
}

func (s serviceSet) name() string {
	switch {
	case s.tasks && s.notifications && s.identity:
		return "taskmesh"
	case s.tasks:
		return "tasks"
	case s.notifications:
		return "notifications"
	default:
		return "identity"
	}
}

// produces reports whether the process writes outbox rows and so must run a
// dispatcher.
func (s serviceSet) produces() bool {
	return s.tasks || s.identity
}

func serveCommand(name, usage string, set serviceSet) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{"PORT"},
			},
			outboxBatchFlag(),
			outboxPollFlag(),
			outboxAttemptsFlag(),
		},
		Action: func(c *cli.Context) error {
			return runServe(c, set)
		},
	}
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*database.DB, broker.Broker, error) {
	db, err := database.New(ctx, cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	br, err := broker.Open(cfg.BrokerURL, log)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	return db, br, nil
}

func newDispatcher(cfg config.Config, outboxRepo *repository.OutboxRepository, br broker.Broker, log *slog.Logger) *outbox.Dispatcher {
	emitter := broker.NewEmitter(br, broker.DefaultEmitterConfig(), log)
	return outbox.NewDispatcher(outboxRepo, emitter, outbox.Config{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, log)
}

func runServe(c *cli.Context, set serviceSet) error {
	cfg, log, err := loadConfig(c, set.name(), true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, br, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	defer func() {
		if err := br.Close(); err != nil {
			log.Warn("failed to close broker", "error", err)
		}
	}()

	pool := db.Pool()

	jwt, err := auth.NewJWT(cfg.JWTSecret, cfg.TokenLifetime, log)
	if err != nil {
		return err
	}

	outboxRepo := repository.NewOutboxRepository(pool)
	dispatcher := newDispatcher(cfg, outboxRepo, br, log)

	deps := handler.Deps{
		Pool:           pool,
		AuthMiddleware: middleware.NewAuthMiddleware(jwt),
		Outbox:         outboxRepo,
		Logger:         log,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	consume := func(q broker.Queue, mux *broker.Mux) error {
		// Declare before any dispatching so early events are queued.
		if err := br.Declare(ctx, q); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			broker.Run(runCtx, br, q, mux.Dispatch, log)
		}()
		return nil
	}

	if set.tasks {
		users := broker.NewMux()
		service.NewReplicator(repository.NewUserReadModelRepository(pool), log).Register(users)
		if err := consume(users.Queue(queueTaskUsers), users); err != nil {
			return err
		}

		deps.Tasks = service.NewTaskService(
			pool,
			repository.NewTaskRepository(pool),
			repository.NewAuditLogRepository(pool),
			repository.NewCommentRepository(pool),
			repository.NewUserReadModelRepository(pool),
			outboxRepo,
			dispatcher,
		)
	}

	var gw *gateway.Gateway
	if set.notifications {
		gw = gateway.New(jwt, log)
		notificationRepo := repository.NewNotificationRepository(pool)

		notifications := broker.NewMux()
		service.NewNotificationBuilder(notificationRepo, gw, log).Register(notifications)
		if err := consume(notifications.Queue(queueNotifications), notifications); err != nil {
			return err
		}

		deps.Notifications = service.NewNotificationService(notificationRepo)
		deps.Gateway = gw
	}

	if set.identity {
		deps.Users = service.NewUserService(pool, repository.NewIdentityUserRepository(pool), outboxRepo, dispatcher)
		deps.Issuer = jwt
	}

	if set.produces() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dispatcher.Run(runCtx); err != nil {
				log.Error("outbox dispatcher failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.New(deps).Routes(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "server_addr", "http://localhost:"+cfg.Port, "broker", cfg.BrokerURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	var gwStop shutdowner
	if gw != nil {
		gwStop = gw
	}
	runErr = errors.Join(runErr, shutdown(shutdownCtx, server, func() {
		cancel()
		wg.Wait()
	}, gwStop))

	log.Info("server stopped")
	return runErr
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops accepting requests, drains consumers and the dispatcher,
// and closes live connections last. gw may be nil.
func shutdown(ctx context.Context, server shutdowner, drain func(), gw shutdowner) error {
	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}

	drain()

	if gw != nil {
		if err := gw.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway shutdown failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

func runDispatchOutbox(c *cli.Context) error {
	cfg, log, err := loadConfig(c, "outbox", false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, br, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	defer func() {
		if err := br.Close(); err != nil {
			log.Warn("failed to close broker", "error", err)
		}
	}()

	if _, ok := br.(*broker.Memory); ok {
		log.Warn("dispatching to the in-process broker; events are dropped when this process exits")
	}

	dispatcher := newDispatcher(cfg, repository.NewOutboxRepository(db.Pool()), br, log)

	if !c.Bool("once") {
		return dispatcher.Run(ctx)
	}

	total := 0
	for {
		n, err := dispatcher.RunOnce(ctx)
		if err != nil {
			return err
		}
		total += n
		if n < cfg.OutboxBatchSize {
			break
		}
	}
	log.Info("outbox drained", "leased", total)
	return nil
}
