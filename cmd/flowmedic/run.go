package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/flowmedic/pkg/alerting"
	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/cmd"
	"github.com/dukex/flowmedic/pkg/config"
	"github.com/dukex/flowmedic/pkg/engine"
	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/dukex/flowmedic/pkg/events"
	"github.com/dukex/flowmedic/pkg/fixer"
	"github.com/dukex/flowmedic/pkg/healing"
	"github.com/dukex/flowmedic/pkg/intake"
	"github.com/dukex/flowmedic/pkg/log"
	"github.com/dukex/flowmedic/pkg/metrics"
	"github.com/dukex/flowmedic/pkg/otelhelper"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"github.com/dukex/flowmedic/pkg/web"
	"github.com/dukex/flowmedic/pkg/worker"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "flowmedic"
	shutdownTimeout = 10 * time.Second
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the scheduler, workers, healing loop, alerting and control API",
		Flags: config.Flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.Load(command)
			if err != nil {
				return err
			}

			log.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			logger := log.WithModule(serviceName)

			catalog, err := loadCatalog(cfg.CatalogPath)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to load pattern catalog", "error", err)

				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = run(ctx, cfg, catalog, logger)
			if err != nil {
				logger.ErrorContext(ctx, "flowmedic stopped with error", "error", err)
			}

			return err
		},
	}
}

func run(ctx context.Context, cfg *config.Config, catalog *classifier.Catalog, logger *slog.Logger) error {
	logger.InfoContext(ctx, "Initializing flowmedic", "event_bus", cfg.EventBus, "workers", cfg.Workers.Size)

	tracer, shutdownTracer, err := newTracer(ctx, cfg.OTELEnabled)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	defer func() {
		err := shutdownTracer(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		err := store.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(cfg.EventBus, cfg.KafkaBrokers, serviceName, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	err = subscribeAudit(ctx, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	m := metrics.New()
	notifier := eventbus.NewNotifier(bus, logger, m)

	client, err := engine.NewHTTPClient(cfg.Engine, tracer, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(store.Executions(), notifier, cfg.Policies, m, logger)
	pool := worker.NewPool(cfg.Workers, sched, client, store.Executions(), m, tracer, logger)
	clf := classifier.New(catalog, m, logger)
	fx := fixer.New(client, sched, fixer.NewRegistry(), notifier, tracer, fixer.Config{ValidationTimeout: cfg.ValidationTimeout}, logger)
	loop := healing.New(cfg.Healing, store.Executions(), store.HealingHistory(), clf, fx, notifier, m, logger)
	evaluator := alerting.New(cfg.AlertInterval, store, sched, notifier, m, logger)

	err = evaluator.Seed(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed alert rules: %w", err)
	}

	handlers := web.NewAPIHandlers(sched, store, clf, loop, validator.New(validator.WithRequiredStructEnabled()))
	app := web.NewApp(handlers, m.Handler())

	if cfg.HealingEnabled {
		err = loop.Start(ctx)
		if err != nil {
			return err
		}

		defer loop.Stop()
	}

	err = evaluator.Start(ctx)
	if err != nil {
		return err
	}

	defer evaluator.Stop()

	var consumer *intake.Consumer

	if cfg.RedisURL != "" {
		redisClient, err := intake.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}

		defer func() { _ = redisClient.Close() }()

		consumer = intake.New(redisClient, cfg.IntakeQueue, sched, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gctx)
	})

	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.InfoContext(gctx, "Control API listening", "port", cfg.APIPort)

		return app.Listen(":"+strconv.Itoa(cfg.APIPort), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.InfoContext(context.WithoutCancel(gctx), "Shutting down")
		sched.Close()

		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}

// nolint:ireturn
func newTracer(ctx context.Context, enabled bool) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	return otelhelper.NewTracer(ctx, serviceName)
}

// subscribeAudit logs the events that need an operator's attention.
func subscribeAudit(ctx context.Context, bus eventbus.EventBus, logger *slog.Logger) error {
	logger = logger.With("module", "audit")

	for _, eventType := range []events.EventType{
		events.AlertTriggeredEvent,
		events.HealingSuggestedEvent,
		events.HealingMaxRetriesEvent,
		events.HealingInconsistentEvent,
	} {
		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			logger.WarnContext(ctx, "Operator attention required", "event_type", eventType, "event", event)

			return nil
		})
		if err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}
