package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/funcscan/flowdesk/pkg/eventbus"
	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/notification"
	"github.com/funcscan/flowdesk/pkg/persistence"
	"github.com/funcscan/flowdesk/pkg/services"
	"github.com/funcscan/flowdesk/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const scheduledRunTimeout = 30 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	guard       guard.Guard
	validate    *validator.Validate

	hub       *notification.Hub
	scheduler *services.Scheduler
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	guard guard.Guard,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		guard:       guard,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		hub:         notification.NewHub(logger),
	}
}

func (a *API) App() *fiber.App {
	functional := services.NewFunctional(a.persistence, a.logger)
	notifier := services.NewNotifier(a.persistence, a.eventBus, a.guard, a.logger)
	execution := services.NewExecution(a.persistence, a.eventBus, a.guard, notifier, a.logger)
	a.scheduler = services.NewScheduler(execution, scheduledRunTimeout, a.logger)

	handlers := web.NewAPIHandlers(functional, execution, notifier, a.scheduler, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowdesk API")
	})

	handlers.Mount(app)

	return app
}

// Start serves the REST API on port and the notification websockets on wsPort until ctx is done.
func (a *API) Start(ctx context.Context, port, wsPort int) error {
	app := a.App()

	if err := a.hub.Relay(a.eventBus); err != nil {
		return err
	}

	if err := a.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	a.scheduler.Start()

	wsServer := &http.Server{
		Addr:              ":" + strconv.Itoa(wsPort),
		Handler:           a.hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 2)

	go func() {
		a.logger.Info("notification hub listening", "port", wsPort)

		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	var err error

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.scheduler.Stop(shutdownCtx)
	a.hub.Close()

	return errors.Join(err, wsServer.Shutdown(shutdownCtx), app.ShutdownWithContext(shutdownCtx))
}
