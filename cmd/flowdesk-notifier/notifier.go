package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/funcscan/flowdesk/pkg/eventbus"
	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/notification"
)

// Notifier relays bus notifications to the hub and logs finished executions.
type Notifier struct {
	logger   *slog.Logger
	eventBus eventbus.EventBus
	hub      *notification.Hub
}

func NewNotifier(logger *slog.Logger, eventBus eventbus.EventBus) *Notifier {
	return &Notifier{
		logger:   logger,
		eventBus: eventBus,
		hub:      notification.NewHub(logger),
	}
}

// Setup registers the event handlers. It must run before the bus subscribes.
func (n *Notifier) Setup() error {
	if err := n.hub.Relay(n.eventBus); err != nil {
		return err
	}

	return eventbus.On(n.eventBus, events.ExecutionFinishedEvent, func(ctx context.Context, finished *events.ExecutionFinished) error {
		n.logger.InfoContext(ctx, "workflow execution finished",
			"workflow_id", finished.WorkflowID,
			"user_id", finished.UserID,
			"status", finished.Status)

		return nil
	})
}

func (n *Notifier) Run(ctx context.Context, wsPort int) error {
	if err := n.Setup(); err != nil {
		return err
	}

	if err := n.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(wsPort),
		Handler:           n.hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)

	go func() {
		n.logger.Info("notification hub listening", "port", wsPort)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	var err error

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n.hub.Close()

	return errors.Join(err, server.Shutdown(shutdownCtx))
}
