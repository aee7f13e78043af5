// Package main provides the flowdesk API server: REST endpoints and the notification hub.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/funcscan/flowdesk/pkg/cmd"
	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort   = 9091
	defaultWSPort = 9092
)

func main() {
	command := &cli.Command{
		Name:                  "flowdesk-api",
		Usage:                 "Manage functional test workflows and stream their progress",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "ws-port",
				Usage:   "Port to run the notification websocket hub on",
				Value:   defaultWSPort,
				Sources: cli.EnvVars("WS_PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://path or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the execution guard; empty keeps it in memory",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "execution-ttl",
				Usage:   "How long a started execution blocks new runs of the same workflow",
				Value:   guard.DefaultTTL,
				Sources: cli.EnvVars("EXECUTION_TTL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Flowdesk API")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			executionGuard, closeGuard, err := cmd.NewGuard(ctx, command.String("redis-url"), command.Duration("execution-ttl"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := closeGuard(); err != nil {
					logger.ErrorContext(ctx, "Failed to close execution guard", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, eventBus, executionGuard)

			return api.Start(ctx, int(command.Int("port")), int(command.Int("ws-port")))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := command.Run(ctx, os.Args)

	stop()

	if err != nil {
		log.WithModule("api").Error("flowdesk-api stopped", "error", err)
		os.Exit(1)
	}
}
