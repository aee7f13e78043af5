// Package main runs a standalone notification hub fed by the event bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/funcscan/flowdesk/pkg/cmd"
	"github.com/funcscan/flowdesk/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultWSPort = 9092

func main() {
	command := &cli.Command{
		Name:  "flowdesk-notifier",
		Usage: "Push notifications from the event bus to websocket subscribers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "ws-port",
				Usage:   "Port to run the notification websocket hub on",
				Value:   defaultWSPort,
				Sources: cli.EnvVars("WS_PORT"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
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

			logger := log.WithModule("notifier")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "notifier", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			return NewNotifier(logger, eventBus).Run(ctx, int(command.Int("ws-port")))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := command.Run(ctx, os.Args)

	stop()

	if err != nil {
		log.WithModule("notifier").Error("flowdesk-notifier stopped", "error", err)
		os.Exit(1)
	}
}
