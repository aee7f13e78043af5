package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/funcscan/flowdesk/pkg/client"
	"github.com/funcscan/flowdesk/pkg/editor"
	"github.com/funcscan/flowdesk/pkg/log"
	"github.com/funcscan/flowdesk/pkg/notification"
	"github.com/funcscan/flowdesk/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "flowdesk-editor",
		Usage:                 "Inspect, run and edit functional test workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the flowdesk API",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("API_URL"),
			},
			&cli.StringFlag{
				Name:    "ws-url",
				Usage:   "Base URL of the notification hub",
				Value:   "ws://localhost:9092",
				Sources: cli.EnvVars("WS_URL"),
			},
			&cli.IntFlag{
				Name:    "user-id",
				Usage:   "User whose notifications drive the live status",
				Value:   1,
				Sources: cli.EnvVars("USER_ID"),
			},
			&cli.IntFlag{
				Name:    "reconnect-attempts",
				Usage:   "Reconnects tried after the notification stream drops",
				Value:   notification.DefaultReconnectAttempts,
				Sources: cli.EnvVars("RECONNECT_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "reconnect-interval",
				Usage:   "Wait between reconnects",
				Value:   notification.DefaultReconnectInterval,
				Sources: cli.EnvVars("RECONNECT_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "Timeout of each load, save and execute call",
				Value:   editor.DefaultTimeout,
				Sources: cli.EnvVars("REQUEST_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			showCommand(),
			watchCommand(),
			executeCommand(),
			exportCommand(),
			importCommand(),
		},
	}
}

// session is one loaded editor plus the resources backing it.
type session struct {
	api        *client.Client
	controller *editor.Controller
	shutdown   func(context.Context) error
	logger     *slog.Logger
}

func (s *session) Close(ctx context.Context) {
	s.controller.Close()

	if err := s.shutdown(ctx); err != nil {
		s.logger.Warn("Failed to flush traces", "error", err)
	}
}

// openSession loads the workflow named by the first argument.
func openSession(ctx context.Context, command *cli.Command) (*session, error) {
	workflowID, err := workflowArg(command)
	if err != nil {
		return nil, err
	}

	logger := log.WithModule("editor")
	api := client.New(command.String("api-url"), logger)
	feed := notification.NewClient(command.String("ws-url"), logger,
		notification.WithReconnect(command.Int("reconnect-attempts"), command.Duration("reconnect-interval")))

	opts := []editor.Option{
		editor.WithFeed(feed),
		editor.WithLogger(logger),
		editor.WithReporter(editor.LogReporter{Logger: logger}),
		editor.WithTimeout(command.Duration("request-timeout")),
	}

	shutdown := func(context.Context) error { return nil }

	if command.Bool("otel") {
		tracer, flush, err := otelhelper.NewTracer(ctx, "flowdesk-editor")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		opts = append(opts, editor.WithTracer(tracer))
		shutdown = flush
	}

	controller := editor.NewController(api, int64(command.Int("user-id")), opts...)
	if err := controller.Load(ctx, workflowID); err != nil {
		_ = shutdown(ctx)

		return nil, err
	}

	return &session{api: api, controller: controller, shutdown: shutdown, logger: logger}, nil
}

func workflowArg(command *cli.Command) (int64, error) {
	raw := command.Args().First()
	if raw == "" {
		return 0, fmt.Errorf("missing workflow id")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid workflow id %q", raw)
	}

	return id, nil
}

const pollInterval = 500 * time.Millisecond
