// Package main provides a headless workflow editor working against the flowdesk API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().Run(ctx, os.Args)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "flowdesk-editor:", err)
		os.Exit(1)
	}
}
