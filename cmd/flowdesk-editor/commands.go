package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/funcscan/flowdesk/pkg/editor"
	cli "github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print the nodes of a workflow with their status",
		ArgsUsage: "<workflow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			s, err := openSession(ctx, command)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			out := command.Root().Writer

			wf, _ := s.controller.Workflow()
			fmt.Fprintf(out, "Workflow %d: %s [%s]\n", wf.ID, wf.Title, wf.Status)

			if summary, err := s.api.Status(ctx, wf.ID); err == nil {
				fmt.Fprintf(out, "Steps: %d total, %d passed, %d failed, %d pending\n",
					summary.Total, summary.Passed, summary.Failed, summary.Pending)
			}

			return printCards(out, s.controller.Cards())
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow the live status of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "until-done",
				Usage: "Exit when the running workflow finishes",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			s, err := openSession(ctx, command)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if err := s.controller.Watch(ctx); err != nil {
				return err
			}

			return follow(ctx, command.Root().Writer, s.controller, command.Bool("until-done"))
		},
	}
}

func executeCommand() *cli.Command {
	return &cli.Command{
		Name:      "execute",
		Usage:     "Start a run of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Follow the run until it finishes",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			s, err := openSession(ctx, command)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			watch := command.Bool("watch")
			if watch {
				if err := s.controller.Watch(ctx); err != nil {
					return err
				}
			}

			ack, err := s.controller.Execute(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "Execution %s started for workflow %d\n", ack.ExecutionID, ack.WorkflowID)

			if !watch {
				return nil
			}

			return follow(ctx, command.Root().Writer, s.controller, true)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write the graph snapshot of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Snapshot format (json, yaml)",
				Value: formatJSON,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write, stdout when empty",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			s, err := openSession(ctx, command)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			data, err := encodeSnapshot(s.controller.ExportSnapshot(), command.String("format"))
			if err != nil {
				return err
			}

			if path := command.String("output"); path != "" {
				return os.WriteFile(path, data, 0o600)
			}

			_, err = command.Root().Writer.Write(data)

			return err
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace the graph of a workflow with a snapshot file and save it",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Snapshot file to import",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Snapshot format (json, yaml); guessed from the extension when empty",
			},
			&cli.BoolFlag{
				Name:  "as-new",
				Usage: "Create new test case and step rows instead of updating the exported ones",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.String("file")

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			format := command.String("format")
			if format == "" {
				format = formatFromPath(path)
			}

			snap, err := decodeSnapshot(data, format)
			if err != nil {
				return err
			}

			if command.Bool("as-new") {
				snap = detach(snap)
			}

			s, err := openSession(ctx, command)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if err := s.controller.ImportSnapshot(snap); err != nil {
				return err
			}

			if err := s.controller.Save(ctx); err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "Imported %d nodes into workflow %d\n",
				len(s.controller.Nodes()), s.controller.WorkflowID())

			return nil
		},
	}
}

func printCards(out io.Writer, cards []editor.Card) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tKIND\tTITLE\tSTATUS\tDETAIL")

	for _, card := range cards {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", card.NodeID, card.Kind, card.Title, card.Badge, card.Label)
	}

	return w.Flush()
}

// follow prints card badge changes until ctx ends, or until a seen run stops when untilDone is set.
func follow(ctx context.Context, out io.Writer, c *editor.Controller, untilDone bool) error {
	badges := map[int]string{}
	for _, card := range c.Cards() {
		badges[card.NodeID] = card.Badge
	}

	wasRunning := c.Running()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, card := range c.Cards() {
			if badges[card.NodeID] != card.Badge {
				badges[card.NodeID] = card.Badge
				fmt.Fprintf(out, "%s %q -> %s\n", card.Kind, card.FullTitle, card.Badge)
			}
		}

		running := c.Running()
		if untilDone && wasRunning && !running {
			fmt.Fprintln(out, "Run finished")

			return nil
		}

		wasRunning = wasRunning || running
	}
}
