// Package reconciler maps free-text execution progress messages onto graph nodes.
package reconciler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/funcscan/flowdesk/pkg/models"
)

var (
	// ErrUnrecognizedMessage indicates a message matched none of the known shapes.
	ErrUnrecognizedMessage = errors.New("unrecognized progress message")

	// ErrUnknownStatus indicates a message matched a shape but carried an unknown status.
	ErrUnknownStatus = errors.New("unknown status")
)

// Target is what a progress message reports on.
type Target string

const (
	TargetStep     Target = "step"
	TargetTestCase Target = "testcase"
	TargetWorkflow Target = "workflow"
)

// Event is the typed form of a progress message.
type Event struct {
	Target  Target
	ID      int64
	Status  models.Status
	Title   *string
	Current int
	Total   int
}

// Pattern turns messages of one shape into events.
type Pattern struct {
	Name  string
	Expr  *regexp.Regexp
	Build func(match []string) (Event, error)
}

// DefaultPatterns returns the known message shapes, most specific first.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "step-with-title",
			Expr:  regexp.MustCompile(`^Step (\d+):(\w+) (.+) \((\d+)/(\d+)\)$`),
			Build: titled(TargetStep),
		},
		{
			Name:  "step-simple",
			Expr:  regexp.MustCompile(`^Step (\d+):(\w+)\s+\((\d+)/(\d+)\)$`),
			Build: untitled(TargetStep),
		},
		{
			Name:  "testcase-with-title",
			Expr:  regexp.MustCompile(`^Test case (\d+):(\w+) '(.+)' \((\d+)/(\d+)\)$`),
			Build: titled(TargetTestCase),
		},
		{
			Name:  "testcase-simple",
			Expr:  regexp.MustCompile(`^Test case (\d+):(\w+)\s+\((\d+)/(\d+)\)$`),
			Build: untitled(TargetTestCase),
		},
		{
			Name:  "workflow",
			Expr:  regexp.MustCompile(`^Workflow (\d+):(\w+)(?:\s+'(.+)')?$`),
			Build: workflow,
		},
	}
}

// Parse classifies msg with the first matching pattern.
func Parse(patterns []Pattern, msg string) (Event, error) {
	for _, p := range patterns {
		match := p.Expr.FindStringSubmatch(msg)
		if match == nil {
			continue
		}

		event, err := p.Build(match)
		if err != nil {
			return Event{}, fmt.Errorf("%s: %w", p.Name, err)
		}

		return event, nil
	}

	return Event{}, ErrUnrecognizedMessage
}

func titled(target Target) func([]string) (Event, error) {
	return func(m []string) (Event, error) {
		event, err := base(target, m[1], m[2])
		if err != nil {
			return Event{}, err
		}

		title := m[3]
		event.Title = &title
		event.Current, event.Total = atoi(m[4]), atoi(m[5])

		return event, nil
	}
}

func untitled(target Target) func([]string) (Event, error) {
	return func(m []string) (Event, error) {
		event, err := base(target, m[1], m[2])
		if err != nil {
			return Event{}, err
		}

		event.Current, event.Total = atoi(m[3]), atoi(m[4])

		return event, nil
	}
}

func workflow(m []string) (Event, error) {
	event, err := base(TargetWorkflow, m[1], m[2])
	if err != nil {
		return Event{}, err
	}

	if m[3] != "" {
		title := m[3]
		event.Title = &title
	}

	return event, nil
}

func base(target Target, rawID, rawStatus string) (Event, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: id %q", ErrUnrecognizedMessage, rawID)
	}

	status, ok := models.ParseStatus(rawStatus)
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownStatus, rawStatus)
	}

	return Event{Target: target, ID: id, Status: status}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)

	return n
}

// FormatStep renders a step progress message. An empty title yields the untitled shape.
func FormatStep(id int64, status models.Status, title string, current, total int) string {
	if title == "" {
		return fmt.Sprintf("Step %d:%s  (%d/%d)", id, status, current, total)
	}

	return fmt.Sprintf("Step %d:%s %s (%d/%d)", id, status, title, current, total)
}

// FormatTestCase renders a test case progress message.
func FormatTestCase(id int64, status models.Status, title string, current, total int) string {
	if title == "" {
		return fmt.Sprintf("Test case %d:%s  (%d/%d)", id, status, current, total)
	}

	return fmt.Sprintf("Test case %d:%s '%s' (%d/%d)", id, status, title, current, total)
}

// FormatWorkflow renders a workflow progress message.
func FormatWorkflow(id int64, status models.Status, title string) string {
	if title == "" {
		return fmt.Sprintf("Workflow %d:%s", id, status)
	}

	return fmt.Sprintf("Workflow %d:%s '%s'", id, status, title)
}
