// Package editor orchestrates a workflow editing session: loading and saving the
// graph through the backend, structural edits, execution and live status updates.
package editor

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/funcscan/flowdesk/pkg/codec"
	"github.com/funcscan/flowdesk/pkg/graph"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/notification"
	"github.com/funcscan/flowdesk/pkg/otelhelper"
	"github.com/funcscan/flowdesk/pkg/reconciler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of an editing session.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateEditing State = "editing"
	StateSaving  State = "saving"
	StateRunning State = "running"
)

// Backend is the set of service calls the editor depends on.
type Backend interface {
	GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error)
	CreateTestCase(ctx context.Context, testCase *models.TestCase) (*models.TestCase, error)
	UpdateTestCase(ctx context.Context, testCase *models.TestCase) (*models.TestCase, error)
	CreateStepTest(ctx context.Context, step *models.StepTest) (*models.StepTest, error)
	UpdateStepTest(ctx context.Context, step *models.StepTest) (*models.StepTest, error)
	TestCasesByWorkflow(ctx context.Context, workflowID int64) ([]models.TestCase, error)
	StepTestsByTestCase(ctx context.Context, testCaseID int64) ([]models.StepTest, error)
	DeleteTestCase(ctx context.Context, id int64) error
	DeleteStepTest(ctx context.Context, id int64) error
	ExecuteWorkflow(ctx context.Context, workflowID, userID int64) (*models.ExecutionAck, error)
	Notifications(ctx context.Context, userID int64) ([]models.Notification, error)
}

// Feed streams live notifications of a user.
type Feed interface {
	Subscribe(ctx context.Context, userID int64) (<-chan models.Notification, error)
}

const DefaultTimeout = 15 * time.Second

// Controller owns the graph of one workflow. It is safe for concurrent use: backend
// calls run without holding the lock, and status updates only touch node status and
// title, so they interleave safely with saves and edits.
type Controller struct {
	mu sync.Mutex

	backend  Backend
	feed     Feed
	reporter Reporter
	tracer   trace.Tracer
	logger   *slog.Logger
	userID   int64
	timeout  time.Duration

	state      State
	prevState  State
	workflow   *models.Workflow
	graph      *graph.Graph
	rows       rowSet
	projection *Projection
	detach     func()
	reconciler *reconciler.Reconciler
	selected   int
	running    bool

	cancelWatch context.CancelFunc
}

type Option func(*Controller)

func WithFeed(feed Feed) Option {
	return func(c *Controller) {
		c.feed = feed
	}
}

func WithReporter(reporter Reporter) Option {
	return func(c *Controller) {
		c.reporter = reporter
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithTimeout bounds every backend call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		c.timeout = timeout
	}
}

// NewController returns an empty session acting for userID.
func NewController(backend Backend, userID int64, opts ...Option) *Controller {
	c := &Controller{
		backend: backend,
		userID:  userID,
		timeout: DefaultTimeout,
		state:   StateEmpty,
		logger:  slog.Default(),
		tracer:  otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("module", "editor")

	if c.reporter == nil {
		c.reporter = LogReporter{Logger: c.logger}
	}

	return c
}

// runIndicator receives workflow messages from the reconciler while c.mu is held.
type runIndicator struct {
	c *Controller
}

func (r runIndicator) SetRunning(workflowID int64, running bool) {
	c := r.c
	if c.workflow == nil || c.workflow.ID != workflowID {
		c.logger.Debug("ignoring run state of another workflow", "workflow_id", workflowID)

		return
	}

	c.setRunningLocked(running)
}

func (c *Controller) setRunningLocked(running bool) {
	c.running = running

	if c.projection != nil {
		c.projection.SetRunning(running)
	}

	switch {
	case running && (c.state == StateReady || c.state == StateEditing):
		c.prevState = c.state
		c.state = StateRunning
	case !running && c.state == StateRunning:
		c.state = cmp.Or(c.prevState, StateReady)
	}
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.timeout)
}

func (c *Controller) fail(op string, workflowID int64, err error) error {
	terr := &TransportError{Op: op, WorkflowID: workflowID, Err: err}
	c.logger.Error("backend call failed", "op", op, "workflow_id", workflowID, "error", err)
	c.reporter.Report(op, terr)

	return terr
}

// installLocked replaces the session graph.
func (c *Controller) installLocked(wf *models.Workflow, g *graph.Graph) {
	if c.detach != nil {
		c.detach()
	}

	c.workflow = wf
	c.graph = g
	c.rows = newRowSet(nil, nil)
	c.projection, c.detach = NewProjection(g)
	c.reconciler = reconciler.New(g, runIndicator{c: c}, c.logger)
	c.selected = 0
	c.running = false
	c.state = StateReady
	c.prevState = StateReady
}

// Load fetches the workflow, its test cases and their steps, and rebuilds the graph.
// On any failure the session falls back to a Start and End graph and the error is
// reported. Prior progress messages of the user are replayed oldest first.
func (c *Controller) Load(ctx context.Context, workflowID int64) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "editor.load",
		attribute.Int64(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	c.mu.Lock()
	c.state = StateLoading
	c.mu.Unlock()

	wf, testCases, steps, err := c.fetch(ctx, workflowID)

	var g *graph.Graph
	if err == nil {
		g, err = codec.FromRelational(wf, testCases, steps, c.logger)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		if wf == nil {
			wf = &models.Workflow{ID: workflowID}
		}

		g, _ = codec.FromRelational(&models.Workflow{ID: workflowID}, nil, nil, c.logger)

		c.mu.Lock()
		c.installLocked(wf, g)
		c.mu.Unlock()

		return c.fail("load", workflowID, err)
	}

	c.mu.Lock()
	c.installLocked(wf, g)
	c.rows = newRowSet(testCases, steps)
	c.mu.Unlock()

	c.replayHistory(ctx)

	c.logger.Info("workflow loaded", "workflow_id", workflowID,
		"test_cases", len(testCases), "steps", len(steps))

	return nil
}

func (c *Controller) fetch(ctx context.Context, workflowID int64) (*models.Workflow, []models.TestCase, []models.StepTest, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		wf        *models.Workflow
		testCases []models.TestCase
		stepsMu   sync.Mutex
		steps     []models.StepTest
	)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		w, err := c.backend.GetWorkflow(gctx, workflowID)
		if err != nil {
			return fmt.Errorf("get workflow: %w", err)
		}

		wf = w

		return nil
	})

	group.Go(func() error {
		tcs, err := c.backend.TestCasesByWorkflow(gctx, workflowID)
		if err != nil {
			return fmt.Errorf("list test cases: %w", err)
		}

		testCases = tcs

		stepGroup, sctx := errgroup.WithContext(gctx)

		for _, tc := range tcs {
			stepGroup.Go(func() error {
				s, err := c.backend.StepTestsByTestCase(sctx, tc.ID)
				if err != nil {
					return fmt.Errorf("list steps of test case %d: %w", tc.ID, err)
				}

				stepsMu.Lock()
				steps = append(steps, s...)
				stepsMu.Unlock()

				return nil
			})
		}

		return stepGroup.Wait()
	})

	if err := group.Wait(); err != nil {
		return wf, nil, nil, err
	}

	if wf == nil {
		return nil, nil, nil, errors.New("get workflow: empty response")
	}

	return wf, testCases, steps, nil
}

func (c *Controller) replayHistory(ctx context.Context) {
	if c.userID == 0 {
		return
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	history, err := c.backend.Notifications(ctx, c.userID)
	if err != nil {
		c.reporter.Report("history", &TransportError{Op: "history", WorkflowID: c.WorkflowID(), Err: err})

		return
	}

	history = slices.DeleteFunc(history, func(n models.Notification) bool { return !n.IsProgression() })
	slices.SortStableFunc(history, func(a, b models.Notification) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	for _, n := range history {
		c.Apply(n.Message)
	}
}

// Save persists the workflow with its snapshot, then creates or updates test cases
// and steps and deletes the rows of nodes removed since they were loaded or saved.
// Ids assigned by the backend are written back onto the nodes. A failure after the
// workflow was saved is reported without rolling it back.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()

	if err := c.requireLocked(StateReady, StateEditing); err != nil {
		c.mu.Unlock()

		return err
	}

	if c.workflow.ID <= 0 {
		c.mu.Unlock()

		return ErrNotPersisted
	}

	wf, err := c.workflowWithSnapshotLocked()
	if err != nil {
		c.mu.Unlock()

		return err
	}

	rel := codec.ToRelational(c.graph, wf.ID)
	staleTCs, staleSteps := c.rows.stale(rel)
	prev := c.state
	c.state = StateSaving
	c.mu.Unlock()

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "editor.save",
		attribute.Int64(otelhelper.WorkflowIDKey, wf.ID))
	defer span.End()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	saved, err := c.backend.UpdateWorkflow(ctx, wf)
	if err != nil {
		otelhelper.SetError(span, err)

		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()

		return c.fail("save", wf.ID, err)
	}

	assigned, rowErr := c.persistRows(ctx, rel)

	undeleted, delErr := c.deleteRows(ctx, staleTCs, staleSteps)
	rowErr = errors.Join(rowErr, delErr)

	c.mu.Lock()

	c.rows = savedRows(rel, assigned)
	c.rows.merge(undeleted)

	if saved != nil {
		saved.GraphSnapshot = wf.GraphSnapshot
		c.workflow = saved
	}

	newIDs := false

	for nodeID, domainID := range assigned {
		n, ok := c.graph.Node(nodeID)
		if !ok || n.HasDomainID() {
			continue
		}

		if err := c.graph.SetDomainID(nodeID, domainID); err != nil {
			c.logger.Warn("could not record backend id", "node_id", nodeID, "domain_id", domainID, "error", err)

			continue
		}

		newIDs = true
	}

	c.state = StateReady
	if c.running {
		c.state = StateRunning
	}

	var resave *models.Workflow
	if newIDs {
		resave, err = c.workflowWithSnapshotLocked()
		if err != nil {
			resave = nil
		}
	}

	c.mu.Unlock()

	if resave != nil {
		if _, err := c.backend.UpdateWorkflow(ctx, resave); err != nil {
			rowErr = errors.Join(rowErr, fmt.Errorf("store snapshot ids: %w", err))
		}
	}

	if rowErr != nil {
		otelhelper.SetError(span, rowErr)

		return c.fail("save", wf.ID, rowErr)
	}

	c.logger.Info("workflow saved", "workflow_id", wf.ID,
		"test_cases", len(rel.TestCases), "steps", len(rel.Steps), "new_ids", len(assigned),
		"deleted", len(staleTCs)+len(staleSteps))

	return nil
}

func (c *Controller) workflowWithSnapshotLocked() (*models.Workflow, error) {
	raw, err := json.Marshal(codec.SanitizeForTransport(c.graph))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	wf := *c.workflow
	wf.GraphSnapshot = raw
	wf.TestCases = nil

	return &wf, nil
}

// persistRows creates rows without id and updates the others. It returns the ids
// created, keyed by node id.
func (c *Controller) persistRows(ctx context.Context, rel codec.Relational) (map[int]int64, error) {
	assigned := make(map[int]int64)
	tcIDs := make(map[int]int64, len(rel.TestCases))

	var errs []error

	for _, row := range rel.TestCases {
		tc := row.TestCase

		var (
			saved *models.TestCase
			err   error
		)

		if tc.ID == 0 {
			saved, err = c.backend.CreateTestCase(ctx, &tc)
		} else {
			saved, err = c.backend.UpdateTestCase(ctx, &tc)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("test case %q: %w", tc.Title, err))

			continue
		}

		id := tc.ID
		if saved != nil && saved.ID != 0 {
			id = saved.ID
		}

		tcIDs[row.NodeID] = id

		if tc.ID == 0 {
			assigned[row.NodeID] = id
		}
	}

	for _, row := range rel.Steps {
		step := row.StepTest

		parentID, ok := tcIDs[row.ParentNodeID]
		if !ok {
			errs = append(errs, fmt.Errorf("step %q: test case was not saved", step.Title))

			continue
		}

		step.TestCaseID = parentID

		var (
			saved *models.StepTest
			err   error
		)

		if step.ID == 0 {
			saved, err = c.backend.CreateStepTest(ctx, &step)
		} else {
			saved, err = c.backend.UpdateStepTest(ctx, &step)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("step %q: %w", step.Title, err))

			continue
		}

		if step.ID == 0 && saved != nil && saved.ID != 0 {
			assigned[row.NodeID] = saved.ID
		}
	}

	return assigned, errors.Join(errs...)
}

// Execute resets node statuses, starts the run indicator and triggers a run of the
// saved workflow. If the trigger fails the indicator is reverted.
func (c *Controller) Execute(ctx context.Context) (*models.ExecutionAck, error) {
	c.mu.Lock()

	if err := c.requireLocked(StateReady, StateEditing); err != nil {
		c.mu.Unlock()

		return nil, err
	}

	if c.workflow.ID <= 0 {
		c.mu.Unlock()

		return nil, ErrNotPersisted
	}

	workflowID := c.workflow.ID
	c.graph.ResetStatuses()
	c.setRunningLocked(true)
	c.mu.Unlock()

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "editor.execute",
		attribute.Int64(otelhelper.WorkflowIDKey, workflowID),
		attribute.Int64(otelhelper.UserIDKey, c.userID))
	defer span.End()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ack, err := c.backend.ExecuteWorkflow(ctx, workflowID, c.userID)
	if err != nil {
		otelhelper.SetError(span, err)

		c.mu.Lock()
		c.setRunningLocked(false)
		c.mu.Unlock()

		return nil, c.fail("execute", workflowID, err)
	}

	if ack != nil {
		span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, ack.ExecutionID))
	}

	c.logger.Info("workflow execution started", "workflow_id", workflowID)

	return ack, nil
}

// UpdateDetails persists the workflow title and description only.
func (c *Controller) UpdateDetails(ctx context.Context, title, description string) error {
	c.mu.Lock()

	if c.workflow == nil {
		c.mu.Unlock()

		return ErrInvalidState
	}

	if c.workflow.ID <= 0 {
		c.mu.Unlock()

		return ErrNotPersisted
	}

	wf := *c.workflow
	wf.Title = title
	wf.Description = description
	wf.GraphSnapshot = nil
	wf.TestCases = nil
	c.mu.Unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.backend.UpdateWorkflow(ctx, &wf); err != nil {
		return c.fail("details", wf.ID, err)
	}

	c.mu.Lock()
	c.workflow.Title = title
	c.workflow.Description = description
	c.mu.Unlock()

	return nil
}

// Watch subscribes to the live progress stream and applies each message. A previous
// subscription is replaced. Missed messages during outages are not backfilled.
func (c *Controller) Watch(ctx context.Context) error {
	if c.feed == nil {
		return fmt.Errorf("%w: no notification feed configured", ErrInvalidState)
	}

	ctx, cancel := context.WithCancel(ctx)

	stream, err := c.feed.Subscribe(ctx, c.userID)
	if err != nil {
		cancel()

		return c.fail("watch", c.WorkflowID(), err)
	}

	c.mu.Lock()
	if c.cancelWatch != nil {
		c.cancelWatch()
	}
	c.cancelWatch = cancel
	c.mu.Unlock()

	dedup := notification.NewDeduplicator(notification.DefaultDedupWindow)

	go func() {
		for n := range notification.Filter(stream, notification.ProgressionOnly, dedup.Unseen) {
			c.Apply(n.Message)
		}

		c.logger.Debug("notification stream ended", "user_id", c.userID)
	}()

	return nil
}

// Apply reconciles one progress message with the graph.
func (c *Controller) Apply(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconciler == nil {
		return false
	}

	return c.reconciler.Apply(msg)
}

// Close stops watching and discards the session, including unsaved edits.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}

	if c.detach != nil {
		c.detach()
		c.detach = nil
	}

	c.workflow = nil
	c.graph = nil
	c.projection = nil
	c.reconciler = nil
	c.selected = 0
	c.running = false
	c.state = StateEmpty
}

func (c *Controller) requireLocked(allowed ...State) error {
	if c.graph == nil || c.workflow == nil {
		return fmt.Errorf("%w: no workflow loaded", ErrInvalidState)
	}

	if !slices.Contains(allowed, c.state) {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}

	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

func (c *Controller) WorkflowID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.workflow == nil {
		return 0
	}

	return c.workflow.ID
}

// Workflow returns a copy of the loaded workflow.
func (c *Controller) Workflow() (models.Workflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.workflow == nil {
		return models.Workflow{}, false
	}

	return *c.workflow, true
}
