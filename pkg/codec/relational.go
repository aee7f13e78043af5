// Package codec converts workflow graphs to and from their relational form
// (ordered test cases and step tests) and prepares snapshots for transport.
package codec

import (
	"cmp"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/funcscan/flowdesk/pkg/graph"
	"github.com/funcscan/flowdesk/pkg/models"
)

// Layout used when a graph is synthesized from rows.
var (
	StartPosition = graph.Position{X: -220, Y: -150}
	testCaseX     = -250.0
	testCaseY     = 10.0
	testCaseGap   = 250.0
	stepOffsetX   = 300.0
	stepGap       = 120.0
	endY          = 200.0
	endGap        = 100.0
)

// TestCasePosition is where the i-th (0-based) test case is placed.
func TestCasePosition(i int) graph.Position {
	return graph.Position{X: testCaseX, Y: testCaseY + float64(i)*testCaseGap}
}

// StepPosition is where the i-th (0-based) step of a test case at parent is placed.
func StepPosition(parent graph.Position, i int) graph.Position {
	return graph.Position{X: parent.X + stepOffsetX, Y: parent.Y + float64(i)*stepGap}
}

// EndPosition is where End goes below n test cases.
func EndPosition(n int) graph.Position {
	return graph.Position{X: StartPosition.X, Y: endY + float64(n)*endGap}
}

// TestCaseRow is a test case row and the node it came from.
type TestCaseRow struct {
	NodeID int
	models.TestCase
}

// StepRow is a step test row and the nodes it came from.
type StepRow struct {
	NodeID       int
	ParentNodeID int
	models.StepTest
}

// Relational is the row projection of a graph. Rows with a zero ID were never persisted.
type Relational struct {
	TestCases []TestCaseRow
	Steps     []StepRow
}

// Nested groups the steps under their test cases.
func (r Relational) Nested() []models.TestCase {
	out := make([]models.TestCase, 0, len(r.TestCases))

	for _, tc := range r.TestCases {
		nested := tc.TestCase
		nested.StepTests = nil

		for _, s := range r.Steps {
			if s.ParentNodeID == tc.NodeID {
				nested.StepTests = append(nested.StepTests, s.StepTest)
			}
		}

		out = append(out, nested)
	}

	return out
}

// ToRelational walks test cases in chain order and their steps, numbering both from 1.
func ToRelational(g *graph.Graph, workflowID int64) Relational {
	rel := Relational{TestCases: []TestCaseRow{}, Steps: []StepRow{}}

	for i, tc := range g.TestCases() {
		row := TestCaseRow{
			NodeID: tc.ID,
			TestCase: models.TestCase{
				ID:             domainID(tc),
				WorkflowID:     workflowID,
				Title:          tc.Title,
				ExecutionOrder: i + 1,
				Status:         tc.Status,
			},
		}
		rel.TestCases = append(rel.TestCases, row)

		for j, step := range g.Steps(tc.ID) {
			rel.Steps = append(rel.Steps, StepRow{
				NodeID:       step.ID,
				ParentNodeID: tc.ID,
				StepTest: models.StepTest{
					ID:             domainID(step),
					TestCaseID:     row.ID,
					Title:          step.Title,
					Description:    step.Description,
					Settings:       step.Settings,
					ExecutionOrder: j + 1,
					Status:         step.Status,
				},
			})
		}
	}

	return rel
}

func domainID(n graph.Node) int64 {
	if n.HasDomainID() {
		return *n.DomainID
	}

	return 0
}

// FromRelational builds the graph of a workflow. A saved snapshot is authoritative
// for layout and editor ids, while row titles and statuses win. Without a usable
// snapshot the graph is synthesized from row order.
func FromRelational(wf *models.Workflow, testCases []models.TestCase, steps []models.StepTest, logger *slog.Logger) (*graph.Graph, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger = logger.With("module", "codec")
	testCases = sortedTestCases(testCases)
	steps = sortedSteps(steps)

	if wf.HasSnapshot() {
		var snap graph.Snapshot
		if err := json.Unmarshal(wf.GraphSnapshot, &snap); err != nil {
			logger.Warn("ignoring unreadable snapshot", "workflow_id", wf.ID, "error", err)
		} else {
			g, err := fromSnapshot(snap, testCases, steps, logger)
			if err == nil {
				return g, nil
			}

			logger.Warn("ignoring invalid snapshot", "workflow_id", wf.ID, "error", err)
		}
	}

	return synthesize(testCases, steps, logger)
}

// FromRows rebuilds a graph from a row projection. Steps are matched to their test
// case by nesting, so rows that were never persisted keep their parentage.
func FromRows(wf *models.Workflow, rel Relational, logger *slog.Logger) (*graph.Graph, error) {
	return FromRelational(wf, rel.Nested(), nil, logger)
}

func synthesize(testCases []models.TestCase, steps []models.StepTest, logger *slog.Logger) (*graph.Graph, error) {
	g := graph.New(logger)

	start, err := g.AddNode(graph.KindStart, nil, StartPosition)
	if err != nil {
		return nil, err
	}

	prev := start.ID

	for i, tc := range testCases {
		node, err := g.AddNode(graph.KindTestCase, nil, TestCasePosition(i))
		if err != nil {
			return nil, err
		}

		if err := applyTestCase(g, node.ID, tc); err != nil {
			return nil, err
		}

		if err := g.Connect(prev, node.ID); err != nil {
			return nil, err
		}

		prev = node.ID

		if err := addSteps(g, node, stepsOf(tc, steps)); err != nil {
			return nil, err
		}
	}

	orphans := slices.DeleteFunc(slices.Clone(steps), func(s models.StepTest) bool {
		if s.TestCaseID <= 0 {
			return true
		}

		_, ok := g.FindByDomainID(graph.KindTestCase, s.TestCaseID)

		return ok
	})
	for _, s := range orphans {
		logger.Warn("step references unknown test case", "step_id", s.ID, "test_case_id", s.TestCaseID)
	}

	end, err := g.AddNode(graph.KindEnd, nil, EndPosition(len(testCases)))
	if err != nil {
		return nil, err
	}

	if err := g.Connect(prev, end.ID); err != nil {
		return nil, err
	}

	return g, nil
}

func fromSnapshot(snap graph.Snapshot, testCases []models.TestCase, steps []models.StepTest, logger *slog.Logger) (*graph.Graph, error) {
	tcByID := make(map[int64]models.TestCase, len(testCases))
	for _, tc := range testCases {
		tcByID[tc.ID] = tc
	}

	stepByID := make(map[int64]models.StepTest, len(steps))
	for _, s := range steps {
		stepByID[s.ID] = s
	}

	for key, sn := range snap.Nodes {
		if sn.Data.DomainID == nil {
			continue
		}

		id := *sn.Data.DomainID

		switch sn.Kind {
		case graph.KindTestCase:
			tc, ok := tcByID[id]
			if !ok {
				logger.Warn("snapshot test case has no row", "test_case_id", id)
				sn.Data.DomainID = nil

				break
			}

			sn.Data.Title = cmp.Or(tc.Title, sn.Data.Title)
			sn.Data.Status = tc.Status.NodeStatus()
		case graph.KindStep:
			s, ok := stepByID[id]
			if !ok {
				logger.Warn("snapshot step has no row", "step_id", id)
				sn.Data.DomainID = nil

				break
			}

			sn.Data.Title = cmp.Or(s.Title, sn.Data.Title)
			sn.Data.Description = s.Description
			sn.Data.Status = s.Status.NodeStatus()
			settings := s.Settings
			sn.Data.Settings = &settings
		}

		snap.Nodes[key] = sn
	}

	g := graph.New(logger)
	if err := g.ImportSnapshot(snap); err != nil {
		return nil, err
	}

	// Rows created outside the editor since the snapshot was taken.
	for _, tc := range testCases {
		if _, ok := g.FindByDomainID(graph.KindTestCase, tc.ID); ok {
			continue
		}

		node, err := g.AppendTestCase(nextTestCasePosition(g))
		if err != nil {
			return nil, err
		}

		if err := applyTestCase(g, node.ID, tc); err != nil {
			return nil, err
		}

		if len(tc.StepTests) > 0 {
			if err := addSteps(g, node, sortedSteps(tc.StepTests)); err != nil {
				return nil, err
			}
		}
	}

	for _, s := range steps {
		if _, ok := g.FindByDomainID(graph.KindStep, s.ID); ok {
			continue
		}

		if s.ID <= 0 {
			continue
		}

		parent, ok := g.FindByDomainID(graph.KindTestCase, s.TestCaseID)
		if !ok {
			logger.Warn("step references unknown test case", "step_id", s.ID, "test_case_id", s.TestCaseID)

			continue
		}

		if err := addSteps(g, parent, []models.StepTest{s}); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func addSteps(g *graph.Graph, parent graph.Node, steps []models.StepTest) error {
	offset := len(g.Steps(parent.ID))

	for i, s := range steps {
		pid := parent.ID

		node, err := g.AddNode(graph.KindStep, &pid, StepPosition(parent.Position, offset+i))
		if err != nil {
			return err
		}

		if s.ID > 0 {
			if err := g.SetDomainID(node.ID, s.ID); err != nil {
				return err
			}
		}

		title := cmp.Or(s.Title, graph.KindStep.DefaultTitle())
		desc := s.Description
		settings := s.Settings

		update := graph.NodeUpdate{Title: &title, Description: &desc}
		if models.ValidateStepSettings(settings) == nil {
			update.Settings = &settings
		}

		if err := g.UpdateNode(node.ID, update); err != nil {
			return err
		}

		if err := g.SetNodeStatus(node.ID, s.Status); err != nil {
			return err
		}
	}

	return nil
}

func applyTestCase(g *graph.Graph, nodeID int, tc models.TestCase) error {
	if tc.ID > 0 {
		if err := g.SetDomainID(nodeID, tc.ID); err != nil {
			return err
		}
	}

	title := cmp.Or(tc.Title, graph.KindTestCase.DefaultTitle())
	if err := g.UpdateNode(nodeID, graph.NodeUpdate{Title: &title}); err != nil {
		return err
	}

	return g.SetNodeStatus(nodeID, tc.Status)
}

// stepsOf returns the steps nested in tc, or else the persisted steps pointing at it.
func stepsOf(tc models.TestCase, steps []models.StepTest) []models.StepTest {
	if len(tc.StepTests) > 0 {
		return sortedSteps(tc.StepTests)
	}

	out := make([]models.StepTest, 0)
	if tc.ID <= 0 {
		return out
	}

	for _, s := range steps {
		if s.TestCaseID == tc.ID {
			out = append(out, s)
		}
	}

	return out
}

// nextTestCasePosition places a test case one gap below the current chain tail.
func nextTestCasePosition(g *graph.Graph) graph.Position {
	testCases := g.TestCases()
	if len(testCases) == 0 {
		return TestCasePosition(0)
	}

	tail := testCases[len(testCases)-1].Position

	return graph.Position{X: tail.X, Y: tail.Y + testCaseGap}
}

func sortedTestCases(testCases []models.TestCase) []models.TestCase {
	out := slices.Clone(testCases)
	slices.SortStableFunc(out, func(a, b models.TestCase) int {
		return cmp.Or(cmp.Compare(a.ExecutionOrder, b.ExecutionOrder), cmp.Compare(a.ID, b.ID))
	})

	return out
}

func sortedSteps(steps []models.StepTest) []models.StepTest {
	out := slices.Clone(steps)
	slices.SortStableFunc(out, func(a, b models.StepTest) int {
		return cmp.Or(cmp.Compare(a.ExecutionOrder, b.ExecutionOrder), cmp.Compare(a.ID, b.ID))
	})

	return out
}
