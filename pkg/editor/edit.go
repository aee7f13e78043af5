package editor

import (
	"fmt"

	"github.com/funcscan/flowdesk/pkg/codec"
	"github.com/funcscan/flowdesk/pkg/graph"
)

// edit runs a structural change and moves the session to Editing.
func (c *Controller) edit(fn func(g *graph.Graph) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireLocked(StateReady, StateEditing); err != nil {
		return err
	}

	if err := fn(c.graph); err != nil {
		return err
	}

	c.state = StateEditing

	return nil
}

// AddTestCase appends a test case to the chain, before End.
func (c *Controller) AddTestCase() (graph.Node, error) {
	var node graph.Node

	err := c.edit(func(g *graph.Graph) error {
		n, err := g.AppendTestCase(codec.TestCasePosition(len(g.TestCases())))
		node = n

		return err
	})

	return node, err
}

// AddStepUnderTestCase adds a step at the end of a test case.
func (c *Controller) AddStepUnderTestCase(parentID int) (graph.Node, error) {
	var node graph.Node

	err := c.edit(func(g *graph.Graph) error {
		parent, ok := g.Node(parentID)
		if !ok || parent.Kind != graph.KindTestCase {
			return &graph.Error{Op: "AddStep", NodeID: parentID, Err: graph.ErrInvalidParent, Message: "not a test case"}
		}

		n, err := g.AddNode(graph.KindStep, &parentID, codec.StepPosition(parent.Position, len(g.Steps(parentID))))
		node = n

		return err
	})

	return node, err
}

// AddNode adds a node of any kind at position.
func (c *Controller) AddNode(kind graph.Kind, parentID *int, position graph.Position) (graph.Node, error) {
	var node graph.Node

	err := c.edit(func(g *graph.Graph) error {
		n, err := g.AddNode(kind, parentID, position)
		node = n

		return err
	})

	return node, err
}

// Select marks a node as the target of DeleteSelected. Zero clears the selection.
func (c *Controller) Select(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return fmt.Errorf("%w: no workflow loaded", ErrInvalidState)
	}

	if id != 0 {
		if _, ok := c.graph.Node(id); !ok {
			return &graph.Error{Op: "Select", NodeID: id, Err: graph.ErrNodeNotFound}
		}
	}

	c.selected = id

	return nil
}

func (c *Controller) Selected() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.selected
}

// DeleteSelected removes the selected node, with its steps for a test case.
func (c *Controller) DeleteSelected() error {
	return c.edit(func(g *graph.Graph) error {
		if c.selected == 0 {
			return ErrNoSelection
		}

		if err := g.RemoveNode(c.selected); err != nil {
			return err
		}

		c.selected = 0

		return nil
	})
}

func (c *Controller) UpdateNode(id int, update graph.NodeUpdate) error {
	return c.edit(func(g *graph.Graph) error { return g.UpdateNode(id, update) })
}

func (c *Controller) MoveNode(id int, position graph.Position) error {
	return c.edit(func(g *graph.Graph) error { return g.MoveNode(id, position) })
}

func (c *Controller) MoveStep(id, position int) error {
	return c.edit(func(g *graph.Graph) error { return g.MoveStep(id, position) })
}

func (c *Controller) Connect(from, to int) error {
	return c.edit(func(g *graph.Graph) error { return g.Connect(from, to) })
}

func (c *Controller) Disconnect(from, to int) error {
	return c.edit(func(g *graph.Graph) error { return g.Disconnect(from, to) })
}

// Clear removes every node and edge of the session graph.
func (c *Controller) Clear() error {
	return c.edit(func(g *graph.Graph) error {
		g.Clear()
		c.selected = 0

		return nil
	})
}

// ImportSnapshot replaces the session graph with snap.
func (c *Controller) ImportSnapshot(snap graph.Snapshot) error {
	return c.edit(func(g *graph.Graph) error {
		c.selected = 0

		return g.ImportSnapshot(snap)
	})
}

// Reset sets every node back to pending and stops the run indicator.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return fmt.Errorf("%w: no workflow loaded", ErrInvalidState)
	}

	c.graph.ResetStatuses()
	c.setRunningLocked(false)

	return nil
}

// ExportSnapshot returns the sanitized snapshot of the session graph.
func (c *Controller) ExportSnapshot() graph.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return graph.EmptySnapshot()
	}

	return codec.SanitizeForTransport(c.graph)
}

// Relational returns the row projection of the session graph.
func (c *Controller) Relational() codec.Relational {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil || c.workflow == nil {
		return codec.Relational{}
	}

	return codec.ToRelational(c.graph, c.workflow.ID)
}

func (c *Controller) Nodes() []graph.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return nil
	}

	return c.graph.Nodes()
}

func (c *Controller) Node(id int) (graph.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return graph.Node{}, false
	}

	return c.graph.Node(id)
}

func (c *Controller) Edges() []graph.Edge {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return nil
	}

	return c.graph.Edges()
}

// TestCases returns the test case nodes in execution order.
func (c *Controller) TestCases() []graph.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return nil
	}

	return c.graph.TestCases()
}

func (c *Controller) Steps(testCaseID int) []graph.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return nil
	}

	return c.graph.Steps(testCaseID)
}

// Cards returns the rendered nodes.
func (c *Controller) Cards() []Card {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.projection == nil {
		return nil
	}

	return c.projection.Cards()
}

func (c *Controller) Card(id int) (Card, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.projection == nil {
		return Card{}, false
	}

	return c.projection.Card(id)
}

// Refreshes returns how many times a node card was rendered.
func (c *Controller) Refreshes(id int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.projection == nil {
		return 0
	}

	return c.projection.Refreshes(id)
}
