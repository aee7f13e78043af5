package graph

import (
	"sort"
	"strconv"

	"github.com/funcscan/flowdesk/pkg/models"
)

// Snapshot is the persisted form of a graph.
type Snapshot struct {
	Nodes map[string]SnapshotNode `json:"nodes" yaml:"nodes"`
	Edges []Edge                  `json:"edges" yaml:"edges"`
}

// SnapshotNode is a node inside a Snapshot, keyed by its editor-local id.
type SnapshotNode struct {
	ID       int      `json:"id"       yaml:"id"`
	Kind     Kind     `json:"kind"     yaml:"kind"`
	Data     NodeData `json:"data"     yaml:"data"`
	Position Position `json:"position" yaml:"position"`
	Ports    Ports    `json:"ports"    yaml:"ports"`
}

// NodeData is the plain data carried by a snapshot node.
type NodeData struct {
	DomainID       *int64               `json:"domain_id,omitempty"       yaml:"domain_id,omitempty"`
	Title          string               `json:"title"                     yaml:"title"`
	Description    string               `json:"description,omitempty"     yaml:"description,omitempty"`
	Settings       *models.StepSettings `json:"settings,omitempty"        yaml:"settings,omitempty"`
	Status         models.Status        `json:"status"                    yaml:"status"`
	ExecutionOrder int                  `json:"execution_order,omitempty" yaml:"execution_order,omitempty"`
	ParentID       *int                 `json:"parent_id,omitempty"       yaml:"parent_id,omitempty"`
}

// Ports lists the port names of a snapshot node.
type Ports struct {
	Inputs  []string `json:"inputs"  yaml:"inputs"`
	Outputs []string `json:"outputs" yaml:"outputs"`
}

// EmptySnapshot returns a valid snapshot without nodes or edges.
func EmptySnapshot() Snapshot {
	return Snapshot{Nodes: map[string]SnapshotNode{}, Edges: []Edge{}}
}

func portsFor(kind Kind) Ports {
	ports := Ports{Inputs: []string{}, Outputs: []string{}}
	if kind.Inputs() > 0 {
		ports.Inputs = append(ports.Inputs, InputPort)
	}

	if kind.Outputs() > 0 {
		ports.Outputs = append(ports.Outputs, OutputPort)
	}

	return ports
}

// ExportSnapshot serializes the graph.
func (g *Graph) ExportSnapshot() Snapshot {
	snap := Snapshot{
		Nodes: make(map[string]SnapshotNode, len(g.nodes)),
		Edges: make([]Edge, len(g.edges)),
	}

	for _, n := range g.Nodes() {
		data := NodeData{
			DomainID:       n.DomainID,
			Title:          n.Title,
			Description:    n.Description,
			Status:         n.Status,
			ExecutionOrder: n.ExecutionOrder,
			ParentID:       n.ParentID,
		}

		if n.Kind == KindStep {
			settings := n.Settings
			data.Settings = &settings
		}

		snap.Nodes[strconv.Itoa(n.ID)] = SnapshotNode{
			ID:       n.ID,
			Kind:     n.Kind,
			Data:     data,
			Position: n.Position,
			Ports:    portsFor(n.Kind),
		}
	}

	copy(snap.Edges, g.edges)

	return snap
}

// ImportSnapshot replaces the graph content with the snapshot. The snapshot is
// validated against the same rules as interactive edits; on error the graph is unchanged.
func (g *Graph) ImportSnapshot(snap Snapshot) error {
	const op = "ImportSnapshot"

	staged := &Graph{
		nodes:     make(map[int]*Node, len(snap.Nodes)),
		nextID:    1,
		observers: map[int]Observer{},
		logger:    g.logger,
	}

	entries := make([]SnapshotNode, 0, len(snap.Nodes))

	for key, sn := range snap.Nodes {
		id, err := strconv.Atoi(key)
		if err != nil || id <= 0 {
			return newError(op, 0, ErrInvariantViolation, "invalid node key %q", key)
		}

		if sn.ID != 0 && sn.ID != id {
			return newError(op, id, ErrInvariantViolation, "node key does not match id %d", sn.ID)
		}

		sn.ID = id
		entries = append(entries, sn)
	}

	// Parents before children.
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := kindRank(entries[i].Kind), kindRank(entries[j].Kind)
		if ri != rj {
			return ri < rj
		}

		return entries[i].ID < entries[j].ID
	})

	for _, sn := range entries {
		if err := staged.insertSnapshotNode(sn); err != nil {
			return err
		}
	}

	for _, e := range snap.Edges {
		if target := staged.nodes[e.To]; target != nil && target.Kind == KindStep &&
			target.Parent() == e.From && staged.hasInput(e.To) {
			continue
		}

		if err := staged.validateEdge(e.From, e.To); err != nil {
			return err
		}

		staged.edges = append(staged.edges, Edge{From: e.From, FromPort: OutputPort, To: e.To, ToPort: InputPort})
	}

	// Steps must stay wired to their test case even when the edge was not saved.
	for _, n := range staged.sortedNodes() {
		if n.Kind == KindStep && !staged.hasInput(n.ID) {
			staged.edges = append(staged.edges, Edge{From: n.Parent(), FromPort: OutputPort, To: n.ID, ToPort: InputPort})
		}
	}

	staged.reorder(RootScope)

	for _, tc := range staged.testCaseNodes() {
		staged.reorder(tc.ID)
	}

	g.nodes = staged.nodes
	g.edges = staged.edges
	g.nextID = staged.nextID
	g.emit(Event{Type: EventImported})

	return nil
}

func (g *Graph) insertSnapshotNode(sn SnapshotNode) error {
	const op = "ImportSnapshot"

	if !sn.Kind.Valid() {
		return newError(op, sn.ID, ErrInvariantViolation, "unknown kind %q", sn.Kind)
	}

	if sn.Kind == KindStart || sn.Kind == KindEnd {
		if _, exists := g.firstOfKind(sn.Kind); exists {
			return newError(op, sn.ID, ErrInvariantViolation, "duplicate %s node", sn.Kind)
		}
	}

	node := &Node{
		ID:             sn.ID,
		DomainID:       sn.Data.DomainID,
		Kind:           sn.Kind,
		Title:          sn.Data.Title,
		Description:    sn.Data.Description,
		Status:         sn.Data.Status.NodeStatus(),
		ExecutionOrder: sn.Data.ExecutionOrder,
		Position:       sn.Position,
	}

	if node.Title == "" {
		node.Title = sn.Kind.DefaultTitle()
	}

	if sn.Kind == KindStep {
		if sn.Data.ParentID == nil {
			return newError(op, sn.ID, ErrInvalidParent, "step without parent")
		}

		parent := g.nodes[*sn.Data.ParentID]
		if parent == nil || parent.Kind != KindTestCase {
			return newError(op, sn.ID, ErrInvalidParent, "parent %d is not a test case", *sn.Data.ParentID)
		}

		pid := *sn.Data.ParentID
		node.ParentID = &pid

		if sn.Data.Settings != nil {
			node.Settings = *sn.Data.Settings
		}
	}

	if node.HasDomainID() {
		if other := g.findByDomainID(node.Kind, *node.DomainID); other != nil {
			return newError(op, sn.ID, ErrInvariantViolation, "domain id %d used twice", *node.DomainID)
		}
	} else {
		node.DomainID = nil
	}

	g.nodes[node.ID] = node
	if node.ID >= g.nextID {
		g.nextID = node.ID + 1
	}

	return nil
}

func kindRank(kind Kind) int {
	switch kind {
	case KindStart:
		return 0
	case KindTestCase:
		return 1
	case KindStep:
		return 2
	default:
		return 3
	}
}
