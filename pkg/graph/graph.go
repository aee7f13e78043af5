// Package graph holds the in-memory workflow graph: start, end, test case and step
// nodes joined by directed edges, with the structural rules enforced on every mutation.
//
// A Graph is not safe for concurrent use. Owners serialize access, and observers are
// invoked synchronously after each mutation.
package graph

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/funcscan/flowdesk/pkg/models"
)

// EventType names a change notified to observers.
type EventType string

const (
	EventNodeAdded   EventType = "node_added"
	EventNodeUpdated EventType = "node_updated"
	EventNodeRemoved EventType = "node_removed"
	EventEdgeAdded   EventType = "edge_added"
	EventEdgeRemoved EventType = "edge_removed"
	EventCleared     EventType = "cleared"
	EventImported    EventType = "imported"
)

// Event describes a single change of the graph.
type Event struct {
	Type   EventType
	NodeID int
	Edge   Edge
}

// Observer receives graph events.
type Observer func(Event)

type Graph struct {
	nodes  map[int]*Node
	edges  []Edge
	nextID int

	observers    map[int]Observer
	nextObserver int

	logger *slog.Logger
}

func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Graph{
		nodes:     make(map[int]*Node),
		nextID:    1,
		observers: make(map[int]Observer),
		logger:    logger.With("module", "graph"),
	}
}

// Subscribe registers an observer and returns a function that removes it.
func (g *Graph) Subscribe(observer Observer) func() {
	id := g.nextObserver
	g.nextObserver++
	g.observers[id] = observer

	return func() {
		delete(g.observers, id)
	}
}

func (g *Graph) emit(event Event) {
	keys := make([]int, 0, len(g.observers))
	for k := range g.observers {
		keys = append(keys, k)
	}

	sort.Ints(keys)

	for _, k := range keys {
		g.observers[k](event)
	}
}

// AddNode adds a node of the given kind. Steps require the id of an existing test
// case as parent and are connected to it.
func (g *Graph) AddNode(kind Kind, parentID *int, position Position) (Node, error) {
	const op = "AddNode"

	if !kind.Valid() {
		return Node{}, newError(op, 0, ErrInvariantViolation, "unknown kind %q", kind)
	}

	switch kind {
	case KindStart, KindEnd:
		if _, exists := g.firstOfKind(kind); exists {
			return Node{}, newError(op, 0, ErrInvariantViolation, "graph already has a %s node", kind)
		}
	case KindStep:
		if parentID == nil {
			return Node{}, newError(op, 0, ErrInvalidParent, "step requires a test case parent")
		}

		parent, ok := g.nodes[*parentID]
		if !ok || parent.Kind != KindTestCase {
			return Node{}, newError(op, *parentID, ErrInvalidParent, "parent is not a test case")
		}
	}

	if kind != KindStep && parentID != nil {
		return Node{}, newError(op, *parentID, ErrInvalidParent, "only steps have a parent")
	}

	node := &Node{
		ID:       g.nextID,
		Kind:     kind,
		Title:    kind.DefaultTitle(),
		Status:   models.StatusPending,
		Position: position,
	}
	g.nextID++

	switch kind {
	case KindTestCase:
		node.ExecutionOrder = len(g.testCaseNodes()) + 1
	case KindStep:
		pid := *parentID
		node.ParentID = &pid
		node.ExecutionOrder = len(g.stepNodes(pid)) + 1
	}

	g.nodes[node.ID] = node
	g.emit(Event{Type: EventNodeAdded, NodeID: node.ID})

	if kind == KindStep {
		g.addEdge(Edge{From: *parentID, FromPort: OutputPort, To: node.ID, ToPort: InputPort})
		g.reorder(*parentID)
	} else {
		g.reorder(RootScope)
	}

	return node.clone(), nil
}

// AppendTestCase adds a test case at the tail of the chain, just before End.
func (g *Graph) AppendTestCase(position Position) (Node, error) {
	node, err := g.AddNode(KindTestCase, nil, position)
	if err != nil {
		return Node{}, err
	}

	end, hasEnd := g.firstOfKind(KindEnd)

	if tail := g.chainTail(); tail != nil {
		if hasEnd {
			idx := slices.IndexFunc(g.edges, func(e Edge) bool { return e.From == tail.ID && e.To == end.ID })
			if idx >= 0 {
				g.removeEdgeAt(idx)
			}
		}

		g.addEdge(Edge{From: tail.ID, FromPort: OutputPort, To: node.ID, ToPort: InputPort})
	}

	if hasEnd && !g.hasInput(end.ID) {
		g.addEdge(Edge{From: node.ID, FromPort: OutputPort, To: end.ID, ToPort: InputPort})
	}

	g.reorder(RootScope)

	return g.nodes[node.ID].clone(), nil
}

// chainTail returns the last node of the Start chain before End, or nil without Start.
func (g *Graph) chainTail() *Node {
	start, ok := g.firstOfKind(KindStart)
	if !ok {
		return nil
	}

	tail := start
	seen := map[int]bool{start.ID: true}

	for next := g.successor(tail.ID); next != nil && next.Kind == KindTestCase && !seen[next.ID]; next = g.successor(tail.ID) {
		seen[next.ID] = true
		tail = next
	}

	return tail
}

// Connect joins the output of from to the input of to.
func (g *Graph) Connect(from, to int) error {
	if err := g.validateEdge(from, to); err != nil {
		return err
	}

	g.addEdge(Edge{From: from, FromPort: OutputPort, To: to, ToPort: InputPort})
	g.reorder(RootScope)

	return nil
}

func (g *Graph) validateEdge(from, to int) error {
	const op = "Connect"

	source, ok := g.nodes[from]
	if !ok {
		return newError(op, from, ErrNodeNotFound, "source missing")
	}

	target, ok := g.nodes[to]
	if !ok {
		return newError(op, to, ErrNodeNotFound, "target missing")
	}

	switch {
	case from == to:
		return newError(op, from, ErrInvariantViolation, "node cannot connect to itself")
	case source.Kind.Outputs() == 0:
		return newError(op, from, ErrInvariantViolation, "%s node has no outputs", source.Kind)
	case target.Kind.Inputs() == 0:
		return newError(op, to, ErrInvariantViolation, "%s node has no inputs", target.Kind)
	case source.Kind == KindStep:
		return newError(op, from, ErrInvariantViolation, "steps cannot be chained")
	case g.hasInput(to):
		return newError(op, to, ErrInvariantViolation, "node already has an input")
	}

	if target.Kind == KindStep {
		if target.Parent() != from {
			return newError(op, to, ErrInvalidParent, "step can only be fed by its test case")
		}

		return nil
	}

	if succ := g.successor(from); succ != nil {
		return newError(op, from, ErrInvariantViolation, "node already continues to %d", succ.ID)
	}

	if g.reachable(to, from) {
		return newError(op, from, ErrInvariantViolation, "edge to %d would create a cycle", to)
	}

	return nil
}

// Disconnect removes the edge between from and to. The edge binding a step to its
// test case cannot be removed on its own.
func (g *Graph) Disconnect(from, to int) error {
	const op = "Disconnect"

	idx := slices.IndexFunc(g.edges, func(e Edge) bool { return e.From == from && e.To == to })
	if idx < 0 {
		return newError(op, from, ErrEdgeNotFound, "no edge to %d", to)
	}

	if target := g.nodes[to]; target != nil && target.Kind == KindStep {
		return newError(op, to, ErrInvariantViolation, "step must stay attached to its test case")
	}

	g.removeEdgeAt(idx)
	g.reorder(RootScope)

	return nil
}

// RemoveNode deletes a node and its edges. Removing a test case also removes its
// steps, and its predecessor is reconnected to its successor.
func (g *Graph) RemoveNode(id int) error {
	node, ok := g.nodes[id]
	if !ok {
		return newError("RemoveNode", id, ErrNodeNotFound, "")
	}

	var pred, succ *Node
	if node.Kind == KindTestCase {
		pred = g.predecessor(id)
		succ = g.successor(id)
	}

	removed := map[int]bool{id: true}
	if node.Kind == KindTestCase {
		for _, step := range g.stepNodes(id) {
			removed[step.ID] = true
		}
	}

	for i := len(g.edges) - 1; i >= 0; i-- {
		if removed[g.edges[i].From] || removed[g.edges[i].To] {
			g.removeEdgeAt(i)
		}
	}

	ids := make([]int, 0, len(removed))
	for rid := range removed {
		ids = append(ids, rid)
	}

	// Steps are notified before their test case.
	sort.Slice(ids, func(i, j int) bool {
		ki, kj := g.nodes[ids[i]].Kind == KindStep, g.nodes[ids[j]].Kind == KindStep
		if ki != kj {
			return ki
		}

		return ids[i] < ids[j]
	})

	for _, rid := range ids {
		delete(g.nodes, rid)
		g.emit(Event{Type: EventNodeRemoved, NodeID: rid})
	}

	if pred != nil && succ != nil {
		g.addEdge(Edge{From: pred.ID, FromPort: OutputPort, To: succ.ID, ToPort: InputPort})
	}

	if node.Kind == KindStep {
		g.reorder(node.Parent())
	} else {
		g.reorder(RootScope)
	}

	return nil
}

// ReorderSiblings recomputes execution orders as 1..N for the test cases of the
// root chain (RootScope) or for the steps of the given test case.
func (g *Graph) ReorderSiblings(scope int) error {
	if scope != RootScope {
		parent, ok := g.nodes[scope]
		if !ok {
			return newError("ReorderSiblings", scope, ErrNodeNotFound, "")
		}

		if parent.Kind != KindTestCase {
			return newError("ReorderSiblings", scope, ErrInvalidParent, "scope is not a test case")
		}
	}

	g.reorder(scope)

	return nil
}

// MoveStep moves a step to the 1-based position within its test case.
func (g *Graph) MoveStep(stepID, position int) error {
	step, ok := g.nodes[stepID]
	if !ok || step.Kind != KindStep {
		return newError("MoveStep", stepID, ErrNodeNotFound, "not a step")
	}

	siblings := g.stepNodes(step.Parent())
	siblings = slices.DeleteFunc(siblings, func(n *Node) bool { return n.ID == stepID })

	idx := min(max(position-1, 0), len(siblings))
	siblings = slices.Insert(siblings, idx, step)

	g.assignOrders(siblings)

	return nil
}

func (g *Graph) reorder(scope int) {
	if scope == RootScope {
		g.assignOrders(g.chainOrder())

		return
	}

	if _, ok := g.nodes[scope]; ok {
		g.assignOrders(g.stepNodes(scope))
	}
}

func (g *Graph) assignOrders(siblings []*Node) {
	for i, n := range siblings {
		if n.ExecutionOrder != i+1 {
			n.ExecutionOrder = i + 1
			g.emit(Event{Type: EventNodeUpdated, NodeID: n.ID})
		}
	}
}

// chainOrder walks test cases from Start; unchained ones follow by previous order.
func (g *Graph) chainOrder() []*Node {
	ordered := make([]*Node, 0)
	seen := make(map[int]bool)

	if start, ok := g.firstOfKind(KindStart); ok {
		seen[start.ID] = true

		for cur := g.successor(start.ID); cur != nil && !seen[cur.ID]; cur = g.successor(cur.ID) {
			seen[cur.ID] = true

			if cur.Kind == KindTestCase {
				ordered = append(ordered, cur)
			}
		}
	}

	rest := make([]*Node, 0)
	for _, n := range g.testCaseNodes() {
		if !seen[n.ID] {
			rest = append(rest, n)
		}
	}

	return append(ordered, rest...)
}

// SetStatus applies a reported status to the test case or step persisted as domainID.
// A non-empty title replaces the node title. Unknown targets are logged and reported
// with ErrNodeNotFound; callers treat that as a recoverable miss.
func (g *Graph) SetStatus(domainID int64, kind Kind, status models.Status, title *string) error {
	node := g.findByDomainID(kind, domainID)
	if node == nil {
		g.logger.Warn("status update for untracked node", "domain_id", domainID, "kind", kind, "status", status)

		return newError("SetStatus", 0, ErrNodeNotFound, "%s with domain id %d", kind, domainID)
	}

	changed := false

	if next := status.NodeStatus(); node.Status != next {
		node.Status = next
		changed = true
	}

	if title != nil {
		if t := strings.TrimSpace(*title); t != "" && node.Title != t {
			node.Title = t
			changed = true
		}
	}

	if changed {
		g.emit(Event{Type: EventNodeUpdated, NodeID: node.ID})
	}

	return nil
}

// SetNodeStatus applies status to a test case or step addressed by editor id.
// Nodes without a domain id cannot be reached through SetStatus.
func (g *Graph) SetNodeStatus(id int, status models.Status) error {
	node, ok := g.nodes[id]
	if !ok {
		return newError("SetNodeStatus", id, ErrNodeNotFound, "")
	}

	if node.Kind != KindTestCase && node.Kind != KindStep {
		return newError("SetNodeStatus", id, ErrInvariantViolation, "%s nodes have no status", node.Kind)
	}

	if next := status.NodeStatus(); node.Status != next {
		node.Status = next
		g.emit(Event{Type: EventNodeUpdated, NodeID: id})
	}

	return nil
}

// ResetStatuses sets every test case and step back to pending.
func (g *Graph) ResetStatuses() {
	for _, n := range g.sortedNodes() {
		if (n.Kind == KindTestCase || n.Kind == KindStep) && n.Status != models.StatusPending {
			n.Status = models.StatusPending
			g.emit(Event{Type: EventNodeUpdated, NodeID: n.ID})
		}
	}
}

// SetDomainID records the backend id of a test case or step.
func (g *Graph) SetDomainID(id int, domainID int64) error {
	const op = "SetDomainID"

	node, ok := g.nodes[id]
	if !ok {
		return newError(op, id, ErrNodeNotFound, "")
	}

	if node.Kind != KindTestCase && node.Kind != KindStep {
		return newError(op, id, ErrInvariantViolation, "%s nodes have no domain id", node.Kind)
	}

	if domainID <= 0 {
		return newError(op, id, ErrInvariantViolation, "domain id %d is not a persisted id", domainID)
	}

	if other := g.findByDomainID(node.Kind, domainID); other != nil && other.ID != id {
		return newError(op, id, ErrInvariantViolation, "domain id %d already used by node %d", domainID, other.ID)
	}

	node.DomainID = &domainID
	g.emit(Event{Type: EventNodeUpdated, NodeID: id})

	return nil
}

// UpdateNode changes the editable fields of a node.
func (g *Graph) UpdateNode(id int, update NodeUpdate) error {
	const op = "UpdateNode"

	node, ok := g.nodes[id]
	if !ok {
		return newError(op, id, ErrNodeNotFound, "")
	}

	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return newError(op, id, ErrInvariantViolation, "title must not be empty")
	}

	if update.Settings != nil {
		if node.Kind != KindStep {
			return newError(op, id, ErrInvariantViolation, "only steps carry settings")
		}

		if err := models.ValidateStepSettings(*update.Settings); err != nil {
			return &Error{Op: op, NodeID: id, Err: err}
		}
	}

	if update.Title != nil {
		node.Title = strings.TrimSpace(*update.Title)
	}

	if update.Description != nil {
		node.Description = *update.Description
	}

	if update.Settings != nil {
		node.Settings = update.Settings.WithDefaults()
	}

	g.emit(Event{Type: EventNodeUpdated, NodeID: id})

	return nil
}

// MoveNode changes the canvas position of a node.
func (g *Graph) MoveNode(id int, position Position) error {
	node, ok := g.nodes[id]
	if !ok {
		return newError("MoveNode", id, ErrNodeNotFound, "")
	}

	node.Position = position
	g.emit(Event{Type: EventNodeUpdated, NodeID: id})

	return nil
}

// Clear removes every node and edge.
func (g *Graph) Clear() {
	g.nodes = make(map[int]*Node)
	g.edges = nil
	g.nextID = 1
	g.emit(Event{Type: EventCleared})
}

func (g *Graph) Node(id int) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}

	return n.clone(), true
}

// Nodes returns copies of all nodes ordered by id.
func (g *Graph) Nodes() []Node {
	return cloneAll(g.sortedNodes())
}

func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) Start() (Node, bool) {
	n, ok := g.firstOfKind(KindStart)
	if !ok {
		return Node{}, false
	}

	return n.clone(), true
}

func (g *Graph) End() (Node, bool) {
	n, ok := g.firstOfKind(KindEnd)
	if !ok {
		return Node{}, false
	}

	return n.clone(), true
}

// TestCases returns the test cases in execution order.
func (g *Graph) TestCases() []Node {
	return cloneAll(g.testCaseNodes())
}

// Steps returns the steps of a test case in execution order.
func (g *Graph) Steps(testCaseID int) []Node {
	return cloneAll(g.stepNodes(testCaseID))
}

// FindByDomainID returns the node of the given kind persisted as domainID.
func (g *Graph) FindByDomainID(kind Kind, domainID int64) (Node, bool) {
	n := g.findByDomainID(kind, domainID)
	if n == nil {
		return Node{}, false
	}

	return n.clone(), true
}

// Successor returns the next non-step node in the chain after id.
func (g *Graph) Successor(id int) (Node, bool) {
	n := g.successor(id)
	if n == nil {
		return Node{}, false
	}

	return n.clone(), true
}

// Predecessor returns the node feeding id.
func (g *Graph) Predecessor(id int) (Node, bool) {
	n := g.predecessor(id)
	if n == nil {
		return Node{}, false
	}

	return n.clone(), true
}

func (g *Graph) addEdge(edge Edge) {
	g.edges = append(g.edges, edge)
	g.emit(Event{Type: EventEdgeAdded, NodeID: edge.To, Edge: edge})
}

func (g *Graph) removeEdgeAt(idx int) {
	edge := g.edges[idx]
	g.edges = slices.Delete(g.edges, idx, idx+1)
	g.emit(Event{Type: EventEdgeRemoved, NodeID: edge.To, Edge: edge})
}

func (g *Graph) hasInput(id int) bool {
	return slices.ContainsFunc(g.edges, func(e Edge) bool { return e.To == id })
}

func (g *Graph) successor(id int) *Node {
	for _, e := range g.edges {
		if e.From != id {
			continue
		}

		if target := g.nodes[e.To]; target != nil && target.Kind != KindStep {
			return target
		}
	}

	return nil
}

func (g *Graph) predecessor(id int) *Node {
	for _, e := range g.edges {
		if e.To == id {
			return g.nodes[e.From]
		}
	}

	return nil
}

// reachable reports whether to can be reached from from by following edges.
func (g *Graph) reachable(from, to int) bool {
	visited := map[int]bool{}
	stack := []int{from}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur == to {
			return true
		}

		if visited[cur] {
			continue
		}

		visited[cur] = true

		for _, e := range g.edges {
			if e.From == cur {
				stack = append(stack, e.To)
			}
		}
	}

	return false
}

func (g *Graph) firstOfKind(kind Kind) (*Node, bool) {
	for _, n := range g.sortedNodes() {
		if n.Kind == kind {
			return n, true
		}
	}

	return nil, false
}

func (g *Graph) findByDomainID(kind Kind, domainID int64) *Node {
	for _, n := range g.sortedNodes() {
		if n.Kind == kind && n.DomainID != nil && *n.DomainID == domainID {
			return n
		}
	}

	return nil
}

func (g *Graph) sortedNodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return nodes
}

func (g *Graph) testCaseNodes() []*Node {
	return g.siblings(func(n *Node) bool { return n.Kind == KindTestCase })
}

func (g *Graph) stepNodes(testCaseID int) []*Node {
	return g.siblings(func(n *Node) bool { return n.Kind == KindStep && n.Parent() == testCaseID })
}

func (g *Graph) siblings(match func(*Node) bool) []*Node {
	out := make([]*Node, 0)

	for _, n := range g.sortedNodes() {
		if match(n) {
			out = append(out, n)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExecutionOrder != out[j].ExecutionOrder {
			return out[i].ExecutionOrder < out[j].ExecutionOrder
		}

		return out[i].ID < out[j].ID
	})

	return out
}

func cloneAll(nodes []*Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.clone()
	}

	return out
}

// String renders the chain for debugging.
func (g *Graph) String() string {
	var b strings.Builder

	for _, tc := range g.chainOrder() {
		fmt.Fprintf(&b, "%d:%s[", tc.ID, tc.Title)

		for i, s := range g.stepNodes(tc.ID) {
			if i > 0 {
				b.WriteString(",")
			}

			fmt.Fprintf(&b, "%d:%s", s.ID, s.Title)
		}

		b.WriteString("] ")
	}

	return strings.TrimSpace(b.String())
}
