package graph

import "github.com/funcscan/flowdesk/pkg/models"

// Kind is the type of a graph node.
type Kind string

const (
	KindStart    Kind = "start"
	KindEnd      Kind = "end"
	KindTestCase Kind = "testcase"
	KindStep     Kind = "step"
)

// Port names used on every node that has an input or output.
const (
	InputPort  = "input_1"
	OutputPort = "output_1"
)

// RootScope addresses the sibling group of test cases chained from Start.
const RootScope = 0

// Valid reports whether k is a known node kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStart, KindEnd, KindTestCase, KindStep:
		return true
	default:
		return false
	}
}

// DefaultTitle is the title given to a freshly added node.
func (k Kind) DefaultTitle() string {
	switch k {
	case KindStart:
		return "Start"
	case KindEnd:
		return "End"
	case KindTestCase:
		return "Test Case"
	case KindStep:
		return "Step Test"
	default:
		return string(k)
	}
}

// Inputs returns the number of input ports of the kind.
func (k Kind) Inputs() int {
	if k == KindStart {
		return 0
	}

	return 1
}

// Outputs returns the number of output ports of the kind.
func (k Kind) Outputs() int {
	if k == KindEnd {
		return 0
	}

	return 1
}

// Position is the canvas location of a node.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a vertex of the workflow graph.
//
// ID is editor-local and stable for the lifetime of the graph. DomainID ties
// test case and step nodes to their persisted rows once the backend assigned one.
type Node struct {
	ID             int
	DomainID       *int64
	Kind           Kind
	Title          string
	Description    string
	Settings       models.StepSettings
	Status         models.Status
	ExecutionOrder int
	ParentID       *int
	Position       Position
}

// HasDomainID reports whether the node was persisted.
func (n Node) HasDomainID() bool {
	return n.DomainID != nil && *n.DomainID > 0
}

// Parent returns the parent node id, or zero.
func (n Node) Parent() int {
	if n.ParentID == nil {
		return 0
	}

	return *n.ParentID
}

func (n Node) clone() Node {
	if n.DomainID != nil {
		id := *n.DomainID
		n.DomainID = &id
	}

	if n.ParentID != nil {
		id := *n.ParentID
		n.ParentID = &id
	}

	return n
}

// Edge is a directed connection from an output port to an input port.
type Edge struct {
	From     int    `json:"from"      yaml:"from"`
	FromPort string `json:"from_port" yaml:"from_port"`
	To       int    `json:"to"        yaml:"to"`
	ToPort   string `json:"to_port"   yaml:"to_port"`
}

// NodeUpdate carries the editable fields of a node. Nil fields are left unchanged.
type NodeUpdate struct {
	Title       *string
	Description *string
	Settings    *models.StepSettings
}
