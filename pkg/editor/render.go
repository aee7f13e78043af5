package editor

import (
	"fmt"
	"sort"

	"github.com/funcscan/flowdesk/pkg/graph"
	"github.com/funcscan/flowdesk/pkg/models"
)

const (
	maxCardTitle = 20

	IconIdle    = "play_arrow"
	IconRunning = "autorenew"
	IconEnd     = "flag"
)

// Card is the rendered form of a node.
type Card struct {
	NodeID    int
	Kind      graph.Kind
	Title     string
	FullTitle string
	Label     string
	Badge     string
	Icon      string
	Position  graph.Position
}

// Projection keeps one card per node, refreshed from graph events.
type Projection struct {
	g         *graph.Graph
	cards     map[int]Card
	refreshes map[int]int
	running   bool
}

// NewProjection renders g and follows its changes until the returned function is called.
func NewProjection(g *graph.Graph) (*Projection, func()) {
	p := &Projection{
		g:         g,
		cards:     make(map[int]Card),
		refreshes: make(map[int]int),
	}

	p.renderAll()
	unsubscribe := g.Subscribe(p.handle)

	return p, unsubscribe
}

func (p *Projection) handle(event graph.Event) {
	switch event.Type {
	case graph.EventNodeAdded, graph.EventNodeUpdated:
		p.render(event.NodeID)
	case graph.EventNodeRemoved:
		delete(p.cards, event.NodeID)
		delete(p.refreshes, event.NodeID)
	case graph.EventCleared, graph.EventImported:
		p.renderAll()
	}
}

func (p *Projection) renderAll() {
	p.cards = make(map[int]Card)
	p.refreshes = make(map[int]int)

	for _, n := range p.g.Nodes() {
		p.render(n.ID)
	}
}

func (p *Projection) render(id int) {
	n, ok := p.g.Node(id)
	if !ok {
		return
	}

	card := Card{
		NodeID:    n.ID,
		Kind:      n.Kind,
		Title:     Truncate(n.Title, maxCardTitle),
		FullTitle: n.Title,
		Position:  n.Position,
	}

	switch n.Kind {
	case graph.KindStart:
		card.Icon = IconIdle
		if p.running {
			card.Icon = IconRunning
		}
	case graph.KindEnd:
		card.Icon = IconEnd
	case graph.KindTestCase:
		card.Badge = Badge(n.Status)
		card.Label = fmt.Sprintf("Test case %d", n.ExecutionOrder)
	case graph.KindStep:
		card.Badge = Badge(n.Status)
		card.Label = fmt.Sprintf("Step %d: %s (%s)", n.ExecutionOrder, card.Title, n.Settings.ActionType.Label())
	}

	p.cards[id] = card
	p.refreshes[id]++
}

// SetRunning switches the run indicator shown on Start.
func (p *Projection) SetRunning(running bool) {
	if p.running == running {
		return
	}

	p.running = running

	if start, ok := p.g.Start(); ok {
		p.render(start.ID)
	}
}

func (p *Projection) Running() bool {
	return p.running
}

func (p *Projection) Card(id int) (Card, bool) {
	c, ok := p.cards[id]

	return c, ok
}

// Cards returns all cards ordered by node id.
func (p *Projection) Cards() []Card {
	out := make([]Card, 0, len(p.cards))
	for _, c := range p.cards {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })

	return out
}

// Refreshes returns how many times the card of id was rendered.
func (p *Projection) Refreshes(id int) int {
	return p.refreshes[id]
}

// Badge is the status label shown on test case and step cards.
func Badge(status models.Status) string {
	switch status {
	case models.StatusPassed:
		return "Passed"
	case models.StatusFailed:
		return "Failed"
	default:
		return "Pending"
	}
}

// Truncate shortens s to limit runes followed by "...".
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}

	return string(r[:limit]) + "..."
}
