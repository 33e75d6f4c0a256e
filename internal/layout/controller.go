package layout

import (
	"sync"
	"time"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/debounce"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// Controller keeps the node positions of one editing session and decides
// when to re-run Compute:
//   - structural document changes and direction changes relayout at once;
//   - measured size changes relayout after a quiet period, and only with
//     auto layout on;
//   - with auto layout off, dragged positions are kept.
type Controller struct {
	mu        sync.Mutex
	cat       catalogue.Catalogue
	doc       *fable.Builder
	opts      Options
	nodes     []Node
	auto      bool
	debouncer *debounce.Debouncer
	onUpdate  func([]Node)
}

// NewController returns a controller with auto layout enabled. onUpdate, if
// set, receives every new node list.
func NewController(cat catalogue.Catalogue, opts Options, delay time.Duration, onUpdate func([]Node)) *Controller {
	c := &Controller{
		cat:      cat,
		doc:      fable.New(),
		opts:     opts,
		nodes:    []Node{},
		auto:     true,
		onUpdate: onUpdate,
	}
	if c.opts.Sizes == nil {
		c.opts.Sizes = make(map[fable.InstanceID]Size)
	}
	c.debouncer = debounce.New(delay, func() { c.relayout(false) })
	return c
}

// SetDocument records a structural change. New blocks are always placed;
// existing blocks move only with auto layout on.
func (c *Controller) SetDocument(doc *fable.Builder) {
	c.mu.Lock()
	c.doc = doc.Clone()
	c.mu.Unlock()
	c.relayout(false)
}

// SetDirection switches the flow direction and relayouts every node.
func (c *Controller) SetDirection(d Direction) {
	if !d.Valid() {
		return
	}
	c.mu.Lock()
	c.opts.Direction = d
	c.mu.Unlock()
	c.relayout(true)
}

// SetAutoLayout toggles automatic relayout.
func (c *Controller) SetAutoLayout(auto bool) {
	c.mu.Lock()
	c.auto = auto
	c.mu.Unlock()
	if auto {
		c.relayout(false)
	}
}

// ReportSize records a measured node size.
func (c *Controller) ReportSize(id fable.InstanceID, size Size) {
	c.mu.Lock()
	if c.opts.Sizes[id] == size {
		c.mu.Unlock()
		return
	}
	c.opts.Sizes[id] = size
	auto := c.auto
	c.mu.Unlock()
	if auto {
		c.debouncer.Trigger()
	}
}

// MoveNode records a manual drag.
func (c *Controller) MoveNode(id fable.InstanceID, pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.nodes {
		if c.nodes[i].ID == id {
			p := pos
			c.nodes[i].Position = &p
			return
		}
	}
}

// Nodes returns a copy of the current node list.
func (c *Controller) Nodes() []Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyNodes(c.nodes)
}

// Stop cancels a pending size-triggered relayout.
func (c *Controller) Stop() {
	c.debouncer.Stop()
}

func (c *Controller) relayout(force bool) {
	c.mu.Lock()
	opts := c.opts
	opts.Sizes = make(map[fable.InstanceID]Size, len(c.opts.Sizes))
	for id, s := range c.opts.Sizes {
		opts.Sizes[id] = s
	}
	computed := Compute(c.doc, c.cat, opts)
	c.nodes = Merge(c.nodes, computed, c.auto || force)
	out := copyNodes(c.nodes)
	onUpdate := c.onUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		onUpdate(out)
	}
}

func copyNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		if n.Position != nil {
			p := *n.Position
			n.Position = &p
		}
		out[i] = n
	}
	return out
}
