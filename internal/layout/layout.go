// Package layout places pipeline blocks on a 2D canvas. Blocks are arranged
// in ranks ordered by pipeline stage (source, transform, product, sink) along
// the primary axis and stacked along the secondary axis.
package layout

import (
	"sort"

	"github.com/gammazero/toposort"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// Direction is the primary flow direction.
type Direction string

const (
	// DirectionTB flows top to bottom: rank depth maps to Y.
	DirectionTB Direction = "TB"
	// DirectionLR flows left to right: rank depth maps to X.
	DirectionLR Direction = "LR"
)

// Valid reports whether d is TB or LR.
func (d Direction) Valid() bool {
	return d == DirectionTB || d == DirectionLR
}

// Size is a measured or assumed node size.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Position is the top-left corner of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one positioned block. Position is nil until the node is placed.
type Node struct {
	ID       fable.InstanceID `json:"id"`
	Kind     fable.Kind       `json:"kind"`
	Rank     int              `json:"rank"`
	Size     Size             `json:"size"`
	Position *Position        `json:"position,omitempty"`
}

// Options configures Compute.
type Options struct {
	Direction Direction
	// Sizes holds measured node sizes; unmeasured nodes use DefaultSize.
	Sizes       map[fable.InstanceID]Size
	DefaultSize Size
	// RankGap is the spacing between ranks along the primary axis.
	RankGap float64
	// NodeGap is the spacing between nodes of one rank.
	NodeGap float64
}

// DefaultOptions returns the options used when nothing has been measured.
func DefaultOptions(direction Direction) Options {
	if !direction.Valid() {
		direction = DirectionTB
	}
	return Options{
		Direction:   direction,
		DefaultSize: Size{Width: 280, Height: 120},
		RankGap:     80,
		NodeGap:     40,
	}
}

type rankKey struct {
	kind  int
	depth int
}

// Compute returns a positioned node for every block in doc, in instance id
// order. A block whose factory is not in cat is ranked with the latest kind
// feeding it, or as a transform. The document is not modified.
func Compute(doc *fable.Builder, cat catalogue.Catalogue, opts Options) []Node {
	if opts.DefaultSize == (Size{}) {
		opts.DefaultSize = DefaultOptions(opts.Direction).DefaultSize
	}
	if !opts.Direction.Valid() {
		opts.Direction = DirectionTB
	}

	ids := doc.IDs()
	if len(ids) == 0 {
		return []Node{}
	}

	kinds := make(map[fable.InstanceID]fable.Kind, len(ids))
	unknown := make(map[fable.InstanceID]bool)
	for _, id := range ids {
		kinds[id] = KindOf(cat, doc.Blocks[id].FactoryID)
		if !knownFactory(cat, doc.Blocks[id].FactoryID) {
			unknown[id] = true
		}
	}
	inferUnknownKinds(doc, kinds, unknown)
	depth := sameKindDepth(doc, kinds)

	keys := make(map[fable.InstanceID]rankKey, len(ids))
	distinct := make(map[rankKey]struct{})
	for _, id := range ids {
		k := rankKey{kind: kinds[id].Index(), depth: depth[id]}
		keys[id] = k
		distinct[k] = struct{}{}
	}
	ordered := make([]rankKey, 0, len(distinct))
	for k := range distinct {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].kind != ordered[j].kind {
			return ordered[i].kind < ordered[j].kind
		}
		return ordered[i].depth < ordered[j].depth
	})
	rankOf := make(map[rankKey]int, len(ordered))
	for i, k := range ordered {
		rankOf[k] = i
	}

	nodes := make([]Node, len(ids))
	members := make([][]int, len(ordered))
	for i, id := range ids {
		size, ok := opts.Sizes[id]
		if !ok || size.Width <= 0 || size.Height <= 0 {
			size = opts.DefaultSize
		}
		rank := rankOf[keys[id]]
		nodes[i] = Node{ID: id, Kind: kinds[id], Rank: rank, Size: size}
		members[rank] = append(members[rank], i)
	}

	primary := 0.0
	for _, idxs := range members {
		extent := 0.0
		secondary := 0.0
		for _, i := range idxs {
			along, across := axes(opts.Direction, nodes[i].Size)
			if along > extent {
				extent = along
			}
			pos := place(opts.Direction, primary, secondary)
			nodes[i].Position = &pos
			secondary += across + opts.NodeGap
		}
		primary += extent + opts.RankGap
	}
	return nodes
}

// KindOf returns the kind of the block's factory, or transform when the
// factory is unknown.
func KindOf(cat catalogue.Catalogue, id fable.FactoryID) fable.Kind {
	if factory, ok := catalogue.GetFactory(cat, id); ok && factory.Kind.Valid() {
		return factory.Kind
	}
	return fable.KindTransform
}

func knownFactory(cat catalogue.Catalogue, id fable.FactoryID) bool {
	factory, ok := catalogue.GetFactory(cat, id)
	return ok && factory.Kind.Valid()
}

// inferUnknownKinds ranks each block with an unknown factory at the latest
// kind feeding it, and never before transform, so it does not land above its
// upstream. Chains of unknown blocks settle after at most one pass each.
func inferUnknownKinds(doc *fable.Builder, kinds map[fable.InstanceID]fable.Kind, unknown map[fable.InstanceID]bool) {
	if len(unknown) == 0 {
		return
	}
	upstream := make(map[fable.InstanceID][]fable.InstanceID)
	for _, e := range doc.Edges() {
		if unknown[e.To] {
			upstream[e.To] = append(upstream[e.To], e.From)
		}
	}
	for range unknown {
		changed := false
		for id := range unknown {
			best := kinds[id].Index()
			for _, from := range upstream[id] {
				if idx := kinds[from].Index(); idx > best {
					best = idx
				}
			}
			if best != kinds[id].Index() {
				kinds[id] = fable.KindOrder[best]
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// sameKindDepth gives each block the length of the longest chain of same-kind
// blocks feeding it, so that chained transforms land in successive ranks. A
// cyclic document gets depth zero everywhere.
func sameKindDepth(doc *fable.Builder, kinds map[fable.InstanceID]fable.Kind) map[fable.InstanceID]int {
	depth := make(map[fable.InstanceID]int, len(kinds))
	edges := doc.Edges()
	if len(edges) == 0 {
		return depth
	}

	upstream := make(map[fable.InstanceID][]fable.InstanceID)
	topo := make([]toposort.Edge, 0, len(edges))
	for _, e := range edges {
		topo = append(topo, toposort.Edge{string(e.From), string(e.To)})
		upstream[e.To] = append(upstream[e.To], e.From)
	}

	sorted, err := toposort.Toposort(topo)
	if err != nil {
		return depth
	}
	for _, v := range sorted {
		s, ok := v.(string)
		if !ok {
			continue
		}
		id := fable.InstanceID(s)
		for _, from := range upstream[id] {
			if kinds[from] == kinds[id] && depth[from]+1 > depth[id] {
				depth[id] = depth[from] + 1
			}
		}
	}
	return depth
}

func axes(d Direction, s Size) (along, across float64) {
	if d == DirectionLR {
		return s.Width, s.Height
	}
	return s.Height, s.Width
}

func place(d Direction, primary, secondary float64) Position {
	if d == DirectionLR {
		return Position{X: primary, Y: secondary}
	}
	return Position{X: secondary, Y: primary}
}

// NeedsLayout reports whether any node has not been placed yet.
func NeedsLayout(nodes []Node) bool {
	for _, n := range nodes {
		if n.Position == nil {
			return true
		}
	}
	return false
}

// Merge combines a fresh layout with previous positions. With auto layout on
// the computed positions win; otherwise nodes keep their previous (possibly
// dragged) position and only new nodes take the computed one.
func Merge(previous, computed []Node, auto bool) []Node {
	if auto {
		return computed
	}
	prev := make(map[fable.InstanceID]*Position, len(previous))
	for _, n := range previous {
		if n.Position != nil {
			p := *n.Position
			prev[n.ID] = &p
		}
	}
	out := make([]Node, len(computed))
	for i, n := range computed {
		if p, ok := prev[n.ID]; ok {
			n.Position = p
		}
		out[i] = n
	}
	return out
}
