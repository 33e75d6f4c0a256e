package fable

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// Edge is a connection from an upstream block into an input slot of a
// downstream block.
type Edge struct {
	From  InstanceID `json:"from"`
	To    InstanceID `json:"to"`
	Input string     `json:"input"`
}

// Edges derives the connection list from input_ids. Empty and dangling
// references are skipped. The result is sorted by To, Input.
func (b *Builder) Edges() []Edge {
	if b == nil {
		return nil
	}
	var edges []Edge
	for to, block := range b.Blocks {
		for input, from := range block.InputIDs {
			if _, ok := b.Resolve(from); !ok {
				continue
			}
			edges = append(edges, Edge{From: from, To: to, Input: input})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Input < edges[j].Input
	})
	return edges
}

// IDs returns the instance ids in sorted order.
func (b *Builder) IDs() []InstanceID {
	if b == nil {
		return nil
	}
	ids := make([]InstanceID, 0, len(b.Blocks))
	for id := range b.Blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// forward maps each block to the blocks that consume it.
func (b *Builder) forward() map[InstanceID][]InstanceID {
	adj := make(map[InstanceID][]InstanceID, len(b.Blocks))
	for _, edge := range b.Edges() {
		adj[edge.From] = append(adj[edge.From], edge.To)
	}
	return adj
}

// Downstream returns root and every block transitively fed by it. It returns
// an empty set when root is not in the document.
func (b *Builder) Downstream(root InstanceID) map[InstanceID]struct{} {
	reached := make(map[InstanceID]struct{})
	if _, ok := b.Resolve(root); !ok {
		return reached
	}

	adj := b.forward()
	queue := []InstanceID{root}
	reached[root] = struct{}{}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range adj[n] {
			if _, seen := reached[next]; seen {
				continue
			}
			reached[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return reached
}

// HasCycle reports whether the connections form a cycle.
func (b *Builder) HasCycle() bool {
	if b == nil {
		return false
	}
	inDegree := make(map[InstanceID]int, len(b.Blocks))
	for id := range b.Blocks {
		inDegree[id] = 0
	}
	adj := b.forward()
	for _, targets := range adj {
		for _, to := range targets {
			inDegree[to]++
		}
	}

	queue := make([]InstanceID, 0, len(b.Blocks))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(b.Blocks)
}

// Fingerprint returns blake3:<hex> of the normalized document. Equal
// documents share a fingerprint.
func (b *Builder) Fingerprint() (string, error) {
	body, err := json.Marshal(b.Normalized())
	if err != nil {
		return "", fmt.Errorf("marshal fable fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}
