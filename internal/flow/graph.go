// Package flow holds the workflow graph: typed nodes, edges and the rules a
// graph must satisfy before it can be armed.
package flow

import (
	"encoding/json"
	"fmt"
)

// Kind enumerates node kinds.
type Kind string

const (
	KindTrigger    Kind = "trigger"
	KindSwap       Kind = "swap"
	KindResolver   Kind = "resolver"
	KindDistribute Kind = "distribute"
)

// Node is a single workflow step. Position is owned by the editor and is
// carried through untouched.
type Node struct {
	ID         string
	Position   json.RawMessage
	Attributes Attributes
}

// Kind returns the node kind derived from its attributes.
func (n Node) Kind() Kind {
	if n.Attributes == nil {
		return ""
	}
	return n.Attributes.Kind()
}

// Edge connects two nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is replaced wholesale on every edit, so it is treated as a value.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node looks a node up by id.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodesOf returns the nodes of kind k in declaration order.
func (g Graph) NodesOf(k Kind) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind() == k {
			out = append(out, n)
		}
	}
	return out
}

// Inbound returns the edges targeting id.
func (g Graph) Inbound(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// Outbound returns the edges leaving id.
func (g Graph) Outbound(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// Sources returns the nodes of kind k with an edge into id.
func (g Graph) Sources(id string, k Kind) []Node {
	var out []Node
	for _, e := range g.Inbound(id) {
		if n, ok := g.Node(e.Source); ok && n.Kind() == k {
			out = append(out, n)
		}
	}
	return out
}

// Targets returns the nodes of kind k that id has an edge into.
func (g Graph) Targets(id string, k Kind) []Node {
	var out []Node
	for _, e := range g.Outbound(id) {
		if n, ok := g.Node(e.Target); ok && n.Kind() == k {
			out = append(out, n)
		}
	}
	return out
}

// Clone returns a deep copy so callers can keep a snapshot.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: append([]Edge(nil), g.Edges...),
	}
	for i, n := range g.Nodes {
		cp := n
		cp.Position = append(json.RawMessage(nil), n.Position...)
		if n.Attributes != nil {
			cp.Attributes = n.Attributes.clone()
		}
		out.Nodes[i] = cp
	}
	return out
}

// ReplaceAttributes returns a copy of g with the attributes of node id
// replaced. The kind may not change.
func (g Graph) ReplaceAttributes(id string, attrs Attributes) (Graph, error) {
	out := g.Clone()
	for i, n := range out.Nodes {
		if n.ID != id {
			continue
		}
		if attrs == nil || n.Kind() != attrs.Kind() {
			return g, fmt.Errorf("node %s: cannot change kind", id)
		}
		out.Nodes[i].Attributes = attrs.clone()
		return out, nil
	}
	return g, fmt.Errorf("node %s not found", id)
}

type nodeJSON struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Position   json.RawMessage `json:"position,omitempty"`
	Attributes json.RawMessage `json:"attributes"`
}

// MarshalJSON implements json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Attributes == nil {
		return nil, fmt.Errorf("node %s has no attributes", n.ID)
	}
	attrs, err := json.Marshal(n.Attributes)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodeJSON{ID: n.ID, Kind: n.Kind(), Position: n.Position, Attributes: attrs})
}

// UnmarshalJSON decodes the attributes into the variant named by "kind".
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	attrs, err := decodeAttributes(raw.Kind, raw.Attributes)
	if err != nil {
		return fmt.Errorf("node %s: %w", raw.ID, err)
	}
	*n = Node{ID: raw.ID, Position: raw.Position, Attributes: attrs}
	return nil
}

// DecodeGraph parses a JSON document into a Graph.
func DecodeGraph(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, err
	}
	return g, nil
}
