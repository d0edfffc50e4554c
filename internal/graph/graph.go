// Package graph aggregates parsed regions of one snapshot into a directed
// "must co-change" graph.
//
// Nodes are regions keyed by (path, index). Each node owns its edges in the
// order the targets were declared. The reverse adjacency (which regions point
// at a file) exists for diagnostics only; nothing here detects or rejects
// cycles, and self-edges are kept as declared.
//
// Output is deterministic: Nodes, Edges and View are sorted and do not
// depend on the order scans were supplied in.
package graph

import (
	"fmt"
	"sort"

	"thenchange/internal/region"
)

// Key identifies a region within a snapshot.
type Key struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Path, k.Index) }

// Edge is one declared then-change target of a region.
type Edge struct {
	From     Key    `json:"from"`
	Declared string `json:"declared"`
	Target   string `json:"target"`
	Line     int    `json:"line"`
}

// SelfEdge reports whether the edge points back at its own file.
func (e Edge) SelfEdge() bool { return e.Target == e.From.Path }

// Node is one region plus its outgoing edges.
type Node struct {
	Key    Key
	Region region.Region
	Edges  []Edge
}

// Resolver maps a declared target, as written in source, to a repository
// path. An empty result means the target cannot be resolved.
type Resolver func(source, declared string) string

// Graph is the dependency graph of one snapshot. It is immutable after
// Build and safe for concurrent reads.
type Graph struct {
	nodes   map[Key]*Node
	reverse map[string][]Key
	keys    []Key
}

// Build constructs the graph from per-file scans. resolve may be nil, in
// which case declared targets are used verbatim.
func Build(scans []region.FileScan, resolve Resolver) *Graph {
	g := &Graph{
		nodes:   make(map[Key]*Node, 64),
		reverse: make(map[string][]Key, 64),
	}
	for _, scan := range scans {
		for _, r := range scan.Regions {
			k := Key{Path: scan.Path, Index: r.Index}
			n := &Node{Key: k, Region: r}
			seen := make(map[string]struct{}, len(r.Targets))
			for _, t := range r.Targets {
				target := t.Path
				if resolve != nil {
					target = resolve(scan.Path, t.Path)
				}
				n.Edges = append(n.Edges, Edge{From: k, Declared: t.Path, Target: target, Line: t.Line})
				if target == "" {
					continue
				}
				if _, dup := seen[target]; !dup {
					seen[target] = struct{}{}
					g.reverse[target] = append(g.reverse[target], k)
				}
			}
			g.nodes[k] = n
			g.keys = append(g.keys, k)
		}
	}

	sort.Slice(g.keys, func(i, j int) bool { return lessKey(g.keys[i], g.keys[j]) })
	for t := range g.reverse {
		ks := g.reverse[t]
		sort.Slice(ks, func(i, j int) bool { return lessKey(ks[i], ks[j]) })
	}
	return g
}

func lessKey(a, b Key) bool {
	if a.Path == b.Path {
		return a.Index < b.Index
	}
	return a.Path < b.Path
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.keys) }

// Nodes returns all nodes sorted by path then index.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.keys))
	for _, k := range g.keys {
		out = append(out, g.nodes[k])
	}
	return out
}

// EdgesFrom returns the edges declared by region k in declaration order.
func (g *Graph) EdgesFrom(k Key) []Edge {
	if n, ok := g.nodes[k]; ok {
		return n.Edges
	}
	return nil
}

// Edges returns every edge, ordered by source key then declaration line.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, k := range g.keys {
		out = append(out, g.nodes[k].Edges...)
	}
	return out
}

// Dependents returns the regions that declare path as a target.
func (g *Graph) Dependents(path string) []Key {
	return g.reverse[path]
}

// Targets returns the distinct resolved target paths, sorted.
func (g *Graph) Targets() []string {
	out := make([]string, 0, len(g.reverse))
	for t := range g.reverse {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// View is the JSON form of a graph.
type View struct {
	Nodes []NodeView `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// NodeView describes one region in a View.
type NodeView struct {
	Key
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Dependents []string `json:"dependents,omitempty"`
}

// View materializes the graph in a serializable, deterministic form.
// Dependents lists the regions that point at the node's file.
func (g *Graph) View() View {
	v := View{Nodes: make([]NodeView, 0, len(g.keys)), Edges: g.Edges()}
	for _, n := range g.Nodes() {
		nv := NodeView{Key: n.Key, Start: n.Region.Start, End: n.Region.End}
		for _, d := range g.reverse[n.Key.Path] {
			nv.Dependents = append(nv.Dependents, d.String())
		}
		v.Nodes = append(v.Nodes, nv)
	}
	if v.Edges == nil {
		v.Edges = []Edge{}
	}
	return v
}
