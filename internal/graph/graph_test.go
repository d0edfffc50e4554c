package graph

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"thenchange/internal/region"
)

func scan(path string, targets ...[]string) region.FileScan {
	fs := region.FileScan{Path: path}
	for i, ts := range targets {
		r := region.Region{Path: path, Index: i, Start: 10 * (i + 1), End: 10*(i+1) + len(ts)}
		for j, t := range ts {
			r.Targets = append(r.Targets, region.Target{Path: t, Line: r.Start + j})
		}
		fs.Regions = append(fs.Regions, r)
	}
	return fs
}

func TestBuildDeterministic(t *testing.T) {
	scans := []region.FileScan{
		scan("push.sh", []string{"build.sh"}),
		scan("build.sh", []string{"push.sh", "release.sh"}, []string{"build.sh"}),
	}
	g := Build(scans, nil)
	rev := Build([]region.FileScan{scans[1], scans[0]}, nil)

	if diff := cmp.Diff(g.Edges(), rev.Edges()); diff != "" {
		t.Fatalf("edge order depends on input order:\n%s", diff)
	}
	var keys []string
	for _, n := range g.Nodes() {
		keys = append(keys, n.Key.String())
	}
	if diff := cmp.Diff([]string{"build.sh#0", "build.sh#1", "push.sh#0"}, keys); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}
	if g.Len() != 3 {
		t.Fatalf("len got %d", g.Len())
	}
}

func TestEdgesFromKeepsDeclarationOrder(t *testing.T) {
	g := Build([]region.FileScan{scan("a.sh", []string{"z.sh", "b.sh", "m.sh"})}, nil)
	var got []string
	for _, e := range g.EdgesFrom(Key{Path: "a.sh", Index: 0}) {
		got = append(got, e.Target)
	}
	if diff := cmp.Diff([]string{"z.sh", "b.sh", "m.sh"}, got); diff != "" {
		t.Fatalf("edges mismatch (-want +got):\n%s", diff)
	}
	if g.EdgesFrom(Key{Path: "nope", Index: 0}) != nil {
		t.Fatalf("expected nil edges for unknown key")
	}
}

func TestResolverAndDependents(t *testing.T) {
	resolve := func(src, declared string) string {
		if declared == "bad" {
			return ""
		}
		return "root/" + declared
	}
	g := Build([]region.FileScan{
		scan("a.sh", []string{"t.sh", "bad", "t.sh"}),
		scan("b.sh", []string{"t.sh"}),
	}, resolve)

	e := g.EdgesFrom(Key{Path: "a.sh"})
	if len(e) != 3 || e[0].Declared != "t.sh" || e[0].Target != "root/t.sh" || e[1].Target != "" {
		t.Fatalf("unexpected edges %#v", e)
	}
	want := []Key{{Path: "a.sh"}, {Path: "b.sh"}}
	if diff := cmp.Diff(want, g.Dependents("root/t.sh")); diff != "" {
		t.Fatalf("dependents mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"root/t.sh"}, g.Targets()); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestSelfEdgesAndCyclesAreKept(t *testing.T) {
	g := Build([]region.FileScan{
		scan("a.sh", []string{"a.sh", "b.sh"}),
		scan("b.sh", []string{"a.sh"}),
	}, nil)
	e := g.EdgesFrom(Key{Path: "a.sh"})
	if !e[0].SelfEdge() || e[1].SelfEdge() {
		t.Fatalf("self-edge detection wrong: %#v", e)
	}
	if len(g.Dependents("a.sh")) != 2 {
		t.Fatalf("expected a.sh to have two dependents")
	}
}

func TestViewJSON(t *testing.T) {
	g := Build([]region.FileScan{scan("a.sh", []string{"b.sh"}), scan("b.sh", []string{"a.sh"})}, nil)
	b, err := json.Marshal(g.View())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back View
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Nodes) != 2 || len(back.Edges) != 2 {
		t.Fatalf("unexpected view %s", b)
	}
	if diff := cmp.Diff([]string{"b.sh#0"}, back.Nodes[0].Dependents); diff != "" {
		t.Fatalf("dependents mismatch (-want +got):\n%s", diff)
	}

	empty := Build(nil, nil).View()
	if empty.Edges == nil || len(empty.Nodes) != 0 {
		t.Fatalf("empty view must serialize edges as []")
	}
}
