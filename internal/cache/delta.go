package cache

import "sort"

// BuildDelta computes the change set from prev to curr. Either may be nil.
// Files removed and added with the same hash are reported as renames,
// paired in path order.
func BuildDelta(prev, curr *Index) Delta {
	if delta, ok := handleTrivialDelta(prev, curr); ok {
		return delta
	}

	prevMap := indexByPath(prev.Files)
	currMap := indexByPath(curr.Files)

	removed, changed := classifyRemovedAndChanged(prevMap, currMap)
	delta := Delta{
		Removed: removed,
		Added:   classifyAdded(prevMap, currMap),
		Changed: changed,
	}

	renamed, keepRemoved, keepAdded := matchExactRenames(delta.Removed, delta.Added)
	delta.Renamed = renamed
	delta.Removed = keepRemoved
	delta.Added = keepAdded

	sortDelta(&delta)
	return delta
}

func handleTrivialDelta(prev, curr *Index) (Delta, bool) {
	var d Delta
	switch {
	case curr == nil || len(curr.Files) == 0:
		if prev != nil {
			d.Removed = append(d.Removed, prev.Files...)
		}
	case prev == nil || len(prev.Files) == 0:
		d.Added = append(d.Added, curr.Files...)
	default:
		return Delta{}, false
	}
	sortDelta(&d)
	return d, true
}

func indexByPath(files []Entry) map[string]Entry {
	m := make(map[string]Entry, len(files))
	for _, f := range files {
		m[f.Path] = f
	}
	return m
}

func classifyRemovedAndChanged(prev, curr map[string]Entry) ([]Entry, []Change) {
	var removed []Entry
	var changed []Change
	for path, pf := range prev {
		if cf, ok := curr[path]; ok {
			if pf.Hash != cf.Hash {
				changed = append(changed, Change{Path: path, HashBefore: pf.Hash, HashAfter: cf.Hash})
			}
			continue
		}
		removed = append(removed, pf)
	}
	return removed, changed
}

func classifyAdded(prev, curr map[string]Entry) []Entry {
	var added []Entry
	for path, cf := range curr {
		if _, ok := prev[path]; !ok {
			added = append(added, cf)
		}
	}
	return added
}

func matchExactRenames(removed, added []Entry) ([]Rename, []Entry, []Entry) {
	if len(removed) == 0 || len(added) == 0 {
		return nil, removed, added
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Path < removed[j].Path })
	sort.Slice(added, func(i, j int) bool { return added[i].Path < added[j].Path })

	byHash := make(map[string][]int, len(removed))
	for i, rf := range removed {
		byHash[rf.Hash] = append(byHash[rf.Hash], i)
	}

	usedRemoved := make(map[int]bool)
	usedAdded := make(map[int]bool)
	var renamed []Rename
	for i, af := range added {
		cands := byHash[af.Hash]
		if len(cands) == 0 {
			continue
		}
		byHash[af.Hash] = cands[1:]
		usedRemoved[cands[0]] = true
		usedAdded[i] = true
		renamed = append(renamed, Rename{From: removed[cands[0]].Path, To: af.Path, Hash: af.Hash})
	}
	return renamed, filterEntries(removed, usedRemoved), filterEntries(added, usedAdded)
}

func filterEntries(files []Entry, used map[int]bool) []Entry {
	var out []Entry
	for i, f := range files {
		if !used[i] {
			out = append(out, f)
		}
	}
	return out
}

func sortDelta(d *Delta) {
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Path < d.Removed[j].Path })
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Path < d.Added[j].Path })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Path < d.Changed[j].Path })
	sort.Slice(d.Renamed, func(i, j int) bool {
		if d.Renamed[i].From == d.Renamed[j].From {
			return d.Renamed[i].To < d.Renamed[j].To
		}
		return d.Renamed[i].From < d.Renamed[j].From
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
