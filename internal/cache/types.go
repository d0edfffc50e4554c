// Package cache stores baselines: saved snapshots of a repository that can
// later be checked against as if they were a ref.
//
// Layout under the store root:
//
//	<root>/<name>/index.json     one index per baseline
//	<root>/blobs/aa/bb/<sha256>  content-addressed file bodies, shared
package cache

// FormatVersion is written into every index.
const FormatVersion = "1"

// Entry is one file of a baseline. Hash is the lowercase hex SHA-256 of the
// content and Lines counts '\n' bytes.
type Entry struct {
	Path  string `json:"path"`
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
	Lines int    `json:"lines"`
}

// Index describes a saved baseline. Source records the ref it was taken
// from; Created is RFC 3339 UTC.
type Index struct {
	Name          string  `json:"name"`
	Source        string  `json:"source"`
	Created       string  `json:"created"`
	FormatVersion string  `json:"formatVersion,omitempty"`
	Files         []Entry `json:"files"`
}

// Change is a file whose content differs between two indexes.
type Change struct {
	Path       string `json:"path"`
	HashBefore string `json:"hashBefore"`
	HashAfter  string `json:"hashAfter"`
}

// Rename pairs a removed and an added path with identical content.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
	Hash string `json:"hash"`
}

// Delta is the file-level change set between two indexes. After rename
// matching a path appears in at most one list.
type Delta struct {
	Added   []Entry  `json:"added"`
	Removed []Entry  `json:"removed"`
	Changed []Change `json:"changed"`
	Renamed []Rename `json:"renamed"`
}

// Empty reports whether the delta records no change at all.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && len(d.Renamed) == 0
}

// Paths returns every path touched by the delta, both sides of renames
// included, sorted and unique.
func (d Delta) Paths() []string {
	set := make(map[string]struct{})
	for _, e := range d.Added {
		set[e.Path] = struct{}{}
	}
	for _, e := range d.Removed {
		set[e.Path] = struct{}{}
	}
	for _, c := range d.Changed {
		set[c.Path] = struct{}{}
	}
	for _, r := range d.Renamed {
		set[r.From] = struct{}{}
		set[r.To] = struct{}{}
	}
	return sortedKeys(set)
}
