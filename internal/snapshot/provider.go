// Package snapshot defines how the checker reads repository snapshots and
// ships the providers the CLI wires up: in-memory, plain directories, git
// and a scheme router.
//
// A ref names one snapshot. What a ref looks like is up to the provider (a
// commit-ish, a directory, a baseline name). Paths are repository-relative
// and always use forward slashes.
package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by ReadFile when the path is absent from the
	// snapshot. It is a normal outcome, not a failure.
	ErrNotFound = errors.New("snapshot: file not found")

	// ErrInvalidRef is returned when a ref does not name a snapshot.
	ErrInvalidRef = errors.New("snapshot: invalid ref")

	// ErrChangesUnsupported is returned by ChangeLister implementations that
	// cannot list changes for the given pair of refs.
	ErrChangesUnsupported = errors.New("snapshot: change listing unsupported")
)

// Provider reads files of named snapshots. Implementations must be safe for
// concurrent use.
type Provider interface {
	// ListFiles returns every file path of the snapshot, sorted.
	ListFiles(ctx context.Context, ref string) ([]string, error)
	// ReadFile returns the content of path in the snapshot, or an error
	// wrapping ErrNotFound when absent.
	ReadFile(ctx context.Context, ref, path string) ([]byte, error)
}

// ChangeLister is implemented by providers that can cheaply tell which files
// may differ between two snapshots. The result may over-report (a listed
// file can turn out byte-identical) but must never miss a changed, added or
// removed file.
type ChangeLister interface {
	ChangedFiles(ctx context.Context, oldRef, newRef string) ([]string, error)
}

// CleanPath normalizes a repository path: forward slashes, no leading "./"
// or "/", no "." or ".." segments. It reports false for paths that escape
// the root or are empty.
func CleanPath(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, fs.ValidPath(p)
}

// sortedUnique sorts paths in place and drops duplicates.
func sortedUnique(paths []string) []string {
	sort.Strings(paths)
	out := paths[:0]
	for i, p := range paths {
		if i > 0 && p == paths[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}
