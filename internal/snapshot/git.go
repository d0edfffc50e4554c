package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sourcegraph/go-diff/diff"
)

// WorktreeRef names the working tree (tracked plus untracked, non-ignored
// files) in a Git provider.
const WorktreeRef = "@worktree"

// Git reads snapshots from a git repository through the git binary. Refs
// are anything `git rev-parse` accepts, plus WorktreeRef. Symlinks read as
// their target text in every ref, the way git stores them.
type Git struct {
	// Exclude drops paths with any segment matching an entry from listings
	// and change sets. Set it before the first call.
	Exclude []string

	dir string
	cat *catFile

	mu       sync.Mutex
	resolved map[string]string
	listings map[string]map[string]struct{}
}

// NewGit returns a provider for the repository containing dir. Close it to
// stop the blob reader process.
func NewGit(dir string) *Git {
	return &Git{
		Exclude:  DefaultExclude,
		dir:      dir,
		cat:      &catFile{dir: dir},
		resolved: make(map[string]string),
		listings: make(map[string]map[string]struct{}),
	}
}

// Close stops the background git cat-file process, if one was started.
func (g *Git) Close() error { return g.cat.close() }

// Dir returns the directory git commands run in.
func (g *Git) Dir() string { return g.dir }

// run executes git and returns stdout.
func (g *Git) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-c", "core.quotePath=false"}, args...)...)
	cmd.Dir = g.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// resolve turns ref into a commit id, caching the result.
func (g *Git) resolve(ctx context.Context, ref string) (string, error) {
	if ref == WorktreeRef {
		return ref, nil
	}
	g.mu.Lock()
	id, ok := g.resolved[ref]
	g.mu.Unlock()
	if ok {
		return id, nil
	}
	if ref == "" || strings.HasPrefix(ref, "-") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	id = strings.TrimSpace(string(out))
	g.mu.Lock()
	g.resolved[ref] = id
	g.mu.Unlock()
	return id, nil
}

func (g *Git) listing(ctx context.Context, ref string) (map[string]struct{}, error) {
	id, err := g.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if id != WorktreeRef {
		g.mu.Lock()
		set, ok := g.listings[id]
		g.mu.Unlock()
		if ok {
			return set, nil
		}
	}

	var out []byte
	if id == WorktreeRef {
		out, err = g.run(ctx, "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	} else {
		out, err = g.run(ctx, "ls-tree", "-r", "-z", "--name-only", id)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ref, err)
	}

	set := make(map[string]struct{})
	for _, p := range splitNUL(out) {
		if ExcludedPath(p, g.Exclude) {
			continue
		}
		if id == WorktreeRef {
			// Deleted but still in the index.
			if st, err := os.Lstat(filepath.Join(g.dir, filepath.FromSlash(p))); err != nil || st.IsDir() {
				continue
			}
		}
		set[p] = struct{}{}
	}
	// The working tree changes under us; only commits are cached.
	if id != WorktreeRef {
		g.mu.Lock()
		g.listings[id] = set
		g.mu.Unlock()
	}
	return set, nil
}

func (g *Git) ListFiles(ctx context.Context, ref string) ([]string, error) {
	set, err := g.listing(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return sortedUnique(out), nil
}

func (g *Git) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	id, err := g.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	clean, ok := CleanPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if id == WorktreeRef {
		data, err := g.readWorktree(clean)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return data, err
	}
	set, err := g.listing(ctx, ref)
	if err != nil {
		return nil, err
	}
	if _, ok := set[clean]; !ok {
		return nil, fmt.Errorf("%s@%s: %w", path, ref, ErrNotFound)
	}
	obj := id + ":" + clean
	if strings.Contains(clean, "\n") {
		return g.run(ctx, "cat-file", "blob", obj)
	}
	data, err := g.cat.blob(ctx, obj)
	if errors.Is(err, errBatchStart) {
		return g.run(ctx, "cat-file", "blob", obj)
	}
	return data, err
}

// readWorktree reads a working tree file. A symlink yields its target text,
// matching the blob git stores for it.
func (g *Git) readWorktree(clean string) ([]byte, error) {
	name := filepath.Join(g.dir, filepath.FromSlash(clean))
	st, err := os.Lstat(name)
	if err != nil {
		return nil, err
	}
	if st.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(name)
		if err != nil {
			return nil, err
		}
		return []byte(filepath.ToSlash(target)), nil
	}
	return os.ReadFile(name)
}

// ChangedFiles runs git diff between the refs and returns every path that
// appears on either side of the patch. Untracked files count as changed
// when the working tree is involved.
func (g *Git) ChangedFiles(ctx context.Context, oldRef, newRef string) ([]string, error) {
	oldID, err := g.resolve(ctx, oldRef)
	if err != nil {
		return nil, err
	}
	newID, err := g.resolve(ctx, newRef)
	if err != nil {
		return nil, err
	}

	args := []string{"diff", "--no-color", "--no-ext-diff", "--no-renames", "--text", "-U0"}
	switch {
	case oldID == WorktreeRef && newID == WorktreeRef:
		return nil, nil
	case newID == WorktreeRef:
		args = append(args, oldID)
	case oldID == WorktreeRef:
		args = append(args, "-R", newID)
	default:
		args = append(args, oldID, newID)
	}
	patch, err := g.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", oldRef, newRef, err)
	}
	changed, err := parseChangedPaths(patch)
	if err != nil {
		return nil, err
	}
	if oldID == WorktreeRef || newID == WorktreeRef {
		out, err := g.run(ctx, "ls-files", "-z", "--others", "--exclude-standard")
		if err != nil {
			return nil, fmt.Errorf("list untracked: %w", err)
		}
		changed = append(changed, splitNUL(out)...)
	}
	kept := changed[:0]
	for _, p := range changed {
		if !ExcludedPath(p, g.Exclude) {
			kept = append(kept, p)
		}
	}
	return sortedUnique(kept), nil
}

// parseChangedPaths extracts the paths touched by a multi-file unified diff.
func parseChangedPaths(patch []byte) ([]string, error) {
	if len(bytes.TrimSpace(patch)) == 0 {
		return nil, nil
	}
	fds, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	var out []string
	for _, fd := range fds {
		for _, name := range []string{fd.OrigName, fd.NewName} {
			if p, ok := diffPath(name); ok {
				out = append(out, p)
			}
		}
	}
	return sortedUnique(out), nil
}

func diffPath(name string) (string, bool) {
	if strings.HasPrefix(name, `"`) {
		if u, err := strconv.Unquote(name); err == nil {
			name = u
		}
	}
	if name == "" || name == "/dev/null" {
		return "", false
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		name = name[2:]
	}
	return CleanPath(name)
}

func splitNUL(b []byte) []string {
	var out []string
	for _, p := range bytes.Split(b, []byte{0}) {
		if len(p) > 0 {
			out = append(out, string(p))
		}
	}
	return out
}
