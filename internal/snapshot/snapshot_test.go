package snapshot

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, c := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(c), 0o644))
	}
}

func TestCleanPath(t *testing.T) {
	cases := map[string]string{
		"a/b.sh":      "a/b.sh",
		"/a/b.sh":     "a/b.sh",
		"./a//b.sh":   "a/b.sh",
		"a/../b.sh":   "b.sh",
		`dir\file.sh`: "dir/file.sh",
	}
	for in, want := range cases {
		got, ok := CleanPath(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "/", "..", "../x", "a/../../x", "."} {
		_, ok := CleanPath(bad)
		assert.False(t, ok, bad)
	}
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetRef("old", map[string]string{"b.sh": "1", "a.sh": "x", "gone.sh": "g"})
	m.SetRef("new", map[string]string{"b.sh": "2", "a.sh": "x", "added.sh": "n"})

	files, err := m.ListFiles(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sh", "b.sh", "gone.sh"}, files)

	data, err := m.ReadFile(ctx, "new", "b.sh")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	_, err = m.ReadFile(ctx, "new", "gone.sh")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.ListFiles(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidRef)

	changed, err := m.ChangedFiles(ctx, "old", "new")
	require.NoError(t, err)
	assert.Equal(t, []string{"added.sh", "b.sh", "gone.sh"}, changed)

	boom := errors.New("disk on fire")
	m.Fail("new", "a.sh", boom)
	_, err = m.ReadFile(ctx, "new", "a.sh")
	assert.ErrorIs(t, err, boom)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.ListFiles(cctx, "old")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalkFiltersAndSorts(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"z.sh":                 "z",
		"a/b.sh":               "b",
		".git/config":          "c",
		"node_modules/x/y.js":  "y",
		"build/out.bin":        "o",
		"logs/app.log":         "l",
		"keep/important.log":   "k",
		"docs/nested/deep.md":  "d",
		".gitignore":           "/build/\n*.log\n!keep/important.log\n",
		"docs/nested/skip.tmp": "t",
	})
	files, err := Walk(root, WalkOptions{Exclude: DefaultExclude, Gitignore: true})
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "a/b.sh", "docs/nested/deep.md", "docs/nested/skip.tmp", "keep/important.log", "z.sh"}, files)

	all, err := Walk(root, WalkOptions{})
	require.NoError(t, err)
	assert.Contains(t, all, ".git/config")
	assert.Contains(t, all, "build/out.bin")

	_, err = Walk(filepath.Join(root, "missing"), WalkOptions{})
	assert.Error(t, err)
}

func TestWalkMaxFileBytes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"small": "12", "big": "123456"})
	files, err := Walk(root, WalkOptions{MaxFileBytes: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, files)
}

func TestDirProvider(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	writeTree(t, filepath.Join(base, "v1"), map[string]string{"build.sh": "v=1\n", "sub/push.sh": "p\n"})

	d := NewDir(base)
	files, err := d.ListFiles(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh", "sub/push.sh"}, files)

	data, err := d.ReadFile(ctx, "v1", "sub/push.sh")
	require.NoError(t, err)
	assert.Equal(t, "p\n", string(data))

	_, err = d.ReadFile(ctx, "v1", "nope.sh")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.ReadFile(ctx, "v1", "../escape")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.ListFiles(ctx, "v2")
	assert.ErrorIs(t, err, ErrInvalidRef)

	abs, err := d.ListFiles(ctx, filepath.Join(base, "v1"))
	require.NoError(t, err)
	assert.Equal(t, files, abs)
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.SetRef("HEAD", map[string]string{"a": "1"})
	other := NewMemory()
	other.SetRef("snap", map[string]string{"b": "2"})

	r := NewRouter(mem)
	r.Register("mem2", other)
	assert.Equal(t, []string{"mem2"}, r.Schemes())

	files, err := r.ListFiles(ctx, "mem2:snap")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, files)

	files, err = r.ListFiles(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, files)

	// Unregistered scheme falls through to the default verbatim.
	_, err = r.ListFiles(ctx, "unknown:HEAD")
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = r.ChangedFiles(ctx, "HEAD", "mem2:snap")
	assert.ErrorIs(t, err, ErrChangesUnsupported)

	mem.SetRef("NEXT", map[string]string{"a": "2"})
	changed, err := r.ChangedFiles(ctx, "HEAD", "NEXT")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, changed)

	_, err = NewRouter(nil).ListFiles(ctx, "x")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestParseChangedPaths(t *testing.T) {
	patch := `diff --git a/build.sh b/build.sh
index 1111111..2222222 100644
--- a/build.sh
+++ b/build.sh
@@ -2 +2 @@
-VERSION=1
+VERSION=2
diff --git a/new.sh b/new.sh
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/new.sh
@@ -0,0 +1 @@
+echo new
diff --git a/old.sh b/old.sh
deleted file mode 100644
index 4444444..0000000
--- a/old.sh
+++ /dev/null
@@ -1 +0,0 @@
-echo old
`
	got, err := parseChangedPaths([]byte(patch))
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh", "new.sh", "old.sh"}, got)

	got, err = parseChangedPaths(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// gitRepo initializes a repository in a temp dir and returns it with a
// helper that runs git there.
func gitRepo(t *testing.T) (string, func(args ...string)) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=t", "-c", "user.email=t@example.com", "-c", "commit.gpgsign=false"}, args...)...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git("init", "-q")
	return dir, git
}

func TestGitProvider(t *testing.T) {
	ctx := context.Background()
	dir, git := gitRepo(t)
	writeTree(t, dir, map[string]string{"build.sh": "v=1\n", "push.sh": "p\n"})
	git("add", ".")
	git("commit", "-q", "-m", "one")
	git("tag", "one")
	writeTree(t, dir, map[string]string{"build.sh": "v=2\n"})
	git("commit", "-q", "-am", "two")
	writeTree(t, dir, map[string]string{"untracked.sh": "u\n", "push.sh": "p2\n"})

	g := NewGit(dir)
	defer g.Close()
	files, err := g.ListFiles(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh", "push.sh"}, files)

	data, err := g.ReadFile(ctx, "one", "build.sh")
	require.NoError(t, err)
	assert.Equal(t, "v=1\n", string(data))
	data, err = g.ReadFile(ctx, "HEAD", "build.sh")
	require.NoError(t, err)
	assert.Equal(t, "v=2\n", string(data))
	data, err = g.ReadFile(ctx, "one", "push.sh")
	require.NoError(t, err)
	assert.Equal(t, "p\n", string(data))

	_, err = g.ReadFile(ctx, "one", "untracked.sh")
	assert.ErrorIs(t, err, ErrNotFound)

	wt, err := g.ListFiles(ctx, WorktreeRef)
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh", "push.sh", "untracked.sh"}, wt)

	changed, err := g.ChangedFiles(ctx, "one", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh"}, changed)

	changed, err = g.ChangedFiles(ctx, "HEAD", WorktreeRef)
	require.NoError(t, err)
	assert.Equal(t, []string{"push.sh", "untracked.sh"}, changed)

	_, err = g.ListFiles(ctx, "no-such-ref")
	assert.ErrorIs(t, err, ErrInvalidRef)
	require.NoError(t, g.Close())
}

func TestGitExcludesBaselineStore(t *testing.T) {
	ctx := context.Background()
	dir, git := gitRepo(t)
	writeTree(t, dir, map[string]string{
		"build.sh":                            "v=1\n",
		".thenchange/baselines/v0/index.json": "{}\n",
	})
	git("add", "-f", ".")
	git("commit", "-q", "-m", "one")
	writeTree(t, dir, map[string]string{
		".thenchange/baselines/v1/index.json":        "{}\n",
		".thenchange/baselines/blobs/ab/cd/abcd1234": "v=1\n",
		"vendor/node_modules/left-pad/index.js":      "pad\n",
	})

	g := NewGit(dir)
	defer g.Close()
	head, err := g.ListFiles(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh"}, head)

	wt, err := g.ListFiles(ctx, WorktreeRef)
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh"}, wt)

	changed, err := g.ChangedFiles(ctx, "HEAD", WorktreeRef)
	require.NoError(t, err)
	assert.Empty(t, changed)

	g = NewGit(dir)
	defer g.Close()
	g.Exclude = nil
	wt, err = g.ListFiles(ctx, WorktreeRef)
	require.NoError(t, err)
	assert.Contains(t, wt, ".thenchange/baselines/v1/index.json")
}

func TestGitSymlinksReadAsLinkText(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	ctx := context.Background()
	dir, git := gitRepo(t)
	writeTree(t, dir, map[string]string{"push.sh": "p\n", "docs/a.md": "a\n"})
	require.NoError(t, os.Symlink("docs", filepath.Join(dir, "latest")))
	require.NoError(t, os.Symlink("push.sh", filepath.Join(dir, "link.sh")))
	git("add", ".")
	git("commit", "-q", "-m", "links")

	g := NewGit(dir)
	defer g.Close()
	wt, err := g.ListFiles(ctx, WorktreeRef)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.md", "latest", "link.sh", "push.sh"}, wt)

	for link, target := range map[string]string{"latest": "docs", "link.sh": "push.sh"} {
		cur, err := g.ReadFile(ctx, WorktreeRef, link)
		require.NoError(t, err, link)
		assert.Equal(t, target, string(cur), link)

		committed, err := g.ReadFile(ctx, "HEAD", link)
		require.NoError(t, err, link)
		assert.Equal(t, string(committed), string(cur), link)
	}

	changed, err := g.ChangedFiles(ctx, "HEAD", WorktreeRef)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestCatFileBatch(t *testing.T) {
	ctx := context.Background()
	dir, git := gitRepo(t)
	writeTree(t, dir, map[string]string{"a.sh": "a\n", "sub/b.sh": ""})
	git("add", ".")
	git("commit", "-q", "-m", "one")

	c := &catFile{dir: dir}
	defer c.close()

	data, err := c.blob(ctx, "HEAD:a.sh")
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))

	_, err = c.blob(ctx, "HEAD:nope.sh")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.blob(ctx, "HEAD:sub")
	assert.ErrorIs(t, err, errNotBlob)

	// The stream stays in sync after misses.
	data, err = c.blob(ctx, "HEAD:sub/b.sh")
	require.NoError(t, err)
	assert.Empty(t, data)
	proc := c.cmd
	data, err = c.blob(ctx, "HEAD:a.sh")
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))
	assert.Same(t, proc, c.cmd, "one process serves every read")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.blob(cancelled, "HEAD:a.sh")
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, c.close())
	assert.Nil(t, c.cmd)
	data, err = c.blob(ctx, "HEAD:a.sh")
	require.NoError(t, err, "reads restart the process after close")
	assert.Equal(t, "a\n", string(data))
}
