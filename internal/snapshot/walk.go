package snapshot

import (
	"bufio"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// WalkOptions filters a directory walk.
type WalkOptions struct {
	// Exclude skips entries whose base name equals or glob-matches any of
	// these (".git", "node_modules", "build*" ...).
	Exclude []string
	// Gitignore applies the root .gitignore.
	Gitignore bool
	// FollowSymlinks descends into symlinked directories and reads
	// symlinked files.
	FollowSymlinks bool
	// MaxFileBytes skips files larger than this; 0 means no limit.
	MaxFileBytes int64
}

// DefaultExclude is the exclude list used when none is configured.
var DefaultExclude = []string{".git", ".hg", ".svn", "node_modules", ".thenchange"}

type walkState struct {
	opts     WalkOptions
	root     string
	patterns []gitPattern
	files    []string
}

// Walk returns the repository-relative paths of regular files under root,
// sorted. Unreadable entries are skipped; only a missing or unreadable root
// is an error.
func Walk(root string, opts WalkOptions) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "walk", Path: root, Err: fs.ErrInvalid}
	}
	ws := &walkState{opts: opts, root: abs}
	if opts.Gitignore {
		// A missing .gitignore just means no patterns.
		ws.patterns, _ = parseGitignore(filepath.Join(abs, ".gitignore"))
	}
	if err := filepath.WalkDir(abs, ws.visit); err != nil {
		return nil, err
	}
	sort.Strings(ws.files)
	return ws.files, nil
}

func (ws *walkState) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		if path == ws.root {
			return err
		}
		return nil
	}
	if path == ws.root {
		return nil
	}
	rel, ok := ws.relative(path)
	if !ok {
		return nil
	}
	if ws.shouldSkip(rel, d) {
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	if d.IsDir() {
		return nil
	}
	return ws.handleFile(path, rel, d)
}

func (ws *walkState) relative(path string) (string, bool) {
	rel, err := filepath.Rel(ws.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	return rel, true
}

func (ws *walkState) shouldSkip(rel string, d fs.DirEntry) bool {
	if Excluded(filepath.Base(rel), ws.opts.Exclude) {
		return true
	}
	return ws.opts.Gitignore && matchGitignore(ws.patterns, rel, d.IsDir())
}

func (ws *walkState) handleFile(path, rel string, d fs.DirEntry) error {
	if isSymlink(d) {
		if !ws.opts.FollowSymlinks {
			return nil
		}
		// WalkDir does not descend into symlinked dirs; walk them here.
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			sub, err := Walk(path, WalkOptions{Exclude: ws.opts.Exclude, MaxFileBytes: ws.opts.MaxFileBytes})
			if err != nil {
				return nil
			}
			for _, s := range sub {
				ws.files = append(ws.files, rel+"/"+s)
			}
			return nil
		}
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	if ws.opts.MaxFileBytes > 0 && info.Size() > ws.opts.MaxFileBytes {
		return nil
	}
	ws.files = append(ws.files, rel)
	return nil
}

func isSymlink(d fs.DirEntry) bool {
	return d.Type()&fs.ModeSymlink != 0
}

// Excluded reports whether base equals or glob-matches an exclude entry.
func Excluded(base string, exclude []string) bool {
	for _, k := range exclude {
		if k == base {
			return true
		}
		if ok, _ := path.Match(k, base); ok {
			return true
		}
	}
	return false
}

// ExcludedPath reports whether any segment of the slash path p is excluded.
func ExcludedPath(p string, exclude []string) bool {
	for _, seg := range strings.Split(p, "/") {
		if Excluded(seg, exclude) {
			return true
		}
	}
	return false
}

// ---------------- .gitignore support ----------------

type gitPattern struct {
	neg     bool
	dirOnly bool
	rx      *regexp.Regexp
}

// parseGitignore compiles the subset of .gitignore syntax the walker
// understands: comments, "!" negation, leading "/" anchoring, trailing "/"
// for directories, "**" across directories and "*"/"?" within one segment.
func parseGitignore(path string) ([]gitPattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var res []gitPattern
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		neg := false
		if strings.HasPrefix(line, "!") {
			neg = true
			line = strings.TrimSpace(line[1:])
			if line == "" {
				continue
			}
		}
		dirOnly := strings.HasSuffix(line, "/")
		line = strings.TrimSuffix(line, "/")
		// A slash anywhere but the end anchors the pattern to the root.
		anchored := strings.Contains(line, "/")
		line = strings.TrimPrefix(line, "/")
		res = append(res, gitPattern{neg: neg, dirOnly: dirOnly, rx: compileGitGlob(line, anchored)})
	}
	return res, s.Err()
}

func compileGitGlob(glob string, anchored bool) *regexp.Regexp {
	esc := regexp.QuoteMeta(glob)
	esc = strings.ReplaceAll(esc, `\*\*/`, "(?:.*/)?")
	esc = strings.ReplaceAll(esc, `\*\*`, ".*")
	esc = strings.ReplaceAll(esc, `\*`, "[^/]*")
	esc = strings.ReplaceAll(esc, `\?`, "[^/]")
	if anchored {
		return regexp.MustCompile("^" + esc + "$")
	}
	return regexp.MustCompile("(^|.*/)" + esc + "$")
}

func matchGitignore(pats []gitPattern, rel string, isDir bool) bool {
	ignored := false
	for _, p := range pats {
		if p.dirOnly && !isDir {
			continue
		}
		if p.rx.MatchString(rel) {
			ignored = !p.neg
		}
	}
	return ignored
}
