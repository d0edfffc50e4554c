package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir treats every ref as a directory holding one snapshot. Relative refs
// are resolved against Base (the process working directory when empty).
type Dir struct {
	Base string
	Walk WalkOptions
}

// NewDir returns a directory provider with the default exclude list and
// .gitignore support.
func NewDir(base string) *Dir {
	return &Dir{Base: base, Walk: WalkOptions{Exclude: DefaultExclude, Gitignore: true}}
}

func (d *Dir) root(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty directory ref", ErrInvalidRef)
	}
	root := ref
	if !filepath.IsAbs(root) && d.Base != "" {
		root = filepath.Join(d.Base, root)
	}
	st, err := os.Stat(root)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", ErrInvalidRef, ref)
	}
	return root, nil
}

func (d *Dir) ListFiles(ctx context.Context, ref string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := d.root(ref)
	if err != nil {
		return nil, err
	}
	files, err := Walk(root, d.Walk)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func (d *Dir) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := d.root(ref)
	if err != nil {
		return nil, err
	}
	clean, ok := CleanPath(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
