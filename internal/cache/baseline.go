package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"thenchange/internal/fingerprint"
	"thenchange/internal/snapshot"
)

// Describe reads every file of ref and returns its index without storing
// anything. When store is non-nil the file bodies are saved as blobs so the
// index can later be served by a Baseline.
func Describe(ctx context.Context, p snapshot.Provider, ref, name string, store *Store, workers int) (*Index, error) {
	files, err := p.ListFiles(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ref, err)
	}
	entries := make([]Entry, len(files))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			data, err := p.ReadFile(gctx, ref, path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			hash := fingerprint.File(data).String()
			if store != nil {
				if err := store.SaveBlob(hash, bytes.NewReader(data)); err != nil {
					return fmt.Errorf("store %s: %w", path, err)
				}
			}
			entries[i] = Entry{Path: path, Hash: hash, Size: int64(len(data)), Lines: bytes.Count(data, []byte("\n"))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Index{
		Name:          name,
		Source:        ref,
		Created:       time.Now().UTC().Format(time.RFC3339),
		FormatVersion: FormatVersion,
		Files:         entries,
	}, nil
}

// Capture snapshots ref into the store under name.
func Capture(ctx context.Context, p snapshot.Provider, ref, name string, store *Store, workers int) (*Index, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	idx, err := Describe(ctx, p, ref, name, store, workers)
	if err != nil {
		return nil, err
	}
	if err := store.Save(idx); err != nil {
		return nil, fmt.Errorf("save baseline %q: %w", name, err)
	}
	return idx, nil
}

// Baseline serves saved baselines as snapshots: the ref is the baseline
// name. Indexes are loaded once and cached.
type Baseline struct {
	store *Store

	mu      sync.Mutex
	indexes map[string]map[string]Entry
}

// NewBaseline returns a provider over store.
func NewBaseline(store *Store) *Baseline {
	return &Baseline{store: store, indexes: make(map[string]map[string]Entry)}
}

func (b *Baseline) index(name string) (map[string]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.indexes[name]; ok {
		return m, nil
	}
	idx, err := b.store.Load(name)
	if err != nil {
		if errors.Is(err, ErrNoBaseline) {
			return nil, fmt.Errorf("%w: %v", snapshot.ErrInvalidRef, err)
		}
		if ValidateName(name) != nil {
			return nil, fmt.Errorf("%w: %v", snapshot.ErrInvalidRef, err)
		}
		return nil, err
	}
	m := indexByPath(idx.Files)
	b.indexes[name] = m
	return m, nil
}

func (b *Baseline) ListFiles(ctx context.Context, ref string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := b.index(ref)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(m))
	for p := range m {
		set[p] = struct{}{}
	}
	return sortedKeys(set), nil
}

func (b *Baseline) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := b.index(ref)
	if err != nil {
		return nil, err
	}
	e, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("%s@baseline:%s: %w", path, ref, snapshot.ErrNotFound)
	}
	data, err := b.store.ReadBlob(e.Hash)
	if err != nil {
		return nil, fmt.Errorf("blob for %s: %w", path, err)
	}
	return data, nil
}

// ChangedFiles compares the two indexes by hash without reading blobs.
func (b *Baseline) ChangedFiles(ctx context.Context, oldRef, newRef string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prev, err := b.index(oldRef)
	if err != nil {
		return nil, err
	}
	curr, err := b.index(newRef)
	if err != nil {
		return nil, err
	}
	return BuildDelta(toIndex(prev), toIndex(curr)).Paths(), nil
}

func toIndex(m map[string]Entry) *Index {
	idx := &Index{Files: make([]Entry, 0, len(m))}
	for _, e := range m {
		idx.Files = append(idx.Files, e)
	}
	return idx
}
