package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory provider. Each ref is a map of path to content.
// Refs must be created with SetRef or Put before use.
type Memory struct {
	mu    sync.RWMutex
	refs  map[string]map[string][]byte
	fails map[string]error
}

// NewMemory returns an empty provider.
func NewMemory() *Memory {
	return &Memory{
		refs:  make(map[string]map[string][]byte),
		fails: make(map[string]error),
	}
}

// SetRef replaces ref with the given files.
func (m *Memory) SetRef(ref string, files map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string][]byte, len(files))
	for p, c := range files {
		snap[p] = []byte(c)
	}
	m.refs[ref] = snap
}

// Put stores one file, creating ref if needed.
func (m *Memory) Put(ref, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.refs[ref]
	if !ok {
		snap = make(map[string][]byte)
		m.refs[ref] = snap
	}
	snap[path] = append([]byte(nil), data...)
}

// Fail makes ReadFile of path in ref return err. The path stays listed.
func (m *Memory) Fail(ref, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails[ref+"\x00"+path] = err
	if _, ok := m.refs[ref]; !ok {
		m.refs[ref] = make(map[string][]byte)
	}
	if _, ok := m.refs[ref][path]; !ok {
		m.refs[ref][path] = nil
	}
}

func (m *Memory) ListFiles(ctx context.Context, ref string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.refs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	out := make([]string, 0, len(snap))
	for p := range snap {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.fails[ref+"\x00"+path]; ok {
		return nil, err
	}
	snap, ok := m.refs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	data, ok := snap[path]
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", path, ref, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// ChangedFiles compares both refs byte by byte.
func (m *Memory) ChangedFiles(ctx context.Context, oldRef, newRef string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	oldSnap, ok := m.refs[oldRef]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, oldRef)
	}
	newSnap, ok := m.refs[newRef]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, newRef)
	}
	var out []string
	for p, nb := range newSnap {
		ob, had := oldSnap[p]
		_, failedOld := m.fails[oldRef+"\x00"+p]
		_, failedNew := m.fails[newRef+"\x00"+p]
		if !had || failedOld || failedNew || !bytes.Equal(ob, nb) {
			out = append(out, p)
		}
	}
	for p := range oldSnap {
		if _, ok := newSnap[p]; !ok {
			out = append(out, p)
		}
	}
	return sortedUnique(out), nil
}
