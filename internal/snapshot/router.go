package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Router dispatches "scheme:ref" strings to registered providers, for
// example "dir:/tmp/old" or "baseline:main". Refs without a registered
// scheme go to the default provider.
type Router struct {
	def Provider

	mu      sync.RWMutex
	schemes map[string]Provider
}

// NewRouter returns a router with def as fallback. def may be nil.
func NewRouter(def Provider) *Router {
	return &Router{def: def, schemes: make(map[string]Provider)}
}

// Register binds scheme to p, replacing any previous binding.
func (r *Router) Register(scheme string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[scheme] = p
}

// Schemes lists the registered schemes, sorted.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemes))
	for s := range r.schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Route returns the provider for ref and the ref it should see.
func (r *Router) Route(ref string) (Provider, string, error) {
	if scheme, rest, ok := strings.Cut(ref, ":"); ok && scheme != "" {
		r.mu.RLock()
		p, found := r.schemes[scheme]
		r.mu.RUnlock()
		if found {
			return p, rest, nil
		}
	}
	if r.def == nil {
		return nil, "", fmt.Errorf("%w: no provider for %q", ErrInvalidRef, ref)
	}
	return r.def, ref, nil
}

func (r *Router) ListFiles(ctx context.Context, ref string) ([]string, error) {
	p, sub, err := r.Route(ref)
	if err != nil {
		return nil, err
	}
	return p.ListFiles(ctx, sub)
}

func (r *Router) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	p, sub, err := r.Route(ref)
	if err != nil {
		return nil, err
	}
	return p.ReadFile(ctx, sub, path)
}

// ChangedFiles delegates when both refs route to the same provider and that
// provider can list changes.
func (r *Router) ChangedFiles(ctx context.Context, oldRef, newRef string) ([]string, error) {
	po, so, err := r.Route(oldRef)
	if err != nil {
		return nil, err
	}
	pn, sn, err := r.Route(newRef)
	if err != nil {
		return nil, err
	}
	cl, ok := po.(ChangeLister)
	if !ok || po != pn {
		return nil, ErrChangesUnsupported
	}
	return cl.ChangedFiles(ctx, so, sn)
}
