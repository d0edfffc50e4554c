// Package engine decides which declared then-change edges are violated
// between two snapshots of a repository.
//
// A check lists both snapshots, reads and parses every file on a bounded
// worker pool, builds the dependency graph of the new snapshot and then
// walks the edges of every region whose content changed. The output is
// sorted, so it never depends on scheduling.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"thenchange/internal/fingerprint"
	"thenchange/internal/graph"
	"thenchange/internal/region"
	"thenchange/internal/snapshot"
)

// Engine runs consistency checks against a snapshot provider. It keeps no
// state between calls and is safe for concurrent use.
type Engine struct {
	provider snapshot.Provider
	parser   *region.Parser
	workers  int
	matching Matching
	scan     ScanMode
	log      *zap.Logger
}

// New returns an engine reading snapshots from p.
func New(p snapshot.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider: p,
		parser:   region.DefaultParser(),
		workers:  runtime.GOMAXPROCS(0),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// fileState is everything known about one path across both snapshots.
type fileState struct {
	path         string
	inOld, inNew bool
	// identical is set when the file was not read because the provider
	// reported it unchanged.
	identical bool
	read      bool

	oldFP, newFP             fingerprint.Fingerprint
	oldScan, newScan         region.FileScan
	oldRegFPs, newRegFPs     []fingerprint.Fingerprint
	oldParseErr, newParseErr *region.ParseError
	readErr                  error
}

// Check returns the violations between oldRef and newRef in deterministic
// order. A non-nil error means the check could not run at all.
func (e *Engine) Check(ctx context.Context, oldRef, newRef string) ([]Violation, error) {
	res, err := e.Run(ctx, oldRef, newRef)
	if err != nil {
		return nil, err
	}
	return res.Violations, nil
}

// HasViolations reports whether Check would return any violation.
func (e *Engine) HasViolations(ctx context.Context, oldRef, newRef string) (bool, error) {
	vs, err := e.Check(ctx, oldRef, newRef)
	if err != nil {
		return false, err
	}
	return len(vs) > 0, nil
}

// Run performs a check and returns violations together with the changed
// regions and run statistics.
func (e *Engine) Run(ctx context.Context, oldRef, newRef string) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), OldRef: oldRef, NewRef: newRef}
	log := e.log.With(zap.String("run_id", res.RunID), zap.String("old", oldRef), zap.String("new", newRef))

	oldFiles, err := e.provider.ListFiles(ctx, oldRef)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", oldRef, err)
	}
	newFiles, err := e.provider.ListFiles(ctx, newRef)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", newRef, err)
	}

	states := unionStates(oldFiles, newFiles)
	toRead, err := e.selectFiles(ctx, log, oldRef, newRef, states)
	if err != nil {
		return nil, err
	}
	if err := e.load(ctx, oldRef, newRef, states, toRead); err != nil {
		return nil, err
	}

	byPath := make(map[string]*fileState, len(states))
	scans := make([]region.FileScan, 0, len(states))
	for i := range states {
		st := &states[i]
		byPath[st.path] = st
		if st.inNew && st.read && st.readErr == nil && st.newParseErr == nil {
			scans = append(scans, st.newScan)
		}
	}
	g := graph.Build(scans, Resolve)
	if err := e.loadUnlisted(ctx, log, oldRef, newRef, g, byPath); err != nil {
		return nil, err
	}

	for i := range states {
		e.evaluate(&states[i], g, byPath, res)
	}
	sortViolations(res.Violations)
	if res.Violations == nil {
		res.Violations = []Violation{}
	}

	res.Stats.Files = len(states)
	res.Stats.FilesRead = len(toRead)
	res.Stats.Regions = g.Len()
	res.Stats.ChangedRegions = len(res.Changes)
	res.Stats.Duration = time.Since(start)
	log.Info("check finished",
		zap.Int("files", res.Stats.Files),
		zap.Int("files_read", res.Stats.FilesRead),
		zap.Int("regions", res.Stats.Regions),
		zap.Int("changed_regions", res.Stats.ChangedRegions),
		zap.Int("violations", len(res.Violations)),
		zap.Duration("elapsed", res.Stats.Duration),
	)
	return res, nil
}

// Graph builds the dependency graph of one snapshot. Files whose markers
// are malformed contribute the regions that closed cleanly; their
// diagnostics are returned alongside.
func (e *Engine) Graph(ctx context.Context, ref string) (*graph.Graph, []region.Diagnostic, error) {
	files, err := e.provider.ListFiles(ctx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", ref, err)
	}
	scans := make([]region.FileScan, len(files))
	diags := make([][]region.Diagnostic, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			data, err := e.provider.ReadFile(gctx, ref, path)
			if err != nil {
				if errors.Is(err, snapshot.ErrNotFound) {
					return nil
				}
				return fmt.Errorf("read %s: %w", path, err)
			}
			scan, perr := e.parser.Parse(path, data)
			scans[i] = scan
			var pe *region.ParseError
			if errors.As(perr, &pe) {
				diags[i] = pe.Diagnostics
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	var all []region.Diagnostic
	for _, d := range diags {
		all = append(all, d...)
	}
	return graph.Build(scans, Resolve), all, nil
}

func unionStates(oldFiles, newFiles []string) []fileState {
	idx := make(map[string]int, len(newFiles))
	var states []fileState
	add := func(p string) *fileState {
		if i, ok := idx[p]; ok {
			return &states[i]
		}
		idx[p] = len(states)
		states = append(states, fileState{path: p})
		return &states[len(states)-1]
	}
	for _, p := range oldFiles {
		add(p).inOld = true
	}
	for _, p := range newFiles {
		add(p).inNew = true
	}
	sort.Slice(states, func(i, j int) bool { return states[i].path < states[j].path })
	return states
}

// selectFiles returns the indexes of states to read. In ScanChanged mode
// files outside the provider's change set are marked identical.
func (e *Engine) selectFiles(ctx context.Context, log *zap.Logger, oldRef, newRef string, states []fileState) ([]int, error) {
	all := func() []int {
		out := make([]int, len(states))
		for i := range out {
			out[i] = i
		}
		return out
	}
	if e.scan != ScanChanged {
		return all(), nil
	}
	cl, ok := e.provider.(snapshot.ChangeLister)
	if !ok {
		log.Debug("provider cannot list changes, scanning all files")
		return all(), nil
	}
	changed, err := cl.ChangedFiles(ctx, oldRef, newRef)
	if errors.Is(err, snapshot.ErrChangesUnsupported) {
		log.Debug("change listing unsupported for refs, scanning all files")
		return all(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("changed files %s..%s: %w", oldRef, newRef, err)
	}
	set := make(map[string]struct{}, len(changed))
	for _, p := range changed {
		set[p] = struct{}{}
	}
	var out []int
	for i := range states {
		st := &states[i]
		_, touched := set[st.path]
		if touched || st.inOld != st.inNew {
			out = append(out, i)
			continue
		}
		st.identical = true
	}
	log.Debug("scanning changed files only", zap.Int("changed", len(out)), zap.Int("total", len(states)))
	return out, nil
}

// load reads, fingerprints and parses the selected files concurrently.
// Each worker writes only its own slot.
func (e *Engine) load(ctx context.Context, oldRef, newRef string, states []fileState, toRead []int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, i := range toRead {
		st := &states[i]
		g.Go(func() error {
			return e.loadOne(gctx, oldRef, newRef, st)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Engine) loadOne(ctx context.Context, oldRef, newRef string, st *fileState) error {
	st.read = true
	oldData, oldOK, err := e.readVersion(ctx, oldRef, st.path, st.inOld)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.readErr = fmt.Errorf("read %s@%s: %w", st.path, oldRef, err)
		return nil
	}
	newData, newOK, err := e.readVersion(ctx, newRef, st.path, st.inNew)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.readErr = fmt.Errorf("read %s@%s: %w", st.path, newRef, err)
		return nil
	}
	st.inOld, st.inNew = oldOK, newOK

	if st.inOld {
		st.oldFP = fingerprint.File(oldData)
		st.oldScan, st.oldParseErr = e.parse(st.path, oldData)
		st.oldRegFPs = fingerprint.Regions(st.oldScan)
	}
	if st.inNew {
		st.newFP = fingerprint.File(newData)
		st.newScan, st.newParseErr = e.parse(st.path, newData)
		st.newRegFPs = fingerprint.Regions(st.newScan)
	}
	return nil
}

// loadUnlisted reads declared targets missing from both listings, such as
// files a provider skips for size or ignore rules. They are consulted only as
// targets and never evaluated as sources. One that cannot be read stays
// missing.
func (e *Engine) loadUnlisted(ctx context.Context, log *zap.Logger, oldRef, newRef string, g *graph.Graph, byPath map[string]*fileState) error {
	var extra []fileState
	for _, p := range g.Targets() {
		if _, ok := byPath[p]; !ok && p != "" {
			extra = append(extra, fileState{path: p, inOld: true, inNew: true})
		}
	}
	if len(extra) == 0 {
		return nil
	}
	idx := make([]int, len(extra))
	for i := range idx {
		idx[i] = i
	}
	if err := e.load(ctx, oldRef, newRef, extra, idx); err != nil {
		return err
	}
	for i := range extra {
		st := &extra[i]
		if st.readErr != nil {
			log.Debug("unlisted target unreadable", zap.String("path", st.path), zap.Error(st.readErr))
			continue
		}
		log.Debug("read unlisted target", zap.String("path", st.path), zap.Bool("exists", st.inNew))
		byPath[st.path] = st
	}
	return nil
}

// readVersion returns the content of path in ref. A listed file that turns
// out to be absent is treated as absent.
func (e *Engine) readVersion(ctx context.Context, ref, path string, listed bool) ([]byte, bool, error) {
	if !listed {
		return nil, false, nil
	}
	data, err := e.provider.ReadFile(ctx, ref, path)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (e *Engine) parse(path string, data []byte) (region.FileScan, *region.ParseError) {
	scan, err := e.parser.Parse(path, data)
	var pe *region.ParseError
	if errors.As(err, &pe) {
		return scan, pe
	}
	return scan, nil
}

// evaluate emits every violation sourced from st.
func (e *Engine) evaluate(st *fileState, g *graph.Graph, byPath map[string]*fileState, res *Result) {
	if st.readErr != nil {
		res.Violations = append(res.Violations, Violation{
			SourceFile:  st.path,
			RegionIndex: -1,
			Reason:      SnapshotReadError,
			Detail:      st.readErr.Error(),
		})
		return
	}
	if !st.inNew || st.identical {
		return
	}
	if st.newParseErr != nil {
		for _, d := range st.newParseErr.Diagnostics {
			res.Violations = append(res.Violations, Violation{
				SourceFile:  st.path,
				RegionIndex: -1,
				StartLine:   d.Line,
				EndLine:     d.Line,
				Reason:      MalformedAnnotation,
				Detail:      d.Message,
			})
		}
		return
	}

	structural := st.oldParseErr != nil
	changed, pairs := changedRegions(e.matching, st.oldRegFPs, st.newRegFPs, structural)
	for i, r := range st.newScan.Regions {
		if !changed[i] {
			continue
		}
		rc := RegionChange{Path: st.path, Index: r.Index, Start: r.Start, End: r.End, New: r.Content}
		if j := pairs[i]; j >= 0 && !structural {
			rc.Old = st.oldScan.Regions[j].Content
		}
		for _, edge := range g.EdgesFrom(graph.Key{Path: st.path, Index: r.Index}) {
			rc.Targets = append(rc.Targets, edge.Declared)
			res.Stats.EdgesChecked++
			if v, bad := checkEdge(st, r, edge, byPath); bad {
				res.Violations = append(res.Violations, v)
			}
		}
		res.Changes = append(res.Changes, rc)
	}
}

// checkEdge decides whether one edge of a changed region is satisfied.
func checkEdge(src *fileState, r region.Region, edge graph.Edge, byPath map[string]*fileState) (Violation, bool) {
	v := Violation{
		SourceFile:     src.path,
		RegionIndex:    r.Index,
		StartLine:      r.Start,
		EndLine:        r.End,
		TargetFile:     edge.Target,
		DeclaredTarget: edge.Declared,
		TargetLine:     edge.Line,
	}
	if edge.Target == "" {
		v.Reason = TargetFileMissing
		v.Detail = fmt.Sprintf("then-change target %q is outside the repository", edge.Declared)
		return v, true
	}
	if edge.SelfEdge() {
		return v, false
	}
	ts, ok := byPath[edge.Target]
	if !ok || (!ts.inNew && ts.readErr == nil) {
		v.Reason = TargetFileMissing
		v.Detail = fmt.Sprintf("then-change target %s does not exist", edge.Target)
		return v, true
	}
	if ts.readErr != nil {
		v.Reason = SnapshotReadError
		v.Detail = fmt.Sprintf("cannot read then-change target %s: %v", edge.Target, ts.readErr)
		return v, true
	}
	if ts.identical || (ts.inOld && ts.oldFP == ts.newFP) {
		v.Reason = TargetUnchanged
		v.Detail = fmt.Sprintf("expected change here due to change in %s", r.Span())
		return v, true
	}
	return v, false
}
