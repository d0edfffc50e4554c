// Package report renders check results for people (text) and machines
// (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"thenchange/internal/diff"
	"thenchange/internal/engine"
)

// Options controls rendering.
type Options struct {
	// Color enables ANSI styling in text output.
	Color bool
	// ShowDiff appends the diff of every region that caused a violation.
	ShowDiff bool
	// DiffMaxBytes caps each region diff; 0 means no limit.
	DiffMaxBytes int
}

// ColorEnabled resolves a color mode ("auto", "always", "never") for f.
func ColorEnabled(mode string, f *os.File) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type styles struct {
	location lipgloss.Style
	reason   map[engine.Reason]lipgloss.Style
	ok       lipgloss.Style
	bad      lipgloss.Style
	faint    lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		location: r.NewStyle().Bold(true),
		reason: map[engine.Reason]lipgloss.Style{
			engine.TargetUnchanged:     r.NewStyle().Foreground(lipgloss.Color("214")),
			engine.TargetFileMissing:   r.NewStyle().Foreground(lipgloss.Color("196")),
			engine.MalformedAnnotation: r.NewStyle().Foreground(lipgloss.Color("201")),
			engine.SnapshotReadError:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
		ok:    r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		bad:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		faint: r.NewStyle().Faint(true),
	}
}

// Text writes one line per violation followed by a summary line.
func Text(w io.Writer, res *engine.Result, opt Options) error {
	st := newStyles(w, opt.Color)
	var b strings.Builder
	for _, v := range res.Violations {
		fmt.Fprintf(&b, "%s - %s %s\n",
			st.location.Render(v.Location()),
			v.Detail,
			st.reason[v.Reason].Render("["+string(v.Reason)+"]"))
	}
	if opt.ShowDiff {
		for _, c := range violatingChanges(res) {
			body, _ := diff.Region(c.Path, c.Start, c.End, c.Old, c.New, diff.Options{MaxBytes: opt.DiffMaxBytes})
			if body == "" {
				continue
			}
			b.WriteString("\n")
			// Styled line by line; lipgloss pads multi-line blocks.
			for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
				b.WriteString(st.faint.Render(line))
				b.WriteString("\n")
			}
		}
	}
	if len(res.Violations) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(summary(res, st))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func summary(res *engine.Result, st styles) string {
	s := res.Stats
	scope := fmt.Sprintf("%d files, %d changed regions, %d edges checked", s.Files, s.ChangedRegions, s.EdgesChecked)
	if len(res.Violations) == 0 {
		return st.ok.Render("consistent") + " " + st.faint.Render("("+scope+")")
	}
	counts := res.Count()
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, fmt.Sprintf("%d %s", counts[engine.Reason(r)], r))
	}
	noun := "violations"
	if len(res.Violations) == 1 {
		noun = "violation"
	}
	return st.bad.Render(fmt.Sprintf("%d %s", len(res.Violations), noun)) +
		" (" + strings.Join(parts, ", ") + ") " + st.faint.Render("("+scope+")")
}

// violatingChanges returns the changed regions referenced by a violation,
// in violation order, each once.
func violatingChanges(res *engine.Result) []engine.RegionChange {
	type key struct {
		path  string
		index int
	}
	byKey := make(map[key]engine.RegionChange, len(res.Changes))
	for _, c := range res.Changes {
		byKey[key{c.Path, c.Index}] = c
	}
	seen := make(map[key]bool)
	var out []engine.RegionChange
	for _, v := range res.Violations {
		k := key{v.SourceFile, v.RegionIndex}
		c, ok := byKey[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// jsonChange adds the rendered diff to a region change.
type jsonChange struct {
	engine.RegionChange
	Diff     string `json:"diff,omitempty"`
	Oversize bool   `json:"oversize,omitempty"`
}

type jsonReport struct {
	RunID      string             `json:"run_id"`
	OldRef     string             `json:"old_ref"`
	NewRef     string             `json:"new_ref"`
	Consistent bool               `json:"consistent"`
	Violations []engine.Violation `json:"violations"`
	Counts     map[string]int     `json:"counts"`
	Changes    []jsonChange       `json:"changes,omitempty"`
	Stats      engine.Stats       `json:"stats"`
}

// JSON writes the result as one indented JSON document. Changes are
// included only with ShowDiff.
func JSON(w io.Writer, res *engine.Result, opt Options) error {
	doc := jsonReport{
		RunID:      res.RunID,
		OldRef:     res.OldRef,
		NewRef:     res.NewRef,
		Consistent: len(res.Violations) == 0,
		Violations: res.Violations,
		Counts:     make(map[string]int),
		Stats:      res.Stats,
	}
	if doc.Violations == nil {
		doc.Violations = []engine.Violation{}
	}
	for r, n := range res.Count() {
		doc.Counts[string(r)] = n
	}
	if opt.ShowDiff {
		for _, c := range res.Changes {
			body, over := diff.Region(c.Path, c.Start, c.End, c.Old, c.New, diff.Options{MaxBytes: opt.DiffMaxBytes})
			doc.Changes = append(doc.Changes, jsonChange{RegionChange: c, Diff: body, Oversize: over})
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Render dispatches on format ("text" or "json").
func Render(w io.Writer, format string, res *engine.Result, opt Options) error {
	switch strings.ToLower(format) {
	case "", "text":
		return Text(w, res, opt)
	case "json":
		return JSON(w, res, opt)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
