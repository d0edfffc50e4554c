// Package diff renders unified diffs of changed regions for reports. It uses
// github.com/pmezard/go-difflib/difflib to produce classic unified patches
// (---/+++ headers, @@ hunks, lines prefixed with ' ', '-', '+').
package diff

import (
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// Options controls patch generation.
type Options struct {
	// MaxBytes caps old+new input size. Larger inputs yield a placeholder
	// patch and oversize=true. 0 means no limit.
	MaxBytes int

	// Context is the number of context lines per hunk; 0 means 3.
	Context int
}

// Unified produces a unified patch for a↦b. The patch is empty when both
// sides are equal after line-ending normalization.
func Unified(aName, bName string, a, b []byte, opt Options) (body string, oversize bool) {
	if opt.MaxBytes > 0 && len(a)+len(b) > opt.MaxBytes {
		return omitted(aName, bName), true
	}
	a, b = displayText(a), displayText(b)
	ctx := opt.Context
	if ctx <= 0 {
		ctx = 3
	}
	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(string(a)),
		B:        splitLinesKeepNL(string(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  ctx,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return omitted(aName, bName), false
	}
	return s, false
}

// Region diffs the old and new content of one region. A nil old side means
// the region has no counterpart in the old snapshot.
func Region(path string, start, end int, old, cur []byte, opt Options) (string, bool) {
	span := fmt.Sprintf("%s:%d-%d", path, start, end)
	from := "a/" + span
	if old == nil {
		from = "/dev/null"
	}
	return Unified(from, "b/"+span, old, cur, opt)
}

// splitLinesKeepNL splits into lines keeping the newline characters, which
// produces better unified hunks.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// omitted returns a compact placeholder when size limits are exceeded.
func omitted(aName, bName string) string {
	return fmt.Sprintf("--- %s\n+++ %s\n@@\n# diff omitted (oversize)\n", aName, bName)
}
