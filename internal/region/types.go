// Package region defines annotated if-change/then-change regions and the
// parser that extracts them from a file.
package region

import (
	"fmt"
	"strings"
)

// Target is one then-change declaration inside a region. Path is the raw
// string as written; resolution against the repository happens elsewhere.
type Target struct {
	Path string `json:"path"`
	Line int    `json:"line"` // 1-based line of the declaration
}

// Region is one annotated block inside a file. Start and End are 1-based and
// inclusive and span the lines between the open and close markers. Content
// holds the raw bytes of those lines, line endings included.
type Region struct {
	Path      string   `json:"path"`
	Index     int      `json:"index"` // position within the file, 0-based
	Start     int      `json:"start"`
	End       int      `json:"end"`
	OpenLine  int      `json:"openLine"`
	CloseLine int      `json:"closeLine,omitempty"` // 0 when closed at EOF
	Targets   []Target `json:"targets"`
	Content   []byte   `json:"-"`
}

// Span renders the content range as "path:start-end".
func (r Region) Span() string {
	if r.Start == r.End {
		return fmt.Sprintf("%s:%d", r.Path, r.Start)
	}
	return fmt.Sprintf("%s:%d-%d", r.Path, r.Start, r.End)
}

// FileScan is the result of parsing one file in one snapshot.
type FileScan struct {
	Path    string   `json:"path"`
	Regions []Region `json:"regions"`
}

// Diagnostic is a positioned parse problem. Line is 1-based; 0 means the
// problem concerns the whole file.
type Diagnostic struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d - %s", d.Path, d.Line, d.Message)
	}
	return fmt.Sprintf("%s - %s", d.Path, d.Message)
}

// ParseError aggregates every diagnostic found in one file.
type ParseError struct {
	Path        string
	Diagnostics []Diagnostic
}

func (e *ParseError) Error() string {
	var b strings.Builder
	for i, d := range e.Diagnostics {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(d.String())
	}
	return b.String()
}
