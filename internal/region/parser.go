package region

// This file implements the region parser. A region is declared with the
// open marker, lists its targets with the target marker and ends with the
// close marker, each alone on its line behind any comment prefix:
//
//	# if-change
//	VERSION=1.2.3
//	# then-change push.sh
//	# end-change
//
//	<!-- if-change -->
//	...
//	<!-- then-change -->
//	<!--   docs/a.md -->
//	<!--   docs/b.md -->
//	<!-- end-change -->
//
// Lines are classified independently of parser state; the state machine then
// decides whether a classified line is legal. Parsing never stops at the
// first problem so that one run reports every diagnostic of a file.

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
)

type lineKind int

const (
	lineSource lineKind = iota
	lineOpen
	lineTargetInline
	lineTargetBlock
	lineClose
)

type parseState int

const (
	stateOutside parseState = iota
	stateRegion
	stateTargets
)

// Parser extracts regions from file content. It holds no mutable state and
// is safe for concurrent use.
type Parser struct {
	markers Markers
	policy  ClosePolicy
}

// NewParser validates the markers and returns a parser.
func NewParser(m Markers, policy ClosePolicy) (*Parser, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid markers: %w", err)
	}
	if policy != CloseStrict && policy != CloseAtEOF {
		return nil, fmt.Errorf("invalid close policy %d", policy)
	}
	return &Parser{markers: m, policy: policy}, nil
}

// DefaultParser uses DefaultMarkers and CloseStrict.
func DefaultParser() *Parser {
	return &Parser{markers: DefaultMarkers(), policy: CloseStrict}
}

// Markers returns the lexemes this parser recognizes.
func (p *Parser) Markers() Markers { return p.markers }

// Policy returns the end-of-file policy.
func (p *Parser) Policy() ClosePolicy { return p.policy }

// Parse returns the regions of one file in order of appearance. When the
// file is malformed the returned error is a *ParseError; the FileScan still
// carries every region that closed cleanly.
func (p *Parser) Parse(path string, data []byte) (FileScan, error) {
	s := &scanState{markers: p.markers, path: path, lines: splitLines(data)}
	for i, raw := range s.lines {
		text := strings.TrimRight(string(raw), "\r\n")
		kind, arg := p.classify(text)
		s.step(i+1, kind, arg, text)
	}
	s.finish(p.policy)

	scan := FileScan{Path: path, Regions: s.regions}
	if len(s.diags) > 0 {
		return scan, &ParseError{Path: path, Diagnostics: s.diags}
	}
	return scan, nil
}

// classify maps one line (without its line ending) to its marker kind. For
// inline targets the declared path is returned as well.
func (p *Parser) classify(line string) (lineKind, string) {
	if rest, ok := markerRest(line, p.markers.Open); ok && rest == "" {
		return lineOpen, ""
	}
	if rest, ok := markerRest(line, p.markers.Close); ok && rest == "" {
		return lineClose, ""
	}
	if rest, ok := markerRest(line, p.markers.Target); ok {
		if rest == "" {
			return lineTargetBlock, ""
		}
		if r := rune(rest[0]); unicode.IsSpace(r) {
			return lineTargetInline, strings.TrimSpace(rest)
		}
	}
	return lineSource, ""
}

// markerRest finds tok behind a comment prefix and returns whatever follows
// it, minus trailing punctuation and whitespace.
func markerRest(line, tok string) (string, bool) {
	i := strings.Index(line, tok)
	if i < 0 || !isCommentPrefix(line[:i]) {
		return "", false
	}
	return strings.TrimRightFunc(line[i+len(tok):], isPunctOrSpace), true
}

// isCommentPrefix is a best-effort comment detector: "#", "//", "--", "/*",
// "<!--" and indentation all qualify.
func isCommentPrefix(s string) bool {
	for _, r := range s {
		if !isPunctOrSpace(r) {
			return false
		}
	}
	return true
}

func isPunctOrSpace(r rune) bool {
	if r > unicode.MaxASCII {
		return false
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
}

// blockTargetPath extracts a path from a line inside a then-change block.
// The comment prefix ends at the last whitespace of the leading punctuation
// run so that "#   ../a.sh" keeps its "../".
func blockTargetPath(line string) string {
	lead := strings.IndexFunc(line, func(r rune) bool { return !isPunctOrSpace(r) })
	if lead < 0 {
		return ""
	}
	if cut := strings.LastIndexFunc(line[:lead], unicode.IsSpace); cut >= 0 {
		line = line[cut+1:]
	} else {
		line = line[lead:]
	}
	return strings.TrimRightFunc(line, isPunctOrSpace)
}

// splitLines keeps line endings so region content stays byte-exact.
func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	lines := bytes.SplitAfter(data, []byte("\n"))
	if n := len(lines); len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	return lines
}

type scanState struct {
	markers Markers
	path    string
	lines   [][]byte

	state     parseState
	cur       Region
	blockLine int

	regions []Region
	diags   []Diagnostic
}

func (s *scanState) errorf(line int, format string, args ...any) {
	s.diags = append(s.diags, Diagnostic{Path: s.path, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (s *scanState) step(ln int, kind lineKind, arg, text string) {
	m := s.markers
	switch s.state {
	case stateOutside:
		switch kind {
		case lineOpen:
			s.cur = Region{Path: s.path, OpenLine: ln, Start: ln + 1}
			s.state = stateRegion
		case lineTargetInline, lineTargetBlock:
			s.errorf(ln, "%s must follow an %s", m.Target, m.Open)
		case lineClose:
			s.errorf(ln, "%s must follow an %s", m.Close, m.Open)
		}

	case stateRegion:
		switch kind {
		case lineOpen:
			s.errorf(ln, "%s nesting is not allowed (%s on line %d is still open)", m.Open, m.Open, s.cur.OpenLine)
		case lineTargetInline:
			s.cur.Targets = append(s.cur.Targets, Target{Path: arg, Line: ln})
		case lineTargetBlock:
			s.blockLine = ln
			s.state = stateTargets
		case lineClose:
			s.closeRegion(ln)
		}

	case stateTargets:
		switch kind {
		case lineSource:
			if p := blockTargetPath(text); p != "" {
				s.cur.Targets = append(s.cur.Targets, Target{Path: p, Line: ln})
			}
		case lineOpen:
			s.errorf(ln, "%s nesting is not allowed (%s on line %d is still open)", m.Open, m.Open, s.cur.OpenLine)
		case lineTargetInline, lineTargetBlock:
			s.errorf(ln, "%s block opened on line %d must be closed by %s first", m.Target, s.blockLine, m.Close)
		case lineClose:
			s.closeRegion(ln)
		}
	}
}

// closeRegion ends the current region at the close marker on line ln, or at
// end of file when ln is 0.
func (s *scanState) closeRegion(ln int) {
	r := s.cur
	s.cur = Region{}
	s.state = stateOutside

	if ln == 0 {
		r.End = len(s.lines)
	} else {
		r.CloseLine = ln
		r.End = ln - 1
	}
	if len(r.Targets) == 0 {
		s.errorf(r.OpenLine, "%s block declares no %s targets", s.markers.Open, s.markers.Target)
		return
	}
	r.Content = bytes.Join(s.lines[r.Start-1:r.End], nil)
	r.Index = len(s.regions)
	s.regions = append(s.regions, r)
}

func (s *scanState) finish(policy ClosePolicy) {
	if s.state == stateOutside {
		return
	}
	if policy == CloseAtEOF {
		s.closeRegion(0)
		return
	}
	s.errorf(s.cur.OpenLine, "%s is never closed by %s", s.markers.Open, s.markers.Close)
	s.state = stateOutside
}
