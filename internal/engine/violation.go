package engine

import (
	"fmt"
	"sort"
)

// Reason classifies a violation.
type Reason string

const (
	// TargetUnchanged: a region changed but a declared target file did not.
	TargetUnchanged Reason = "TargetUnchanged"
	// TargetFileMissing: a declared target does not exist in the new
	// snapshot, or resolves outside the repository.
	TargetFileMissing Reason = "TargetFileMissing"
	// MalformedAnnotation: the markers of a file do not form valid regions.
	MalformedAnnotation Reason = "MalformedAnnotation"
	// SnapshotReadError: the provider failed to read a file.
	SnapshotReadError Reason = "SnapshotReadError"
)

// Violation is one inconsistency found by a check. RegionIndex is -1 for
// findings not tied to a region (malformed files, unreadable files); for
// those StartLine is the offending line, or 0 when there is none.
type Violation struct {
	SourceFile     string `json:"source_file"`
	RegionIndex    int    `json:"region_index"`
	StartLine      int    `json:"start_line,omitempty"`
	EndLine        int    `json:"end_line,omitempty"`
	TargetFile     string `json:"target_file,omitempty"`
	DeclaredTarget string `json:"declared_target,omitempty"`
	TargetLine     int    `json:"target_line,omitempty"`
	Reason         Reason `json:"reason"`
	Detail         string `json:"detail"`
}

// Location renders where the violation should be fixed.
func (v Violation) Location() string {
	switch {
	case v.Reason == TargetUnchanged:
		return v.TargetFile
	case v.TargetLine > 0:
		return fmt.Sprintf("%s:%d", v.SourceFile, v.TargetLine)
	case v.StartLine > 0:
		return fmt.Sprintf("%s:%d", v.SourceFile, v.StartLine)
	default:
		return v.SourceFile
	}
}

func (v Violation) String() string {
	return v.Location() + " - " + v.Detail
}

// sortViolations orders by source path, start line, target declaration
// line, then target path.
func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.SourceFile != b.SourceFile {
			return a.SourceFile < b.SourceFile
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.TargetLine != b.TargetLine {
			return a.TargetLine < b.TargetLine
		}
		return a.DeclaredTarget < b.DeclaredTarget
	})
}
