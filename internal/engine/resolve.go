package engine

import (
	"path"
	"strings"
)

// Resolve maps a declared then-change target to a repository path.
//
// Targets starting with "./" or "../" are relative to the directory of the
// declaring file; anything else is relative to the repository root, with a
// leading "/" ignored. Backslashes are treated as separators. The result is
// "" when the target is empty or climbs above the root.
func Resolve(source, declared string) string {
	s := strings.ReplaceAll(strings.TrimSpace(declared), "\\", "/")
	if s == "" {
		return ""
	}
	if s == "." || s == ".." || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") {
		s = path.Dir(source) + "/" + s
	}
	s = strings.TrimLeft(s, "/")

	parts := strings.Split(s, "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return ""
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, part)
		}
	}
	return strings.Join(stack, "/")
}
