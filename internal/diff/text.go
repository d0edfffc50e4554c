package diff

import "bytes"

// displayText normalizes line endings to LF and replaces invalid UTF-8.
// A final newline is added so the last line cannot run into the next hunk.
func displayText(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	b = bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
	b = bytes.ToValidUTF8(b, []byte("\uFFFD"))
	if b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	return b
}
