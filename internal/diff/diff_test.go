package diff

import (
	"strings"
	"testing"
)

func TestUnified(t *testing.T) {
	body, over := Unified("a/x", "b/x", []byte("one\ntwo\n"), []byte("one\nTWO\n"), Options{})
	if over {
		t.Fatalf("unexpected oversize")
	}
	for _, want := range []string{"--- a/x\n", "+++ b/x\n", "-two\n", "+TWO\n", " one\n"} {
		if !strings.Contains(body, want) {
			t.Fatalf("patch missing %q:\n%s", want, body)
		}
	}
}

func TestUnifiedEqualIsEmpty(t *testing.T) {
	body, _ := Unified("a", "b", []byte("same\n"), []byte("same\n"), Options{})
	if body != "" {
		t.Fatalf("expected empty patch, got %q", body)
	}
}

func TestUnifiedOversize(t *testing.T) {
	body, over := Unified("a", "b", []byte("12345"), []byte("67890"), Options{MaxBytes: 4})
	if !over || !strings.Contains(body, "omitted") {
		t.Fatalf("expected placeholder, got %q", body)
	}
}

func TestRegion(t *testing.T) {
	body, _ := Region("build.sh", 3, 4, []byte("V=1\n"), []byte("V=2\n"), Options{})
	if !strings.HasPrefix(body, "--- a/build.sh:3-4\n+++ b/build.sh:3-4\n") {
		t.Fatalf("unexpected header:\n%s", body)
	}
	body, _ = Region("build.sh", 3, 4, nil, []byte("V=2\n"), Options{})
	if !strings.HasPrefix(body, "--- /dev/null\n") || !strings.Contains(body, "+V=2\n") {
		t.Fatalf("unexpected added patch:\n%s", body)
	}
}

func TestSplitLinesKeepNL(t *testing.T) {
	got := splitLinesKeepNL("a\nb")
	if len(got) != 2 || got[0] != "a\n" || got[1] != "b" {
		t.Fatalf("got %q", got)
	}
	if len(splitLinesKeepNL("a\n")) != 1 {
		t.Fatalf("trailing newline must not add an empty line")
	}
}

func TestDisplayText(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"a\r\nb\r\n": "a\nb\n",
		"a\rb":       "a\nb\n",
		"tail":       "tail\n",
		"bad\xffx\n": "bad\uFFFDx\n",
	}
	for in, want := range cases {
		if got := string(displayText([]byte(in))); got != want {
			t.Fatalf("displayText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnifiedMissingFinalNewline(t *testing.T) {
	body, _ := Unified("a", "b", []byte("x\ny"), []byte("x\nz"), Options{})
	if !strings.Contains(body, "-y\n+z\n") {
		t.Fatalf("last lines must stay separate:\n%s", body)
	}
}
