package fingerprint

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"thenchange/internal/region"
)

func TestOfIsByteExact(t *testing.T) {
	a := Of([]byte("v=1\n"))
	if a != Of([]byte("v=1\n")) {
		t.Fatalf("identical content must hash identically")
	}
	for _, other := range []string{"v=1\r\n", "v=1 \n", "v=1", "v=2\n"} {
		if a == Of([]byte(other)) {
			t.Fatalf("content %q must not collide with %q", other, "v=1\n")
		}
	}
}

func TestRegionsFollowsOrder(t *testing.T) {
	scan := region.FileScan{Regions: []region.Region{{Content: []byte("a")}, {Content: []byte("b")}}}
	fps := Regions(scan)
	if len(fps) != 2 || fps[0] != Of([]byte("a")) || fps[1] != Of([]byte("b")) {
		t.Fatalf("unexpected fingerprints %v", fps)
	}
}

func TestStringAndParse(t *testing.T) {
	fp := File([]byte("hello"))
	s := fp.String()
	if len(s) != 64 || s != strings.ToLower(s) {
		t.Fatalf("unexpected hex %q", s)
	}
	back, ok := Parse(s)
	if !ok || back != fp {
		t.Fatalf("parse round trip failed")
	}
	if _, ok := Parse("xyz"); ok {
		t.Fatalf("expected parse failure")
	}
}

func TestReaderMatchesOf(t *testing.T) {
	got, err := Reader(strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if got != Of([]byte("payload")) {
		t.Fatalf("Reader and Of disagree")
	}
	if _, err := Reader(iotest.ErrReader(io.ErrUnexpectedEOF)); err != io.ErrUnexpectedEOF {
		t.Fatalf("Reader error = %v", err)
	}
}
