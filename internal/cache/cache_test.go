package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"thenchange/internal/fingerprint"
	"thenchange/internal/snapshot"
)

func TestBuildDeltaClassifies(t *testing.T) {
	prev := &Index{Files: []Entry{
		{Path: "same.sh", Hash: "aa"},
		{Path: "edit.sh", Hash: "bb"},
		{Path: "gone.sh", Hash: "cc"},
		{Path: "old/name.sh", Hash: "dd"},
	}}
	curr := &Index{Files: []Entry{
		{Path: "same.sh", Hash: "aa"},
		{Path: "edit.sh", Hash: "b2"},
		{Path: "new.sh", Hash: "ee"},
		{Path: "new/name.sh", Hash: "dd"},
	}}
	d := BuildDelta(prev, curr)
	if len(d.Changed) != 1 || d.Changed[0].Path != "edit.sh" || d.Changed[0].HashAfter != "b2" {
		t.Fatalf("changed: %#v", d.Changed)
	}
	if len(d.Added) != 1 || d.Added[0].Path != "new.sh" {
		t.Fatalf("added: %#v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0].Path != "gone.sh" {
		t.Fatalf("removed: %#v", d.Removed)
	}
	if len(d.Renamed) != 1 || d.Renamed[0].From != "old/name.sh" || d.Renamed[0].To != "new/name.sh" {
		t.Fatalf("renamed: %#v", d.Renamed)
	}
	want := []string{"edit.sh", "gone.sh", "new.sh", "new/name.sh", "old/name.sh"}
	got := d.Paths()
	if len(got) != len(want) {
		t.Fatalf("paths got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paths got %v want %v", got, want)
		}
	}
}

func TestBuildDeltaTrivial(t *testing.T) {
	curr := &Index{Files: []Entry{{Path: "b"}, {Path: "a"}}}
	d := BuildDelta(nil, curr)
	if len(d.Added) != 2 || d.Added[0].Path != "a" {
		t.Fatalf("added: %#v", d.Added)
	}
	d = BuildDelta(curr, nil)
	if len(d.Removed) != 2 || d.Removed[0].Path != "a" {
		t.Fatalf("removed: %#v", d.Removed)
	}
	if !BuildDelta(nil, nil).Empty() {
		t.Fatalf("nil/nil delta must be empty")
	}
	if !BuildDelta(curr, curr).Empty() {
		t.Fatalf("identical indexes must give an empty delta")
	}
}

func TestStoreSaveLoad(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "store"))
	if _, err := s.Load("main"); !errors.Is(err, ErrNoBaseline) {
		t.Fatalf("expected ErrNoBaseline, got %v", err)
	}
	names, err := s.Names()
	if err != nil || len(names) != 0 {
		t.Fatalf("names on empty store: %v %v", names, err)
	}
	idx := &Index{Name: "main", Source: "HEAD", Files: []Entry{{Path: "a.sh", Hash: "abcdef"}}}
	if err := s.Save(idx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load("main")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Source != "HEAD" || len(got.Files) != 1 || got.Files[0].Hash != "abcdef" {
		t.Fatalf("round trip lost data: %#v", got)
	}
	names, _ = s.Names()
	if len(names) != 1 || names[0] != "main" {
		t.Fatalf("names: %v", names)
	}
	for _, bad := range []string{"", "../x", "a/b", "blobs", ".hidden"} {
		if err := s.Save(&Index{Name: bad}); err == nil {
			t.Fatalf("expected name %q to be rejected", bad)
		}
	}
}

func TestBlobs(t *testing.T) {
	s := NewStore(t.TempDir())
	h := fingerprint.Of([]byte("body")).String()
	if s.HasBlob(h) {
		t.Fatalf("blob should not exist yet")
	}
	if err := s.SaveBlob(h, bytes.NewReader([]byte("body"))); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}
	// Second save is a no-op even with different bytes.
	if err := s.SaveBlob(h, bytes.NewReader([]byte("other"))); err != nil {
		t.Fatalf("SaveBlob again: %v", err)
	}
	b, err := s.ReadBlob(h)
	if err != nil || string(b) != "body" {
		t.Fatalf("ReadBlob: %q %v", b, err)
	}
	for _, bad := range []string{"XYZ", "0123456789abcdef", ""} {
		if err := s.SaveBlob(bad, bytes.NewReader(nil)); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("SaveBlob(%q) = %v, want ErrInvalidHash", bad, err)
		}
		if _, err := s.ReadBlob(bad); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("ReadBlob(%q) = %v, want ErrInvalidHash", bad, err)
		}
	}
}

func TestBlobContentMustMatchHash(t *testing.T) {
	s := NewStore(t.TempDir())
	want := fingerprint.Of([]byte("expected"))
	if err := s.SaveBlob(want.String(), bytes.NewReader([]byte("something else"))); err == nil {
		t.Fatalf("expected mismatched content to be rejected")
	}
	if s.HasBlob(want.String()) {
		t.Fatalf("rejected content must not be stored")
	}

	if err := s.SaveBlob(want.String(), bytes.NewReader([]byte("expected"))); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}
	if err := os.WriteFile(s.blobPath(want), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadBlob(want.String()); err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("ReadBlob of tampered blob = %v", err)
	}
}

func TestCaptureAndServe(t *testing.T) {
	ctx := context.Background()
	mem := snapshot.NewMemory()
	mem.SetRef("v1", map[string]string{"build.sh": "v=1\n", "push.sh": "p\n"})
	mem.SetRef("v2", map[string]string{"build.sh": "v=2\n", "push.sh": "p\n", "new.sh": "n\n"})

	s := NewStore(t.TempDir())
	if _, err := Capture(ctx, mem, "v1", "one", s, 2); err != nil {
		t.Fatalf("Capture v1: %v", err)
	}
	idx, err := Capture(ctx, mem, "v2", "two", s, 0)
	if err != nil {
		t.Fatalf("Capture v2: %v", err)
	}
	if idx.Files[0].Path != "build.sh" || idx.Files[0].Lines != 1 || idx.Files[0].Size != 4 {
		t.Fatalf("unexpected entry %#v", idx.Files[0])
	}

	b := NewBaseline(s)
	files, err := b.ListFiles(ctx, "one")
	if err != nil || len(files) != 2 {
		t.Fatalf("ListFiles: %v %v", files, err)
	}
	data, err := b.ReadFile(ctx, "one", "build.sh")
	if err != nil || string(data) != "v=1\n" {
		t.Fatalf("ReadFile: %q %v", data, err)
	}
	if _, err := b.ReadFile(ctx, "one", "new.sh"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := b.ListFiles(ctx, "missing"); !errors.Is(err, snapshot.ErrInvalidRef) {
		t.Fatalf("expected ErrInvalidRef, got %v", err)
	}
	changed, err := b.ChangedFiles(ctx, "one", "two")
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	if len(changed) != 2 || changed[0] != "build.sh" || changed[1] != "new.sh" {
		t.Fatalf("changed: %v", changed)
	}

	if err := s.Remove("one"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	n, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the v=1 blob to be pruned, removed %d", n)
	}
}
