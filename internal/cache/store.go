package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"thenchange/internal/fingerprint"
)

const (
	// DefaultRoot is the store location relative to the repository root.
	DefaultRoot = ".thenchange/baselines"

	indexFileName = "index.json"
	blobsDirName  = "blobs"
)

var (
	// ErrNoBaseline is returned when a named baseline has never been saved.
	ErrNoBaseline = errors.New("baseline not found")
	// ErrInvalidHash is returned for blob names that are not a content digest.
	ErrInvalidHash = errors.New("invalid blob hash")

	validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Store is a directory of baselines sharing one blob pool.
type Store struct {
	root string
}

// NewStore returns a store rooted at root. Nothing is created until Save.
func NewStore(root string) *Store {
	if root == "" {
		root = DefaultRoot
	}
	return &Store{root: root}
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// ValidateName rejects names that could escape the store or collide with
// the blob pool.
func ValidateName(name string) error {
	if !validName.MatchString(name) || name == blobsDirName {
		return fmt.Errorf("invalid baseline name %q", name)
	}
	return nil
}

func (s *Store) dir(name string) string {
	return filepath.Join(s.root, name)
}

// Load reads the index of a baseline. A baseline that was never saved
// yields an error wrapping ErrNoBaseline.
func (s *Store) Load(name string) (*Index, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.dir(name), indexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNoBaseline, name)
		}
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("baseline %q: %w", name, err)
	}
	return &idx, nil
}

// Save writes the index atomically: readers never observe a partial file.
func (s *Store) Save(idx *Index) error {
	if err := ValidateName(idx.Name); err != nil {
		return err
	}
	dir := s.dir(idx.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, f, err := createTempFile(dir, indexFileName)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, indexFileName))
}

// Names lists saved baselines, sorted.
func (s *Store) Names() ([]string, error) {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() || e.Name() == blobsDirName {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), indexFileName)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Remove deletes a baseline index. Blobs are left for Prune.
func (s *Store) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return os.RemoveAll(s.dir(name))
}

// Prune deletes blobs no saved baseline references and returns how many
// were removed.
func (s *Store) Prune() (int, error) {
	names, err := s.Names()
	if err != nil {
		return 0, err
	}
	live := make(map[string]struct{})
	for _, n := range names {
		idx, err := s.Load(n)
		if err != nil {
			return 0, err
		}
		for _, e := range idx.Files {
			live[e.Hash] = struct{}{}
		}
	}
	removed := 0
	err = filepath.WalkDir(filepath.Join(s.root, blobsDirName), func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := live[d.Name()]; ok || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// SaveBlob stores data under its hash. An existing blob is left untouched.
// Content that does not hash to hash is rejected.
func (s *Store) SaveBlob(hash string, r io.Reader) error {
	want, ok := fingerprint.Parse(hash)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	if s.HasBlob(hash) {
		return nil
	}
	path := s.blobPath(want)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, f, err := createTempFile(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return err
	}
	got, err := fingerprint.Reader(io.TeeReader(r, f))
	if err == nil && got != want {
		err = fmt.Errorf("blob content hashes to %s, not %s", got, want)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadBlob loads a blob by content hash and verifies it.
func (s *Store) ReadBlob(hash string) ([]byte, error) {
	want, ok := fingerprint.Parse(hash)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	data, err := os.ReadFile(s.blobPath(want))
	if err != nil {
		return nil, err
	}
	if fingerprint.Of(data) != want {
		return nil, fmt.Errorf("blob %s is corrupt", want)
	}
	return data, nil
}

// HasBlob reports whether a blob is present.
func (s *Store) HasBlob(hash string) bool {
	fp, ok := fingerprint.Parse(hash)
	if !ok {
		return false
	}
	_, err := os.Stat(s.blobPath(fp))
	return err == nil
}

// blobPath shards blobs as <root>/blobs/aa/bb/<hash>.
func (s *Store) blobPath(fp fingerprint.Fingerprint) string {
	h := fp.String()
	return filepath.Join(s.root, blobsDirName, h[:2], h[2:4], h)
}

func createTempFile(dir, base string) (string, *os.File, error) {
	f, err := os.CreateTemp(dir, ".tmp-"+base+"-")
	if err != nil {
		return "", nil, err
	}
	return f.Name(), f, nil
}
