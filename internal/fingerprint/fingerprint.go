// Package fingerprint computes content digests for regions and whole files.
// Two inputs with identical bytes (whitespace and line endings included)
// always produce identical fingerprints; that equality is the only notion of
// "unchanged" the checker uses.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"thenchange/internal/region"
)

// Fingerprint is a SHA-256 digest.
type Fingerprint [sha256.Size]byte

// Of hashes raw bytes.
func Of(b []byte) Fingerprint {
	return sha256.Sum256(b)
}

// File hashes a whole file's content.
func File(data []byte) Fingerprint { return Of(data) }

// Region hashes the raw content of one region.
func Region(r region.Region) Fingerprint { return Of(r.Content) }

// Regions returns the fingerprints of a file's regions in order.
func Regions(scan region.FileScan) []Fingerprint {
	out := make([]Fingerprint, len(scan.Regions))
	for i, r := range scan.Regions {
		out[i] = Region(r)
	}
	return out
}

// Reader hashes everything readable from r.
func Reader(r io.Reader) (Fingerprint, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Fingerprint{}, err
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

// String returns the lowercase hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Parse decodes a 64-char hex fingerprint.
func Parse(s string) (Fingerprint, bool) {
	var fp Fingerprint
	if len(s) != hex.EncodedLen(len(fp)) {
		return fp, false
	}
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return Fingerprint{}, false
	}
	return fp, true
}
