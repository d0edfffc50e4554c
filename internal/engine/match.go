package engine

import (
	"fmt"
	"strings"

	"thenchange/internal/fingerprint"
)

// Matching selects how regions of the old and new version of a file are
// paired.
type Matching int

const (
	// MatchPositional pairs the Nth old region with the Nth new region. A
	// differing region count marks every new region as changed.
	MatchPositional Matching = iota
	// MatchLCS pairs regions along the longest common subsequence of their
	// fingerprints; unpaired new regions are changed.
	MatchLCS
)

func (m Matching) String() string {
	if m == MatchLCS {
		return "lcs"
	}
	return "positional"
}

// ParseMatching maps a config string to a Matching.
func ParseMatching(s string) (Matching, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "positional":
		return MatchPositional, nil
	case "lcs":
		return MatchLCS, nil
	default:
		return MatchPositional, fmt.Errorf("unknown matching %q (want positional or lcs)", s)
	}
}

// pairRegions returns, for each new region, the index of the old region it
// is paired with or -1. A new region is unchanged only when paired with an
// old region of equal fingerprint.
func pairRegions(m Matching, old, cur []fingerprint.Fingerprint) []int {
	if m == MatchLCS {
		return lcsPairs(old, cur)
	}
	out := make([]int, len(cur))
	for i := range cur {
		if len(old) == len(cur) {
			out[i] = i
		} else {
			out[i] = -1
		}
	}
	return out
}

// changedRegions marks new regions whose content must be treated as changed.
// structural forces every region to changed, used when the old version
// could not be parsed.
func changedRegions(m Matching, old, cur []fingerprint.Fingerprint, structural bool) ([]bool, []int) {
	changed := make([]bool, len(cur))
	pairs := pairRegions(m, old, cur)
	for i, j := range pairs {
		if structural {
			changed[i] = true
			continue
		}
		changed[i] = j < 0 || old[j] != cur[i]
	}
	return changed, pairs
}

// lcsPairs aligns two fingerprint sequences. Only equal fingerprints are
// ever paired, so every paired region is unchanged.
func lcsPairs(a, b []fingerprint.Fingerprint) []int {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}
	out := make([]int, m)
	for j := range out {
		out[j] = -1
	}
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case a[i] == b[j]:
			out[j] = i
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return out
}
