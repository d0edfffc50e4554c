package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thenchange/internal/engine"
)

func sampleResult() *engine.Result {
	return &engine.Result{
		RunID:  "run-1",
		OldRef: "HEAD",
		NewRef: "@worktree",
		Violations: []engine.Violation{
			{
				SourceFile: "build.sh", RegionIndex: 0, StartLine: 3, EndLine: 4,
				TargetFile: "push.sh", DeclaredTarget: "push.sh", TargetLine: 4,
				Reason: engine.TargetUnchanged, Detail: "expected change here due to change in build.sh:3-4",
			},
			{
				SourceFile: "build.sh", RegionIndex: 0, StartLine: 3, EndLine: 4,
				TargetFile: "release.sh", DeclaredTarget: "release.sh", TargetLine: 5,
				Reason: engine.TargetFileMissing, Detail: "then-change target release.sh does not exist",
			},
		},
		Changes: []engine.RegionChange{{
			Path: "build.sh", Index: 0, Start: 3, End: 4, Targets: []string{"push.sh", "release.sh"},
			Old: []byte("VERSION=1\n"), New: []byte("VERSION=2\n"),
		}},
		Stats: engine.Stats{Files: 3, ChangedRegions: 1, EdgesChecked: 2},
	}
}

func TestTextPlain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleResult(), Options{}))
	out := buf.String()
	assert.Contains(t, out, "push.sh - expected change here due to change in build.sh:3-4 [TargetUnchanged]\n")
	assert.Contains(t, out, "build.sh:5 - then-change target release.sh does not exist [TargetFileMissing]\n")
	assert.Contains(t, out, "2 violations (1 TargetFileMissing, 1 TargetUnchanged)")
	assert.NotContains(t, out, "\x1b[")
	assert.NotContains(t, out, "+VERSION=2")
}

func TestTextShowDiff(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleResult(), Options{ShowDiff: true}))
	out := buf.String()
	assert.Contains(t, out, "--- a/build.sh:3-4")
	assert.Contains(t, out, "+VERSION=2")
	assert.Equal(t, 1, strings.Count(out, "+++ b/build.sh:3-4"))
}

func TestTextColor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleResult(), Options{Color: true}))
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestTextConsistent(t *testing.T) {
	var buf bytes.Buffer
	res := &engine.Result{Stats: engine.Stats{Files: 2}}
	require.NoError(t, Text(&buf, res, Options{}))
	assert.Equal(t, "consistent (2 files, 0 changed regions, 0 edges checked)\n", buf.String())
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sampleResult(), Options{ShowDiff: true}))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc["run_id"])
	assert.Equal(t, false, doc["consistent"])
	assert.Len(t, doc["violations"], 2)
	counts := doc["counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["TargetUnchanged"])
	changes := doc["changes"].([]any)
	require.Len(t, changes, 1)
	assert.Contains(t, changes[0].(map[string]any)["diff"], "+VERSION=2")
}

func TestJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, &engine.Result{}, Options{}))
	assert.Contains(t, buf.String(), `"violations": []`)
	assert.Contains(t, buf.String(), `"consistent": true`)
	assert.NotContains(t, buf.String(), `"changes"`)
}

func TestRenderUnknownFormat(t *testing.T) {
	assert.Error(t, Render(&bytes.Buffer{}, "xml", sampleResult(), Options{}))
}

func TestColorEnabled(t *testing.T) {
	assert.True(t, ColorEnabled("always", nil))
	assert.False(t, ColorEnabled("never", nil))
	assert.False(t, ColorEnabled("auto", nil))
}
