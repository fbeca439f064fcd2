package snapshot_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkoval/entcopy/internal/engine"
	"github.com/mkoval/entcopy/internal/snapshot"
	"github.com/mkoval/entcopy/internal/testutil"
)

func strPtr(s string) *string { return &s }

func sample() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Meta: snapshot.Meta{FormatVersion: snapshot.FormatVersion, GeneratedAt: "2026-08-01T12:00:00Z"},
		RefMap: engine.RefMap{
			"project": {
				"region": {"r1": strPtr("r9"), "r3": nil},
			},
		},
		Ignored: engine.IgnoredMap{
			"project": {"p2", "p1"},
		},
		Created: engine.OutputMap{
			"network": {"n1": "copy-001", "n2": "copy-002"},
		},
	}
}

func TestCanonicalJSONIsDeterministic(t *testing.T) {
	a, err := snapshot.CanonicalJSON(sample())
	testutil.AssertNoError(t, err)
	b, err := snapshot.CanonicalJSON(sample())
	testutil.AssertNoError(t, err)
	if !bytes.Equal(a, b) {
		t.Fatalf("canonical bytes differ:\n%s\n%s", a, b)
	}

	text := string(a)
	if i, j := strings.Index(text, `"n1"`), strings.Index(text, `"n2"`); i < 0 || j < 0 || i > j {
		t.Errorf("created keys not in sorted order: %s", text)
	}
	testutil.AssertStringContains(t, text, `"r3":null`)
}

func TestRevIgnoresStampedRev(t *testing.T) {
	s := sample()
	rev1, err := snapshot.Rev(s)
	testutil.AssertNoError(t, err)
	testutil.AssertStringContains(t, rev1, "sha256:")

	s.Meta.SnapshotRev = rev1
	rev2, err := snapshot.Rev(s)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rev1, rev2)
}

func TestRevChangesWithContent(t *testing.T) {
	a := sample()
	b := sample()
	b.Created["network"]["n1"] = "copy-999"

	revA, err := snapshot.Rev(a)
	testutil.AssertNoError(t, err)
	revB, err := snapshot.Rev(b)
	testutil.AssertNoError(t, err)
	if revA == revB {
		t.Fatal("different content hashed to the same rev")
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	for _, canonical := range []bool{false, true} {
		path := filepath.Join(testutil.TempDir(t), "out.snapshot.json")
		rev, err := snapshot.WriteFile(sample(), snapshot.WriteOptions{Path: path, Canonical: canonical})
		testutil.AssertNoError(t, err)

		got, err := snapshot.ReadFile(path)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, rev, got.Meta.SnapshotRev)
		testutil.AssertEqual(t, sample().RefMap, got.RefMap)
		// Ignored ids are sorted on write.
		testutil.AssertEqual(t, engine.IgnoredMap{"project": {"p1", "p2"}}, got.Ignored)
		testutil.AssertEqual(t, sample().Created, got.Created)
	}
}

func TestReadMaterializesEmptySections(t *testing.T) {
	s := &snapshot.Snapshot{
		Meta: snapshot.Meta{FormatVersion: snapshot.FormatVersion},
		RefMap: engine.RefMap{
			"project": {"region": {"r1": strPtr("r9")}},
		},
	}
	path := filepath.Join(testutil.TempDir(t), "out.snapshot.json")
	_, err := snapshot.WriteFile(s, snapshot.WriteOptions{Path: path, Canonical: true})
	testutil.AssertNoError(t, err)

	got, err := snapshot.ReadFile(path)
	testutil.AssertNoError(t, err)
	// An empty ignored map is omitted from the file but must come back
	// non-nil: a reviewed empty map is still a reviewed map.
	if got.Ignored == nil {
		t.Fatal("ignored map is nil after roundtrip")
	}
	testutil.AssertEqual(t, engine.IgnoredMap{}, got.Ignored)
	if got.RefMap == nil {
		t.Fatal("ref map is nil after roundtrip")
	}
}

func TestReadRejectsTamperedContent(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "out.snapshot.json")
	_, err := snapshot.WriteFile(sample(), snapshot.WriteOptions{Path: path})
	testutil.AssertNoError(t, err)

	text := testutil.ReadFile(t, path)
	testutil.WriteFile(t, dir, "out.snapshot.json", strings.Replace(text, "copy-001", "copy-666", 1))

	_, err = snapshot.ReadFile(path)
	testutil.AssertError(t, err)
	testutil.AssertStringContains(t, err.Error(), "rev mismatch")
}

func TestReadRejectsUnknownFormatVersion(t *testing.T) {
	dir := testutil.TempDir(t)
	path := testutil.WriteFile(t, dir, "bad.snapshot.json", `{"meta":{"format_version":99}}`)

	_, err := snapshot.ReadFile(path)
	testutil.AssertError(t, err)
	testutil.AssertStringContains(t, err.Error(), "format version")
}

func TestDiffIdenticalIsEmpty(t *testing.T) {
	a := sample()
	b := sample()
	b.Meta.GeneratedAt = "2026-08-02T00:00:00Z"
	b.Meta.SnapshotRev = "sha256:other"

	out, err := snapshot.Diff(a, b, "a.json", "b.json")
	testutil.AssertNoError(t, err)
	if out != "" {
		t.Fatalf("expected empty diff, got:\n%s", out)
	}
}

func TestDiffShowsChangedEntries(t *testing.T) {
	a := sample()
	b := sample()
	b.RefMap["project"]["region"]["r3"] = strPtr("r2")

	out, err := snapshot.Diff(a, b, "a.json", "b.json")
	testutil.AssertNoError(t, err)
	testutil.AssertStringContains(t, out, "a.json")
	testutil.AssertStringContains(t, out, "b.json")
	testutil.AssertStringContains(t, out, `+        "r3": "r2"`)
	testutil.AssertStringContains(t, out, `-        "r3": null`)
}

func TestFromResult(t *testing.T) {
	res := &engine.Result{
		RefMap:  engine.RefMap{"project": {"region": {"r1": strPtr("r9")}}},
		Ignored: engine.IgnoredMap{"project": {"p2"}},
		Created: engine.OutputMap{"project": {"p1": "copy-001"}},
	}
	s := snapshot.FromResult(res)
	testutil.AssertEqual(t, res.RefMap, s.RefMap)
	testutil.AssertEqual(t, res.Ignored, s.Ignored)
	testutil.AssertEqual(t, res.Created, s.Created)
}
