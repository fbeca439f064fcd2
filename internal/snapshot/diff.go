package snapshot

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Diff renders a unified diff between two snapshots, ignoring meta noise
// (generated_at, snapshot_rev). An empty string means the resolution state
// is identical.
func Diff(a, b *Snapshot, fromFile, toFile string) (string, error) {
	aText, err := diffText(a)
	if err != nil {
		return "", err
	}
	bText, err := diffText(b)
	if err != nil {
		return "", err
	}
	if aText == bText {
		return "", nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(aText),
		B:        difflib.SplitLines(bText),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func diffText(s *Snapshot) (string, error) {
	stripped := *s
	stripped.Meta = Meta{FormatVersion: s.Meta.FormatVersion}
	data, err := PrettyJSON(&stripped)
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
