// Package snapshot provides canonical JSON encodings of resolution
// snapshots: the reference map and ignored map a validation pass produces.
//
// Snapshot files back the review-then-confirm workflow. A reviewer inspects
// the file, approves it, and a later run compares the stored maps against a
// fresh validation to detect drift. The encoding is deterministic (sorted
// keys, no insignificant whitespace) so files can be diffed and hashed.
package snapshot

import (
	"github.com/mkoval/entcopy/internal/engine"
)

// FormatVersion is the snapshot file format understood by this build.
const FormatVersion = 1

// Snapshot is the persisted form of one validation result.
type Snapshot struct {
	Meta    Meta              `json:"meta"`
	RefMap  engine.RefMap     `json:"ref_map,omitempty"`
	Ignored engine.IgnoredMap `json:"ignored,omitempty"`
	Created engine.OutputMap  `json:"created,omitempty"`
}

// Meta carries snapshot metadata. SnapshotRev is the sha256 of the
// canonical bytes with the rev field itself blank.
type Meta struct {
	FormatVersion int    `json:"format_version"`
	SnapshotRev   string `json:"snapshot_rev,omitempty"`
	GeneratedAt   string `json:"generated_at,omitempty"`
}

// FromResult packages an engine result for persistence. The created map is
// only present after a successful execution pass.
func FromResult(res *engine.Result) *Snapshot {
	return &Snapshot{
		Meta:    Meta{FormatVersion: FormatVersion},
		RefMap:  res.RefMap,
		Ignored: res.Ignored,
		Created: res.Created,
	}
}
