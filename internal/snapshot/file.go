package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mkoval/entcopy/internal/engine"
)

// WriteOptions controls how a snapshot is persisted.
type WriteOptions struct {
	// Path of the output file. Required.
	Path string

	// Canonical selects the compact canonical form; otherwise the indented
	// form is written. Both carry the same snapshot_rev, computed over the
	// canonical bytes.
	Canonical bool
}

// WriteFile stamps the snapshot and writes it to disk. The stored
// snapshot_rev hashes the canonical bytes with the rev field blank, so the
// rev of a file can be re-verified after reading it back.
func WriteFile(s *Snapshot, opts WriteOptions) (string, error) {
	if opts.Path == "" {
		return "", fmt.Errorf("snapshot: output path is required")
	}

	s.Meta.FormatVersion = FormatVersion
	if s.Meta.GeneratedAt == "" {
		s.Meta.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}

	rev, err := Rev(s)
	if err != nil {
		return "", err
	}
	s.Meta.SnapshotRev = rev

	var data []byte
	if opts.Canonical {
		data, err = CanonicalJSON(s)
	} else {
		data, err = PrettyJSON(s)
	}
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(opts.Path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return rev, nil
}

// ReadFile loads and validates a snapshot file.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	if s.Meta.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d (want %d)", s.Meta.FormatVersion, FormatVersion)
	}

	if s.Meta.SnapshotRev != "" {
		rev, err := Rev(&s)
		if err != nil {
			return nil, err
		}
		if rev != s.Meta.SnapshotRev {
			return nil, fmt.Errorf("snapshot rev mismatch: file says %s, content hashes to %s", s.Meta.SnapshotRev, rev)
		}
	}

	// Empty sections are omitted on write. A reviewed snapshot still counts
	// as a supplied prior even when its maps are empty, so they come back
	// non-nil. The canonical form is identical either way, so the rev check
	// above is unaffected.
	if s.RefMap == nil {
		s.RefMap = engine.RefMap{}
	}
	if s.Ignored == nil {
		s.Ignored = engine.IgnoredMap{}
	}

	return &s, nil
}

// Rev computes the content hash of a snapshot, ignoring any rev already
// stamped into it.
func Rev(s *Snapshot) (string, error) {
	stripped := *s
	stripped.Meta.SnapshotRev = ""
	data, err := CanonicalJSON(&stripped)
	if err != nil {
		return "", err
	}
	return ComputeSnapshotRev(data), nil
}
