package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mkoval/entcopy/internal/engine"
)

// CanonicalJSON produces a deterministic JSON encoding following JCS-like rules:
// - Keys sorted lexicographically
// - No insignificant whitespace
// - UTF-8 encoding
// - Consistent null/empty handling (empty sections omitted)
func CanonicalJSON(s *Snapshot) ([]byte, error) {
	ordered := buildOrderedSnapshot(s)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(ordered); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	// Remove trailing newline added by Encode
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	return result, nil
}

// ComputeSnapshotRev computes the sha256 hash of canonical JSON bytes.
// Returns "sha256:<hex>" format.
func ComputeSnapshotRev(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// buildOrderedSnapshot creates an ordered map structure for canonical JSON.
// Order: meta, ref_map, ignored, created.
func buildOrderedSnapshot(s *Snapshot) orderedMap {
	result := make(orderedMap, 0, 4)

	result = append(result, keyValue{"meta", buildOrderedMeta(&s.Meta)})

	if len(s.RefMap) > 0 {
		result = append(result, keyValue{"ref_map", buildOrderedRefMap(s.RefMap)})
	}

	if len(s.Ignored) > 0 {
		result = append(result, keyValue{"ignored", buildOrderedIgnored(s.Ignored)})
	}

	if len(s.Created) > 0 {
		result = append(result, keyValue{"created", buildOrderedCreated(s.Created)})
	}

	return result
}

// orderedMap is a slice of key-value pairs that marshals as a JSON object
// with keys in the order they appear in the slice.
type orderedMap []keyValue

type keyValue struct {
	Key   string
	Value interface{}
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, kv := range om {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		valJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func buildOrderedMeta(m *Meta) orderedMap {
	result := make(orderedMap, 0, 3)

	// Fields in lexicographic order
	result = append(result, keyValue{"format_version", m.FormatVersion})
	if m.GeneratedAt != "" {
		result = append(result, keyValue{"generated_at", m.GeneratedAt})
	}
	if m.SnapshotRev != "" {
		result = append(result, keyValue{"snapshot_rev", m.SnapshotRev})
	}

	return result
}

func buildOrderedRefMap(refMap engine.RefMap) orderedMap {
	result := make(orderedMap, 0, len(refMap))
	for _, typeName := range sortedMapKeys(refMap) {
		byField := refMap[typeName]
		fields := make(orderedMap, 0, len(byField))
		for _, fieldName := range sortedMapKeys(byField) {
			byOrigin := byField[fieldName]
			entries := make(orderedMap, 0, len(byOrigin))
			for _, originID := range sortedMapKeys(byOrigin) {
				// A nil substitute marshals as null: the unmatched marker.
				entries = append(entries, keyValue{originID, byOrigin[originID]})
			}
			fields = append(fields, keyValue{fieldName, entries})
		}
		result = append(result, keyValue{typeName, fields})
	}
	return result
}

func buildOrderedIgnored(ignored engine.IgnoredMap) orderedMap {
	result := make(orderedMap, 0, len(ignored))
	for _, typeName := range sortedMapKeys(ignored) {
		ids := make([]string, len(ignored[typeName]))
		copy(ids, ignored[typeName])
		sort.Strings(ids)
		result = append(result, keyValue{typeName, ids})
	}
	return result
}

func buildOrderedCreated(created engine.OutputMap) orderedMap {
	result := make(orderedMap, 0, len(created))
	for _, typeName := range sortedMapKeys(created) {
		byOrigin := created[typeName]
		entries := make(orderedMap, 0, len(byOrigin))
		for _, originID := range sortedMapKeys(byOrigin) {
			entries = append(entries, keyValue{originID, byOrigin[originID]})
		}
		result = append(result, keyValue{typeName, entries})
	}
	return result
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PrettyJSON produces human-readable indented JSON over the same ordered
// structure as CanonicalJSON. Stable enough to diff, easier to review.
func PrettyJSON(s *Snapshot) ([]byte, error) {
	canonical, err := CanonicalJSON(s)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
