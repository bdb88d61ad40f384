// Package snapshot implements the versioned export/import format for
// conversation trees. Version 2 stores the node map only; edges and
// roots are derived state and are recomputed on import rather than
// trusted (the deprecated version 1 format carried an independent
// edge list).
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"arbor/internal/domain"
	"arbor/internal/tree"
)

// Version is the only snapshot format this build reads and writes.
const Version = 2

// UnsupportedVersionError reports a snapshot whose version discriminant
// this build does not understand. No forward-compat coercion is
// attempted; importing the wrong format must not silently produce a
// half-populated tree.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported snapshot version %d (expected %d)", e.Version, Version)
}

// Is allows errors.Is() to match against domain.ErrValidation
func (e *UnsupportedVersionError) Is(target error) bool {
	return target == domain.ErrValidation
}

// Tree is the serialized node set
type Tree struct {
	Nodes map[string]tree.Node `json:"nodes"`
}

// Snapshot is the on-disk representation of one conversation tree
// plus its active pointer.
type Snapshot struct {
	Version        int       `json:"version"`
	ExportedAt     time.Time `json:"exportedAt"`
	Tree           Tree      `json:"tree"`
	ActiveTargetID *string   `json:"activeTargetId,omitempty"`
}

// Export captures the full node set and the active pointer.
func Export(store *tree.Store, activeTargetID *string) Snapshot {
	var active *string
	if activeTargetID != nil {
		id := *activeTargetID
		active = &id
	}
	return Snapshot{
		Version:        Version,
		ExportedAt:     time.Now().UTC(),
		Tree:           Tree{Nodes: store.Nodes()},
		ActiveTargetID: active,
	}
}

// Import reconstructs a store from a snapshot. Unknown versions fail
// with UnsupportedVersionError. Dangling parent references degrade to
// roots, and an active pointer whose target is absent is dropped;
// neither fails the import.
func Import(snap Snapshot) (*tree.Store, *string, error) {
	if snap.Version != Version {
		return nil, nil, &UnsupportedVersionError{Version: snap.Version}
	}
	store := tree.Restore(snap.Tree.Nodes)
	var active *string
	if snap.ActiveTargetID != nil {
		if _, ok := store.Get(*snap.ActiveTargetID); ok {
			id := *snap.ActiveTargetID
			active = &id
		}
	}
	return store, active, nil
}

// Decode parses raw snapshot JSON. Version gating happens in Import so
// that a decoded-but-unsupported snapshot still reports its version.
func Decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, &domain.ValidationError{Message: "snapshot is not valid JSON: " + err.Error()}
	}
	return snap, nil
}

// Filename returns the timestamped export filename convention.
func Filename(t time.Time) string {
	return "arbor-snapshot-" + t.UTC().Format("20060102-150405") + ".json"
}
