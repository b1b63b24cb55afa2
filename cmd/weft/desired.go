package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/fsys"
	"github.com/weftworks/weft/internal/reconcile"
)

// desiredFileName is the workspace-relative file holding the declared
// bead set, under the state directory.
const desiredFileName = "desired.json"

// desiredPath returns the absolute path of the desired-state file.
func desiredPath(ws string, cfg *config.Weft) string {
	return filepath.Join(wsPath(ws, cfg.Workspace.StateDir), desiredFileName)
}

// loadDesired reads the declared bead set from disk. A missing file is an
// empty set, not an error.
func loadDesired(f fsys.FS, path string) (*reconcile.DesiredState, error) {
	d := reconcile.NewDesiredState()
	data, err := f.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading desired state: %w", err)
	}
	var specs map[bead.ID]bead.Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for id, spec := range specs {
		d.AddBead(id, spec)
	}
	return d, nil
}

// saveDesired writes the declared bead set back to disk.
func saveDesired(f fsys.FS, path string, d *reconcile.DesiredState) error {
	data, err := json.MarshalIndent(d.Beads(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding desired state: %w", err)
	}
	if err := f.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("writing desired state: %w", err)
	}
	if err := f.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing desired state: %w", err)
	}
	return nil
}

// sortedDesired returns the declared beads ordered by ID for stable output.
func sortedDesired(d *reconcile.DesiredState) []bead.ID {
	beads := d.Beads()
	ids := make([]bead.ID, 0, len(beads))
	for id := range beads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
