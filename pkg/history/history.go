// Package history persists each run's result to
// <project>/.sykli/runs/<iso8601-ts>.json, the way a cache meta file is
// written — to a temp name, fsynced, then renamed into place — so a reader
// never observes a half-written run record. It also maintains two symlinks,
// latest.json (every run) and last_good.json (successful runs only), using
// the same create-then-rename pattern so neither ever points at a file that
// doesn't fully exist yet.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sykli/engine/pkg/orchestrator"
)

// Record is the run-history document written for one run.
type Record struct {
	RunID     string                               `json:"run_id"`
	Project   string                               `json:"project"`
	StartedAt time.Time                            `json:"started_at"`
	Status    orchestrator.Status                  `json:"status"`
	Tasks     map[string]*orchestrator.TaskResult   `json:"tasks"`
}

// Writer writes run records under root (a project's .sykli/runs directory).
type Writer struct {
	root string
}

// NewWriter builds a Writer rooted at <project>/.sykli/runs, creating the
// directory if it doesn't exist.
func NewWriter(project string) (*Writer, error) {
	root := filepath.Join(project, ".sykli", "runs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Writer{root: root}, nil
}

// Write persists rec to <ts>.json, then atomically repoints latest.json at
// it, and last_good.json too if rec.Status is StatusCompleted.
func (w *Writer) Write(rec Record, ts time.Time) error {
	name := ts.UTC().Format("20060102T150405.000000000Z") + ".json"
	path := filepath.Join(w.root, name)

	if err := writeJSONAtomic(path, rec); err != nil {
		return err
	}
	if err := w.relink("latest.json", name); err != nil {
		return err
	}
	if rec.Status == orchestrator.StatusCompleted {
		if err := w.relink("last_good.json", name); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONAtomic(path string, rec Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// relink atomically repoints symlinkName (relative to w.root) at target
// (also relative to w.root), by creating a new symlink under a temp name
// and renaming it over the old one.
func (w *Writer) relink(symlinkName, target string) error {
	tmpName := filepath.Join(w.root, "."+symlinkName+".tmp")
	os.Remove(tmpName)
	if err := os.Symlink(target, tmpName); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(w.root, symlinkName))
}
