// Package ipc implements the host/container file-based message bus described in spec.md §4.5:
// atomic writes under data/ipc/<folder>/, a recursive filesystem watcher, and a two-tier task
// dispatcher for container-originated commands.
package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Subdirectories under data/ipc/<folder>/.
const (
	DirInput             = "input"
	DirOutput            = "output"
	DirTasks             = "tasks"
	DirResponses         = "responses"
	DirPendingApprovals  = "pending_approvals"
	DirApprovalDecisions = "approval_decisions"
	DirPendingQuestions  = "pending_questions"
	DirMergeResults      = "merge_results"
	DirErrors            = "errors"
)

var allDirs = []string{
	DirInput, DirOutput, DirTasks, DirResponses,
	DirPendingApprovals, DirApprovalDecisions, DirPendingQuestions,
	DirMergeResults, DirErrors,
}

// CloseSentinel is the filename written to input/ to tell the container to shut down.
const CloseSentinel = "_close"

// Root manages the data/ipc tree for one host process.
type Root struct {
	base string
}

// NewRoot returns a Root rooted at baseDir (typically "data/ipc").
func NewRoot(baseDir string) *Root {
	return &Root{base: baseDir}
}

// FolderDir returns data/ipc/<folder>.
func (r *Root) FolderDir(folder string) string {
	return filepath.Join(r.base, folder)
}

// Ensure creates every subdirectory for folder, idempotently.
func (r *Root) Ensure(folder string) error {
	for _, d := range allDirs {
		if err := os.MkdirAll(filepath.Join(r.FolderDir(folder), d), 0o755); err != nil {
			return fmt.Errorf("ipc: ensure %s/%s: %w", folder, d, err)
		}
	}
	return nil
}

// CleanStale removes every file under input/ and output/ for folder except initial.json —
// called at cold start before a container is spawned (spec.md §4.2 step 6).
func (r *Root) CleanStale(folder string) error {
	for _, dir := range []string{DirInput, DirOutput} {
		full := filepath.Join(r.FolderDir(folder), dir)
		entries, err := os.ReadDir(full)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name() == "initial.json" {
				continue
			}
			if err := os.Remove(filepath.Join(full, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// WriteJSON atomically writes v as JSON to <folder>/<dir>/<name>.json via a .tmp file + rename.
func (r *Root) WriteJSON(folder, dir, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	target := filepath.Join(r.FolderDir(folder), dir, name+".json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ipc: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("ipc: rename %s: %w", tmp, err)
	}
	return nil
}

// WriteSentinel atomically writes an empty marker file <folder>/<dir>/<name>, used for
// the "_close" input sentinel.
func (r *Root) WriteSentinel(folder, dir, name string) error {
	target := filepath.Join(r.FolderDir(folder), dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, nil, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// NextInputName returns a monotonically increasing filename stem for a new input message,
// so files sort in write order when listed.
func NextInputName() string {
	return fmt.Sprintf("msg-%d", time.Now().UnixNano())
}

// ReadAndRemove parses path as JSON into v, then unlinks it — the "every successful read is
// followed by unlink" rule. On parse failure the file is moved to errors/ instead, named
// "<folder>-<original>.json", and the parse error is returned.
func (r *Root) ReadAndRemove(folder, path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		quarantined := filepath.Join(r.FolderDir(folder), DirErrors, folder+"-"+filepath.Base(path))
		_ = os.Rename(path, quarantined)
		return fmt.Errorf("ipc: parse %s: %w", path, err)
	}
	return os.Remove(path)
}

// ListSorted returns the .json files directly under <folder>/<dir>, sorted by filename so
// monotonically-named output events are processed in order.
func (r *Root) ListSorted(folder, dir string) ([]string, error) {
	full := filepath.Join(r.FolderDir(folder), dir)
	entries, err := os.ReadDir(full)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(full, n)
	}
	return out, nil
}
