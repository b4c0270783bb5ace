package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WorkspacePrefix names the temporary directories created for runs.
const WorkspacePrefix = "mp3transcribe-"

// Workspace is a scoped temporary directory owned by a single run.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a new workspace under root, or under the system temp dir when root is empty.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp root %s: %w", root, err)
	}

	dir, err := os.MkdirTemp(root, WorkspacePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Workspace{Dir: dir}, nil
}

// Path returns the path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, filepath.Base(name))
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.Dir, err)
	}
	return nil
}

// SweepStale removes workspaces under root whose modification time is older than olderThan.
// It returns the removed directories. Entries that cannot be inspected are skipped.
func SweepStale(root string, olderThan time.Duration) ([]string, error) {
	if root == "" {
		root = os.TempDir()
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}

	cutoff := time.Now().Add(-olderThan)
	var removed []string
	var firstErr error

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), WorkspacePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove stale workspace %s: %w", dir, err)
			}
			continue
		}
		removed = append(removed, dir)
	}

	return removed, firstErr
}
