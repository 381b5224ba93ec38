package transcode

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace is the scratch directory for a single job run. It is created
// fresh per job and removed when the run finishes, whatever the outcome.
type Workspace struct {
	dir string
}

// NewWorkspace creates the per-job scratch directory under root, including
// the hls subdirectory ffmpeg writes variant playlists into.
func NewWorkspace(root, jobID string) (*Workspace, error) {
	dir := filepath.Join(root, jobID)
	if err := os.MkdirAll(filepath.Join(dir, "hls"), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace root directory.
func (w *Workspace) Dir() string { return w.dir }

// Join resolves a path inside the workspace.
func (w *Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

// HLSDir returns the directory holding the generated playlists and segments.
func (w *Workspace) HLSDir() string { return filepath.Join(w.dir, "hls") }

// Cleanup removes the workspace. Removal failures are logged, never
// propagated; a stale scratch directory must not change the job outcome.
func (w *Workspace) Cleanup(logger *slog.Logger) {
	if w == nil || w.dir == "" {
		return
	}
	if err := os.RemoveAll(w.dir); err != nil && logger != nil {
		logger.Warn("workspace cleanup failed", "dir", w.dir, "error", err)
	}
}
