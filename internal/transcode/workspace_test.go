package transcode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWorkspaceCreatesHLSDir(t *testing.T) {
	root := t.TempDir()

	ws, err := NewWorkspace(root, "job-1")
	if err != nil {
		t.Fatalf("NewWorkspace returned error: %v", err)
	}
	if ws.Dir() != filepath.Join(root, "job-1") {
		t.Fatalf("unexpected workspace dir %q", ws.Dir())
	}
	if info, err := os.Stat(ws.HLSDir()); err != nil || !info.IsDir() {
		t.Fatalf("expected hls dir to exist, err=%v", err)
	}
	if got := ws.Join("thumbnail.jpg"); got != filepath.Join(root, "job-1", "thumbnail.jpg") {
		t.Fatalf("unexpected joined path %q", got)
	}
}

func TestWorkspaceCleanupRemovesEverything(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root, "job-2")
	if err != nil {
		t.Fatalf("NewWorkspace returned error: %v", err)
	}
	if err := os.WriteFile(ws.Join("hls", "stream_0_000.ts"), []byte("segment"), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	ws.Cleanup(nil)

	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be removed, got err=%v", err)
	}
}

func TestWorkspaceCleanupNilSafe(t *testing.T) {
	var ws *Workspace
	ws.Cleanup(nil)
}
