package transcode

import (
	"context"
	"os/exec"
)

// Runner executes an external tool and returns its combined stdout and
// stderr. Everything ffmpeg-shaped goes through this seam so tests can
// substitute canned results for real process execution.
type Runner interface {
	Run(ctx context.Context, name string, args []string, dir string) ([]byte, error)
}

// ExecRunner runs tools as real subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
