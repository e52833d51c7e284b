package utils

import (
	"context"
	"os/exec"
)

// ExecWith creates a command that is killed when ctx is done.
func ExecWith(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
