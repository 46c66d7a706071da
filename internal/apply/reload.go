package apply

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Reloader makes a written patch take effect in the running target and
// reports the process id serving the new code.
type Reloader interface {
	Reload(ctx context.Context) (pid int, err error)
}

// SelfReloader covers the embedded target, which re-reads its rule
// files on every request. There is no process to restart, so reload is
// immediate and the PID is our own.
type SelfReloader struct{}

func (SelfReloader) Reload(context.Context) (int, error) {
	return os.Getpid(), nil
}

// CommandReloader runs an external reload command, for targets that
// live in their own process.
type CommandReloader struct {
	Name string
	Args []string
}

func (c CommandReloader) Reload(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("apply: reload command: %w", err)
	}
	return cmd.Process.Pid, nil
}
