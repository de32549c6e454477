package toolproc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running tool child.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Process, error)

func (f LauncherFunc) Launch(ctx context.Context) (Process, error) { return f(ctx) }

// CommandLauncher starts the child with os/exec. The child outlives the
// context passed to Launch; it is stopped by Client.Disconnect.
type CommandLauncher struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (l CommandLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Path == "" {
		return nil, fmt.Errorf("tool process command is required")
	}

	cmd := exec.Command(l.Path, l.Args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command %s: %w", l.Path, err)
	}
	return &cmdProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type cmdProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *cmdProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *cmdProcess) Stdout() io.Reader     { return p.stdout }
func (p *cmdProcess) Stderr() io.Reader     { return p.stderr }
func (p *cmdProcess) Wait() error           { return p.cmd.Wait() }

func (p *cmdProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
