package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const diagnosticLimit = 4096

// ToolError is an external tool that could not be spawned or exited non-zero.
type ToolError struct {
	ExitCode   int
	Diagnostic string
	Err        error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Diagnostic)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ExitCode < 0 {
		return "spawn failed: " + msg
	}
	return fmt.Sprintf("exit status %d: %s", e.ExitCode, msg)
}

func (e *ToolError) Unwrap() error { return e.Err }

type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process is a started external command.
type Process interface {
	Stdout() io.Reader
	// Wait must be called after Stdout has been drained.
	Wait() error
}

// Executor starts commands. Cancelling ctx kills the process.
type Executor interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

type ExecExecutor struct{}

func (ExecExecutor) Start(ctx context.Context, c Command) (Process, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ToolError{ExitCode: -1, Err: err}
	}
	tail := &tailBuffer{limit: diagnosticLimit}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, &ToolError{ExitCode: -1, Err: err}
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: tail}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *tailBuffer
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{ExitCode: exitErr.ExitCode(), Diagnostic: p.stderr.String(), Err: err}
	}
	return &ToolError{ExitCode: -1, Diagnostic: p.stderr.String(), Err: err}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
