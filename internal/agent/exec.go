package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aristath/fleet/internal/queue"
)

// CommandExecutor runs an agent CLI as a subprocess. The instructions
// and task description are delivered on stdin; stdout is the result.
type CommandExecutor struct {
	Command string   // Agent binary, e.g. "claude" or "goose"
	Args    []string // Static arguments prepended to every invocation
	Model   string   // Appended as --model when set
	WorkDir string
	Timeout time.Duration
}

// Execute runs one task through the agent command.
func (e *CommandExecutor) Execute(ctx context.Context, task *queue.Task, instructions string) (string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := append([]string(nil), e.Args...)
	if e.Model != "" {
		args = append(args, "--model", e.Model)
	}

	cmd := newCommand(ctx, e.Command, args...)
	cmd.Dir = e.WorkDir
	cmd.Stdin = strings.NewReader(buildPrompt(task, instructions))

	stdout, _, err := executeCommand(cmd)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("timeout: agent exceeded %s", e.Timeout)
		}
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

func buildPrompt(task *queue.Task, instructions string) string {
	var b strings.Builder
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Task: ")
	b.WriteString(task.Description)
	b.WriteString("\n")
	return b.String()
}

// newCommand creates an exec.Cmd with process group isolation so the
// agent's own subprocesses die with it.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	return cmd
}

// executeCommand runs the command, draining stdout and stderr
// concurrently so large outputs cannot deadlock the pipe buffers.
func executeCommand(cmd *exec.Cmd) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()

	// Pipes must be fully drained before Wait.
	wg.Wait()
	waitErr := cmd.Wait()

	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	if waitErr != nil {
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, string(stderr))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}
	return stdout, stderr, nil
}
