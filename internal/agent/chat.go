package agent

import (
	"context"
	"strings"
	"time"

	"github.com/aristath/fleet/internal/chat"
)

// NewChat adapts the agent command into the chat interface used for
// one-shot calls such as diagnosis summaries.
func NewChat(command, workDir string, timeout time.Duration) chat.Func {
	return func(ctx context.Context, msgs []chat.Message, model string) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var b strings.Builder
		for _, m := range msgs {
			if m.Role != "" {
				b.WriteString(m.Role)
				b.WriteString(": ")
			}
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}

		var args []string
		if model != "" {
			args = append(args, "--model", model)
		}
		cmd := newCommand(ctx, command, args...)
		cmd.Dir = workDir
		cmd.Stdin = strings.NewReader(b.String())

		stdout, _, err := executeCommand(cmd)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(stdout)), nil
	}
}
