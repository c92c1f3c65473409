// Package chat defines the narrow language-model capability the core
// consumes. Concrete provider adapters, retry wrappers, and cross-provider
// routers all live outside the core and implement this same interface, so
// they compose transparently.
package chat

import "context"

// Message is one turn of a conversation.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Chat is the single capability the evolution engine's diagnosis step
// optionally uses to summarize findings. model may be empty, in which case
// the implementation picks its default.
type Chat interface {
	Chat(ctx context.Context, messages []Message, model string) (string, error)
}

// Func adapts a plain function to the Chat interface.
type Func func(ctx context.Context, messages []Message, model string) (string, error)

// Chat implements the Chat interface.
func (f Func) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	return f(ctx, messages, model)
}
