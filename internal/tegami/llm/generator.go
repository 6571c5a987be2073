// Package llm is the text-generation backend Tegami asks for character
// replies. The dispatch pipeline builds a Prompt, makes exactly one
// Generate call per user message, and never retries.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimit is returned when the upstream API (HTTP 429) or the local
// per-scope limiter refuses a call.
var ErrRateLimit = errors.New("llm: rate limit exceeded")

// ErrEmptyReply is returned when the backend answered but produced no text.
var ErrEmptyReply = errors.New("llm: empty reply")

// Role of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Prompt is one fully assembled generation request.
type Prompt struct {
	Messages []Message
	// MaxTokens caps the reply length; zero leaves it to the backend.
	MaxTokens int
}

// Reply is the raw generated text, before any splitting.
type Reply struct {
	Text         string
	Model        string
	FinishReason string
}

// Generator produces one reply per prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (*Reply, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, p Prompt) (*Reply, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (*Reply, error) {
	return f(ctx, p)
}
