package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrEmptyCompletion means the provider answered without a usable completion:
	// no choices, or a choice with empty content.
	ErrEmptyCompletion = errors.New("llm returned no completion")
	// ErrImagesUnsupported is returned by providers that cannot take image input.
	ErrImagesUnsupported = errors.New("llm provider does not support images")
)

// Message is one prompt message. ImageURL, when set, is sent alongside Content as
// multimodal input.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

type Response struct {
	Role             string
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}
