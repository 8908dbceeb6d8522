package chat

import (
	"context"
	"fmt"
	"net/http"
)

// Turn is one earlier message handed to the generator as context.
type Turn struct {
	Role    Role
	Content string
}

type GenerateRequest struct {
	Model        string
	SystemPrompt string
	History      []Turn
	Text         string
}

// Generator opens a lazy sequence of text fragments for a prompt.
type Generator interface {
	Open(ctx context.Context, req GenerateRequest) (FragmentStream, error)
	Name() string
}

// FragmentStream yields fragments until Next returns io.EOF. Cancelling
// ctx stops production; Close releases the stream and is safe to call
// more than once.
type FragmentStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// NewGenerator builds the Generator selected by cfg.Provider.
func NewGenerator(cfg LLMConfig, client *http.Client) (Generator, error) {
	switch cfg.Provider {
	case "", "echo":
		return &EchoGenerator{Delay: cfg.EchoDelay}, nil
	case "openai":
		if client == nil {
			client = &http.Client{Timeout: cfg.Timeout}
		}
		return &OpenAIGenerator{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model, Client: client}, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrConfig, cfg.Provider)
	}
}
