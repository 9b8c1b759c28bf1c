package ai

import "context"

// CompletionOptions tune a single text-generation call.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float32
}

// TextModel describes an AI model that returns free text, usually JSON-shaped.
type TextModel interface {
	CompleteJSON(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

// Embedder produces a vector embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
