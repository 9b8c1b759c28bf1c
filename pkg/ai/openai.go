package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var modelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "studygroup",
	Subsystem: "ai",
	Name:      "model_failures_total",
	Help:      "Number of failed model calls after retries",
}, []string{"model", "operation"})

// ClientConfig defines configuration options for the OpenAI-backed client.
type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MinInterval    time.Duration
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// Client implements TextModel and Embedder against an OpenAI-compatible API,
// routing every call through a rate-limited Gateway.
type Client struct {
	api     *openai.Client
	gateway *Gateway
	cfg     ClientConfig
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewClient builds a rate-limited model client from the provided configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}

	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 2 * time.Second
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		api:     openai.NewClientWithConfig(config),
		gateway: NewGateway(cfg.MinInterval, logger),
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/rakhadjo/studygroup-api/pkg/ai"),
		logger:  logger.With().Str("component", "ai_client").Logger(),
	}, nil
}

// CompleteJSON asks the model for a JSON-shaped answer and returns the raw
// response text. Callers are expected to run the result through Parse.
func (c *Client) CompleteJSON(parent context.Context, prompt string, opts CompletionOptions) (string, error) {
	ctx, span := c.tracer.Start(parent, "ai.complete", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
	))
	defer span.End()

	if opts.MaxTokens == 0 {
		opts.MaxTokens = 800
	}

	request := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var content string
	err := c.gateway.Invoke(ctx, "complete", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, request)
		if err != nil {
			return err
		}

		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned from model")
		}

		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		modelFailures.WithLabelValues(c.cfg.Model, "complete").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("model completion: %w", err)
	}

	return content, nil
}

// Embed generates a vector embedding for the given text.
func (c *Client) Embed(parent context.Context, text string) ([]float32, error) {
	ctx, span := c.tracer.Start(parent, "ai.embed", trace.WithAttributes(
		attribute.String("model", c.cfg.EmbeddingModel),
	))
	defer span.End()

	request := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Input: []string{text},
	}

	var vector []float32
	err := c.gateway.Invoke(ctx, "embed", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		resp, err := c.api.CreateEmbeddings(callCtx, request)
		if err != nil {
			return err
		}

		if len(resp.Data) == 0 {
			return fmt.Errorf("no embedding data returned")
		}

		vector = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		modelFailures.WithLabelValues(c.cfg.EmbeddingModel, "embed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding generation: %w", err)
	}

	return vector, nil
}
