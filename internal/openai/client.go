package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEmbeddingModel      = openai.AdaEmbeddingV2
	DefaultEmbeddingDimensions = 1536
	DefaultChatModel           = "gpt-4o-mini"

	// maxEmbeddingBatch bounds the inputs sent in one embeddings request.
	maxEmbeddingBatch = 64
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	ErrEmptyAnswer     = errors.New("model returned no answer")
)

const systemPrompt = `You answer questions using only the provided document excerpts.
If the excerpts do not contain the answer, say that the knowledge base does not cover it.
Answer in the language of the question.`

// API is the subset of the OpenAI API the client uses.
type API interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
	CreateChatCompletion(ctx context.Context, system, user string) (string, error)
}

type Client struct {
	api        API
	dimensions int
}

type adapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
}

func (a *adapter) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))
	}

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (a *adapter) CreateChatCompletion(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

func NewClientWithConfig(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	return newClient(&adapter{
		client:         openai.NewClientWithConfig(oc),
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
	}, cfg.EmbeddingDimensions)
}

func newClient(api API, dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{api: api, dimensions: dimensions}
}

// GenerateEmbedding embeds a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateEmbeddings embeds texts in order, batching requests.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyText
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbeddingBatch {
		end := start + maxEmbeddingBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.api.CreateEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding: %w", err)
		}
		for _, embedding := range batch {
			if len(embedding) != c.dimensions {
				return nil, fmt.Errorf("%w: got %d, expected %d", ErrWrongDimensions, len(embedding), c.dimensions)
			}
		}
		out = append(out, batch...)
	}
	return out, nil
}

// Answer asks the chat model to answer question from the numbered excerpts.
func (c *Client) Answer(ctx context.Context, question string, excerpts []string) (string, error) {
	var b strings.Builder
	for i, excerpt := range excerpts {
		fmt.Fprintf(&b, "[%d]\n%s\n\n", i+1, excerpt)
	}
	fmt.Fprintf(&b, "Question: %s", question)

	answer, err := c.api.CreateChatCompletion(ctx, systemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}
