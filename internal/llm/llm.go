// Package llm is a text-completion client over an OpenAI-compatible API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "steamwatch/pkg/logx"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 120
	defaultTimeout   = 30 * time.Second
)

var ErrEmptyCompletion = errors.New("llm: empty completion")

type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	log       logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		oc.BaseURL = strings.TrimRight(u, "/")
	}
	c := &Client{
		client:    openai.NewClientWithConfig(oc),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		log:       log,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Complete sends prompt as a single user message and returns the trimmed reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.9,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	c.log.Debug("completion ok",
		logx.String("model", c.model),
		logx.Int("tokens", resp.Usage.TotalTokens),
		logx.Duration("took", time.Since(start)),
	)
	return out, nil
}
