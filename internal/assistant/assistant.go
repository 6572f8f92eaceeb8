// Package assistant talks to the chat model that produces map directives.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/maptalk/maptalk/internal/observability"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("assistant: no api key configured")

// FallbackReply is shown to the user when the upstream call fails. The
// concrete error stays in the logs.
const FallbackReply = "Something went wrong processing your request. Please try again."

const systemPrompt = `You are a map assistant. You answer in plain prose and, when the user
asks to change the map, you embed bracketed directives inline with the text.

Directive grammar:
  [zoom_to <lat> <lon> <zoom?>]
  [add_feature <geojson-feature> <layer?>]
  [modify_feature <feature-id> <json-properties>]
  [remove_feature <feature-id> <layer?>]
  [style_feature <feature-id> <json-style>]
  [measure distance|area <geojson-feature>...]
  [buffer <geojson-feature> <distance> kilometers|miles|meters]

GeoJSON coordinates are [lon, lat]; zoom_to arguments are lat then lon.
Emit at most a handful of directives per reply and keep the surrounding
prose readable. Never wrap directives in code fences.`

type Client struct {
	api    *openai.Client
	model  string
	logger *slog.Logger
}

func New(apiKey, baseURL, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKey == "" {
		return &Client{model: model, logger: logger}
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, logger: logger}
}

// Configured reports whether an upstream model is available.
func (c *Client) Configured() bool { return c.api != nil }

// Respond sends the user message with the directive-grammar system prompt
// and returns the assistant text. Callers should substitute FallbackReply
// on error.
func (c *Client) Respond(ctx context.Context, message string) (string, error) {
	if c.api == nil {
		return "", ErrNotConfigured
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	observability.ObserveUpstreamLatency("openai", time.Since(start).Seconds())
	if err != nil {
		c.logger.Error("chat completion failed", "err", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("chat completion returned no choices")
		return "", errors.New("assistant: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
