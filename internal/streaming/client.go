// Package streaming sends a conversation turn upstream and relays the growing
// answer as cumulative text.
package streaming

import (
	"context"
	"fmt"

	"onyx-chat/internal/chat"
	"onyx-chat/internal/history"
	"onyx-chat/internal/llm"
)

type Client struct {
	llm          llm.StreamClient
	systemPrompt string
	maxContext   int
}

func New(client llm.StreamClient, systemPrompt string, maxContext int) *Client {
	if maxContext <= 0 {
		maxContext = history.DefaultMaxMessages
	}
	return &Client{llm: client, systemPrompt: systemPrompt, maxContext: maxContext}
}

// Context builds the provider messages for one turn: system instruction, the
// windowed history and the new user text.
func (c *Client) Context(prior []chat.Message, newText string) []llm.Message {
	window := history.Window(prior, c.maxContext)
	out := make([]llm.Message, 0, len(window)+2)
	if c.systemPrompt != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: c.systemPrompt})
	}
	out = append(out, history.ToLLM(window)...)
	return append(out, llm.Message{Role: llm.RoleUser, Content: newText})
}

// StreamResponse blocks until the provider stream is exhausted. onChunk gets the
// cumulative text on every chunk; the return value is the last cumulative text
// observed, or "" when nothing arrived.
func (c *Client) StreamResponse(ctx context.Context, prior []chat.Message, newText string, onChunk func(string)) (string, error) {
	var last string
	_, err := c.llm.Stream(ctx, c.Context(prior, newText), func(cumulative string) {
		last = cumulative
		if onChunk != nil {
			onChunk(cumulative)
		}
	})
	if err != nil {
		return last, fmt.Errorf("stream response: %w", err)
	}
	return last, nil
}
