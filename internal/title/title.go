package title

import (
	"context"
	"fmt"
	"log"
	"strings"

	"onyx-chat/internal/llm"
)

// Fallback is used whenever the provider fails or answers with nothing usable.
const Fallback = "New Chat"

const promptTemplate = `Generate a very short (max 4 words) title for a conversation that starts with: "%s". Return ONLY the title text.`

type Generator struct {
	client llm.Client
}

func New(client llm.Client) *Generator {
	return &Generator{client: client}
}

func Prompt(seed string) string {
	return fmt.Sprintf(promptTemplate, seed)
}

// Generate never fails; title generation is best effort.
func (g *Generator) Generate(ctx context.Context, seed string) string {
	if g == nil || g.client == nil {
		return Fallback
	}
	resp, err := g.client.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: Prompt(seed)}})
	if err != nil {
		log.Printf("title generation failed: %v", err)
		return Fallback
	}
	t := clean(resp.Content)
	if t == "" {
		return Fallback
	}
	return t
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, "\"'`*#")
	return strings.TrimSpace(s)
}
