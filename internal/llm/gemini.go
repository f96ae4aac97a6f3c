package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient uses the Gemini Developer API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGemini(ctx context.Context, apiKey, model string, temperature float32) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model, temperature: temperature}, nil
}

func (g *GeminiClient) prepare(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	temp := g.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, cfg
}

func (g *GeminiClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	contents, cfg := g.prepare(messages)
	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate content: %w", err)
	}
	out := Response{Content: res.Text(), Model: g.model}
	usage(res, &out)
	return out, nil
}

func (g *GeminiClient) Stream(ctx context.Context, messages []Message, onChunk ChunkFunc) (Response, error) {
	contents, cfg := g.prepare(messages)
	out := Response{Model: g.model}
	var acc strings.Builder
	for res, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			out.Content = acc.String()
			return out, fmt.Errorf("gemini stream: %w", err)
		}
		usage(res, &out)
		text := res.Text()
		if text == "" {
			continue
		}
		acc.WriteString(text)
		if onChunk != nil {
			onChunk(acc.String())
		}
	}
	out.Content = acc.String()
	return out, nil
}

func usage(res *genai.GenerateContentResponse, out *Response) {
	if res == nil || res.UsageMetadata == nil {
		return
	}
	out.PromptTokens = int(res.UsageMetadata.PromptTokenCount)
	out.CompletionTokens = int(res.UsageMetadata.CandidatesTokenCount)
	out.TotalTokens = int(res.UsageMetadata.TotalTokenCount)
}
