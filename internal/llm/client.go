package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client performs a single non-streaming completion.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// ChunkFunc receives the full text generated so far, never a delta.
type ChunkFunc func(cumulative string)

// StreamClient streams a completion. onChunk is called once per received chunk
// that adds text; the returned Response carries the final text.
type StreamClient interface {
	Client
	Stream(ctx context.Context, messages []Message, onChunk ChunkFunc) (Response, error)
}

// splitSystem separates leading system messages from the conversation.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	i := 0
	for ; i < len(messages) && messages[i].Role == RoleSystem; i++ {
		if system != "" {
			system += "\n\n"
		}
		system += messages[i].Content
	}
	return system, messages[i:]
}
