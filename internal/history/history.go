package history

import (
	"onyx-chat/internal/chat"
	"onyx-chat/internal/llm"
)

// DefaultMaxMessages keeps roughly the last ten exchanges.
const DefaultMaxMessages = 20

// Window drops errored messages and keeps the most recent max of the rest.
// The result never aliases msgs.
func Window(msgs []chat.Message, max int) []chat.Message {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	valid := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsError {
			continue
		}
		valid = append(valid, m)
	}
	if len(valid) > max {
		valid = valid[len(valid)-max:]
	}
	return valid
}

// ToLLM converts session messages into provider messages.
func ToLLM(msgs []chat.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == chat.RoleModel {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	return out
}
