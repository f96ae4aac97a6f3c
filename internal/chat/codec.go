package chat

import (
	"encoding/json"
	"fmt"
)

// Encode serializes the full snapshot of sessions.
func Encode(sessions []Session) ([]byte, error) {
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("encode sessions: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot produced by Encode. Content that parses but does not
// match the data model (missing ids, unknown roles) is rejected as a whole.
func Decode(data []byte) ([]Session, error) {
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	seen := make(map[string]bool, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		if s.ID == "" {
			return nil, fmt.Errorf("decode sessions: session %d has no id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("decode sessions: duplicate session id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Messages == nil {
			s.Messages = []Message{}
		}
		for j, m := range s.Messages {
			if m.ID == "" {
				return nil, fmt.Errorf("decode sessions: session %q message %d has no id", s.ID, j)
			}
			if m.Role != RoleUser && m.Role != RoleModel {
				return nil, fmt.Errorf("decode sessions: session %q message %q has unknown role %q", s.ID, m.ID, m.Role)
			}
		}
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}
