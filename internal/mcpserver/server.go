package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"onyx-chat/internal/chat"
	"onyx-chat/internal/conversation"
)

type ListSessionsParams struct{}

type NewSessionParams struct{}

type SelectSessionParams struct {
	SessionID string `json:"session_id" mcp:"id of the session to make active (see list_sessions)"`
}

type DeleteSessionParams struct {
	SessionID string `json:"session_id,omitempty" mcp:"id of the session to delete; defaults to the active session"`
}

type SendMessageParams struct {
	Text      string `json:"text" mcp:"the user message to send"`
	SessionID string `json:"session_id,omitempty" mcp:"target session id; defaults to the active session"`
}

type GetSessionParams struct {
	SessionID string `json:"session_id,omitempty" mcp:"id of the session to read; defaults to the active session"`
}

// Server exposes a conversation controller as MCP tools.
type Server struct {
	ctrl *conversation.Controller
}

func New(ctrl *conversation.Controller) *Server {
	return &Server{ctrl: ctrl}
}

// Register adds every session tool to srv.
func (s *Server) Register(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_sessions",
		Description: "Lists chat sessions, most recent first, marking the active one",
	}, s.ListSessions)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "new_session",
		Description: "Creates a new empty chat session and makes it active",
	}, s.NewSession)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "select_session",
		Description: "Makes the given session active",
	}, s.SelectSession)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_session",
		Description: "Deletes a session; the first remaining session becomes active",
	}, s.DeleteSession)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "send_message",
		Description: "Sends a message to the assistant and returns its complete reply",
	}, s.SendMessage)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_session",
		Description: "Returns the transcript of a session",
	}, s.GetSession)
	log.Printf("📋 Registered %d tools: list_sessions, new_session, select_session, delete_session, send_message, get_session", 6)
}

func (s *Server) ListSessions(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[ListSessionsParams]) (*mcp.CallToolResultFor[any], error) {
	sessions := s.ctrl.Sessions()
	if len(sessions) == 0 {
		return textResult("No sessions.", nil), nil
	}
	active := s.ctrl.ActiveID()
	var b strings.Builder
	ids := make([]string, 0, len(sessions))
	for i, sess := range sessions {
		marker := " "
		if sess.ID == active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %d. %s [%s] (%d messages)\n", marker, i+1, sess.Title, sess.ID, len(sess.Messages))
		ids = append(ids, sess.ID)
	}
	return textResult(b.String(), map[string]interface{}{
		"session_ids": ids,
		"active_id":   active,
	}), nil
}

func (s *Server) NewSession(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[NewSessionParams]) (*mcp.CallToolResultFor[any], error) {
	sess, err := s.ctrl.NewSession()
	if err != nil {
		// the session exists in memory even when the snapshot write failed
		log.Printf("⚠️ MCP Server: failed to persist new session: %v", err)
	}
	return textResult(fmt.Sprintf("✅ Created session %q", sess.Title), map[string]interface{}{
		"session_id": sess.ID,
	}), nil
}

func (s *Server) SelectSession(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SelectSessionParams]) (*mcp.CallToolResultFor[any], error) {
	id := params.Arguments.SessionID
	if !s.ctrl.SelectSession(id) {
		return errorResult(fmt.Sprintf("❌ Session %q not found", id)), nil
	}
	sess, _ := s.ctrl.Active()
	return textResult(fmt.Sprintf("✅ Switched to %q", sess.Title), map[string]interface{}{
		"session_id": id,
	}), nil
}

func (s *Server) DeleteSession(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DeleteSessionParams]) (*mcp.CallToolResultFor[any], error) {
	id := params.Arguments.SessionID
	if id == "" {
		id = s.ctrl.ActiveID()
	}
	if _, ok := s.ctrl.Store().Get(id); !ok {
		return errorResult(fmt.Sprintf("❌ Session %q not found", id)), nil
	}
	if err := s.ctrl.DeleteSession(id); err != nil {
		log.Printf("⚠️ MCP Server: failed to persist deletion: %v", err)
	}
	return textResult(fmt.Sprintf("🗑 Deleted session %s", id), map[string]interface{}{
		"session_id": id,
		"active_id":  s.ctrl.ActiveID(),
	}), nil
}

func (s *Server) SendMessage(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SendMessageParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if strings.TrimSpace(args.Text) == "" {
		return errorResult("❌ text is required"), nil
	}
	id := args.SessionID
	if id == "" {
		id = s.ctrl.ActiveID()
	}
	if id == "" {
		sess, err := s.ctrl.NewSession()
		if err != nil {
			log.Printf("⚠️ MCP Server: failed to persist new session: %v", err)
		}
		id = sess.ID
	}
	if _, ok := s.ctrl.Store().Get(id); !ok {
		return errorResult(fmt.Sprintf("❌ Session %q not found", id)), nil
	}

	log.Printf("💬 MCP Server: sending message to session %s", id)
	err := s.ctrl.SendMessageTo(ctx, id, args.Text)
	if errors.Is(err, conversation.ErrBusy) {
		return errorResult("⏳ A reply is still streaming for this session"), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to send message: %v", err)), nil
	}

	sess, ok := s.ctrl.Store().Get(id)
	if !ok {
		return errorResult("❌ Session was deleted before the reply finished"), nil
	}
	last, _ := sess.LastMessage()
	meta := map[string]interface{}{
		"session_id": id,
		"message_id": last.ID,
		"title":      sess.Title,
	}
	if last.IsError {
		res := errorResult(last.Text)
		res.Meta = meta
		return res, nil
	}
	return textResult(last.Text, meta), nil
}

func (s *Server) GetSession(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[GetSessionParams]) (*mcp.CallToolResultFor[any], error) {
	id := params.Arguments.SessionID
	if id == "" {
		id = s.ctrl.ActiveID()
	}
	sess, ok := s.ctrl.Store().Get(id)
	if !ok {
		return errorResult(fmt.Sprintf("❌ Session %q not found", id)), nil
	}
	return textResult(Transcript(sess), map[string]interface{}{
		"session_id": sess.ID,
		"title":      sess.Title,
		"messages":   len(sess.Messages),
		"busy":       s.ctrl.Busy(sess.ID),
	}), nil
}

// Transcript renders a session as plain text, one message per paragraph.
func Transcript(sess chat.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", sess.Title)
	for _, m := range sess.Messages {
		who := "You"
		if m.Role == chat.RoleModel {
			who = "Assistant"
		}
		text := m.Text
		switch {
		case m.IsError:
			text = "[error] " + text
		case m.IsPlaceholder():
			text = "…"
		}
		fmt.Fprintf(&b, "\n%s: %s\n", who, text)
	}
	return b.String()
}

func textResult(text string, meta map[string]interface{}) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		Meta:    meta,
	}
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
