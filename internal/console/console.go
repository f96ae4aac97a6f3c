// Package console is a line-oriented front-end for the conversation controller.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"onyx-chat/internal/chat"
	"onyx-chat/internal/conversation"
	"onyx-chat/internal/session"
)

// ErrQuit is returned by Handle for the quit command.
var ErrQuit = errors.New("quit")

// LineReader is satisfied by *liner.State.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type Console struct {
	ctrl *conversation.Controller
	out  io.Writer

	mu      sync.Mutex
	printed map[string]int // message id -> bytes already written
}

func New(ctrl *conversation.Controller, out io.Writer) *Console {
	c := &Console{ctrl: ctrl, out: out, printed: make(map[string]int)}
	ctrl.Store().Subscribe(c.onChange)
	return c
}

// Run reads lines until EOF or /quit.
func (c *Console) Run(ctx context.Context, in LineReader) error {
	c.printHeader()
	for {
		line, err := in.Prompt("> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		in.AppendHistory(line)
		if err := c.Handle(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintf(c.out, "! %v\n", err)
		}
	}
}

// Handle executes a command or sends the line to the active session.
func (c *Console) Handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return ErrQuit
	case "/help":
		fmt.Fprintln(c.out, "commands: /new, /list, /select N, /delete [N], /quit")
		return nil
	case "/new":
		s, err := c.ctrl.NewSession()
		fmt.Fprintf(c.out, "* new session %s\n", short(s.ID))
		return err
	case "/list":
		c.printSessions()
		return nil
	case "/select":
		s, err := c.pick(fields)
		if err != nil {
			return err
		}
		c.ctrl.SelectSession(s.ID)
		c.printTranscript(s)
		return nil
	case "/delete":
		var s chat.Session
		if len(fields) == 1 {
			active, ok := c.ctrl.Active()
			if !ok {
				return errors.New("no active session")
			}
			s = active
		} else {
			picked, err := c.pick(fields)
			if err != nil {
				return err
			}
			s = picked
		}
		if err := c.ctrl.DeleteSession(s.ID); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "* deleted %q\n", s.Title)
		return nil
	}
	if strings.HasPrefix(fields[0], "/") {
		return fmt.Errorf("unknown command %s", fields[0])
	}
	if c.ctrl.ActiveID() == "" {
		return errors.New("no active session, use /new")
	}
	err := c.ctrl.SendMessage(ctx, line)
	fmt.Fprintln(c.out)
	return err
}

func (c *Console) pick(fields []string) (chat.Session, error) {
	if len(fields) < 2 {
		return chat.Session{}, fmt.Errorf("usage: %s N", fields[0])
	}
	n, err := strconv.Atoi(fields[1])
	sessions := c.ctrl.Sessions()
	if err != nil || n < 1 || n > len(sessions) {
		return chat.Session{}, fmt.Errorf("no session %q", fields[1])
	}
	return sessions[n-1], nil
}

// onChange prints the part of the active session's last assistant message that
// has not been written yet.
func (c *Console) onChange(ch session.Change) {
	if ch.Kind != session.ChangeUpdated || ch.SessionID != c.ctrl.ActiveID() {
		return
	}
	s, ok := c.ctrl.Store().Get(ch.SessionID)
	if !ok {
		return
	}
	last, ok := s.LastMessage()
	if !ok || last.Role != chat.RoleModel {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	done := c.printed[last.ID]
	switch {
	case last.IsError:
		if done >= 0 {
			fmt.Fprintf(c.out, "\n! %s", last.Text)
			c.printed[last.ID] = -1
		}
	case done >= 0 && len(last.Text) > done:
		io.WriteString(c.out, last.Text[done:])
		c.printed[last.ID] = len(last.Text)
	}
}

func (c *Console) printHeader() {
	if s, ok := c.ctrl.Active(); ok {
		fmt.Fprintf(c.out, "%s (%d sessions) - /help for commands\n", s.Title, len(c.ctrl.Sessions()))
		return
	}
	fmt.Fprintln(c.out, "no active session - /new to start")
}

func (c *Console) printSessions() {
	active := c.ctrl.ActiveID()
	for i, s := range c.ctrl.Sessions() {
		mark := " "
		if s.ID == active {
			mark = "*"
		}
		fmt.Fprintf(c.out, "%s %d. %s (%d messages)\n", mark, i+1, s.Title, len(s.Messages))
	}
}

func (c *Console) printTranscript(s chat.Session) {
	fmt.Fprintf(c.out, "== %s ==\n", s.Title)
	for _, m := range s.Messages {
		who := "you"
		if m.Role == chat.RoleModel {
			who = "ai"
		}
		if m.IsError {
			who = "error"
		}
		fmt.Fprintf(c.out, "[%s] %s\n", who, m.Text)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
