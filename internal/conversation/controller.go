// Package conversation drives a chat session through one request/response turn:
// optimistic user append, placeholder assistant message, streamed patches into
// that placeholder and a one-off title request for new sessions.
package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"onyx-chat/internal/chat"
	"onyx-chat/internal/session"
	"onyx-chat/internal/storage"
)

// ErrorNotice replaces the assistant text when a stream fails.
const ErrorNotice = "Connection interrupted. Please verify credentials."

// ErrBusy is returned when a session already has a response in flight.
var ErrBusy = errors.New("a response is already streaming for this session")

// Streamer is the streaming client contract. onChunk receives cumulative text.
type Streamer interface {
	StreamResponse(ctx context.Context, prior []chat.Message, newText string, onChunk func(string)) (string, error)
}

// Titler produces a short session label and never fails.
type Titler interface {
	Generate(ctx context.Context, seed string) string
}

type Controller struct {
	store    *session.Store
	streamer Streamer
	titler   Titler
	recorder storage.Recorder
	owner    string
	now      func() time.Time

	mu     sync.Mutex
	active string
	// inflight maps a session id to the generation of the stream that owns it.
	inflight map[string]uint64
	nextGen  uint64

	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Controller)

// WithRecorder appends every finished exchange to rec, tagged with owner.
func WithRecorder(rec storage.Recorder, owner string) Option {
	return func(c *Controller) {
		c.recorder = rec
		c.owner = owner
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(store *session.Store, streamer Streamer, titler Titler, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:    store,
		streamer: streamer,
		titler:   titler,
		now:      time.Now,
		inflight: make(map[string]uint64),
		bgCtx:    ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads the persisted sessions. Without a usable snapshot a first
// session is created; otherwise the most recent session becomes active.
func (c *Controller) Start() error {
	sessions := c.store.Load()
	if !c.store.LoadedFromDisk() {
		s, err := c.store.Create()
		c.setActive(s.ID)
		return err
	}
	if len(sessions) > 0 {
		c.setActive(sessions[0].ID)
	} else {
		c.setActive("")
	}
	return nil
}

func (c *Controller) Store() *session.Store { return c.store }

func (c *Controller) Sessions() []chat.Session { return c.store.Sessions() }

func (c *Controller) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Active() (chat.Session, bool) {
	id := c.ActiveID()
	if id == "" {
		return chat.Session{}, false
	}
	return c.store.Get(id)
}

func (c *Controller) setActive(id string) {
	c.mu.Lock()
	c.active = id
	c.mu.Unlock()
}

// NewSession creates a session at the front and selects it.
func (c *Controller) NewSession() (chat.Session, error) {
	s, err := c.store.Create()
	c.setActive(s.ID)
	if err != nil {
		log.Printf("⚠️ failed to persist new session %s: %v", s.ID, err)
	}
	return s, err
}

// SelectSession makes id active when it exists.
func (c *Controller) SelectSession(id string) bool {
	if _, ok := c.store.Get(id); !ok {
		return false
	}
	c.setActive(id)
	return true
}

// DeleteSession removes id. A stream still running for it loses ownership, so
// its late chunks are dropped. When id was active, selection falls back to the
// first remaining session or to none.
func (c *Controller) DeleteSession(id string) error {
	fallback := ""
	for _, s := range c.store.Sessions() {
		if s.ID != id {
			fallback = s.ID
			break
		}
	}
	c.mu.Lock()
	delete(c.inflight, id)
	if c.active == id {
		c.active = fallback
	}
	c.mu.Unlock()

	if err := c.store.Delete(id); err != nil {
		log.Printf("⚠️ failed to persist deletion of %s: %v", id, err)
		return err
	}
	return nil
}

// Busy reports whether id has a response in flight.
func (c *Controller) Busy(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

// SendMessage sends text to the active session. Without an active session it
// does nothing.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	id := c.ActiveID()
	if id == "" {
		return nil
	}
	return c.SendMessageTo(ctx, id, text)
}

// SendMessageTo runs one full turn and returns once the stream has finished.
// Stream failures are recorded on the assistant message, not returned.
func (c *Controller) SendMessageTo(ctx context.Context, sessionID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sess, ok := c.store.Get(sessionID)
	if !ok {
		log.Printf("send to unknown session %s ignored", sessionID)
		return nil
	}
	gen, ok := c.acquire(sessionID)
	if !ok {
		return ErrBusy
	}
	defer c.release(sessionID, gen)

	// sess.Messages is a copy taken before the appends below.
	prior := sess.Messages
	first := len(prior) == 0

	now := c.now()
	userMsg := chat.NewMessage(chat.RoleUser, text, now)
	if !c.update(sessionID, func(s *chat.Session) {
		s.Messages = append(s.Messages, userMsg)
		s.UpdatedAt = chat.Millis(now)
	}) {
		return nil
	}
	placeholder := chat.NewMessage(chat.RoleModel, "", c.now())
	if !c.update(sessionID, func(s *chat.Session) {
		s.Messages = append(s.Messages, placeholder)
	}) {
		return nil
	}

	if first {
		c.requestTitle(sessionID, text)
	}

	final, err := c.streamer.StreamResponse(ctx, prior, text, func(cumulative string) {
		c.patch(sessionID, gen, placeholder.ID, cumulative, false)
	})
	isError := err != nil
	if isError {
		log.Printf("❌ stream failed for session %s: %v", sessionID, err)
		final = ErrorNotice
	}
	c.patch(sessionID, gen, placeholder.ID, final, isError)
	c.record(sessionID, text, final, isError, first)
	return nil
}

// Wait blocks until background title requests have finished.
func (c *Controller) Wait() { c.wg.Wait() }

// Close cancels background title requests and waits for them.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) acquire(id string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return 0, false
	}
	c.nextGen++
	c.inflight[id] = c.nextGen
	return c.nextGen, true
}

func (c *Controller) release(id string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[id] == gen {
		delete(c.inflight, id)
	}
}

func (c *Controller) owns(id string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.inflight[id]
	return ok && g == gen
}

// patch replaces the placeholder text wholesale while gen still owns the session.
func (c *Controller) patch(sessionID string, gen uint64, messageID, text string, isError bool) {
	if !c.owns(sessionID, gen) {
		return
	}
	c.update(sessionID, func(s *chat.Session) {
		i := s.MessageIndex(messageID)
		if i < 0 {
			return
		}
		s.Messages[i].Text = text
		s.Messages[i].IsError = isError
	})
}

func (c *Controller) update(sessionID string, fn func(*chat.Session)) bool {
	ok, err := c.store.Update(sessionID, fn)
	if err != nil {
		log.Printf("⚠️ failed to persist session %s: %v", sessionID, err)
	}
	return ok
}

func (c *Controller) requestTitle(sessionID, seed string) {
	if c.titler == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := c.titler.Generate(c.bgCtx, seed)
		c.update(sessionID, func(s *chat.Session) { s.Title = t })
	}()
}

func (c *Controller) record(sessionID, userText, reply string, isError, first bool) {
	if c.recorder == nil {
		return
	}
	err := c.recorder.AppendInteraction(storage.Event{
		Timestamp:         c.now().UTC(),
		SessionID:         sessionID,
		Owner:             c.owner,
		UserMessage:       userText,
		AssistantResponse: reply,
		IsError:           isError,
		FirstExchange:     first,
	})
	if err != nil {
		log.Printf("failed to record interaction: %v", err)
	}
}
