package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"onyx-chat/internal/auth"
	"onyx-chat/internal/chat"
	"onyx-chat/internal/conversation"
	"onyx-chat/internal/session"
	"onyx-chat/internal/storage"
)

type fakeSender struct {
	mu        sync.Mutex
	nextID    int
	messages  []tgbotapi.MessageConfig
	edits     []string
	callbacks []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		f.nextID++
		f.messages = append(f.messages, v)
		return tgbotapi.Message{MessageID: f.nextID}, nil
	case tgbotapi.EditMessageTextConfig:
		f.edits = append(f.edits, v.Text)
		return tgbotapi.Message{MessageID: v.MessageID}, nil
	}
	return tgbotapi.Message{}, errors.New("unexpected chattable")
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.callbacks = append(f.callbacks, cb.Text)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeSender) lastText() string {
	t := f.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type fakeStreamer struct {
	chunks []string
	err    error
}

func (f fakeStreamer) StreamResponse(ctx context.Context, prior []chat.Message, text string, onChunk func(string)) (string, error) {
	last := ""
	for _, c := range f.chunks {
		onChunk(c)
		last = c
	}
	return last, f.err
}

const adminID = 999

type fixture struct {
	bot *Bot
	fs  *fakeSender
	kv  storage.KV
}

func newFixture(t *testing.T, st conversation.Streamer, allowed ...int64) fixture {
	t.Helper()
	kv, err := storage.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	authSvc, err := auth.NewWithRepo(auth.NewKVRepository(kv, ""), append(allowed, adminID))
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	fs := &fakeSender{}
	factory := func(store *session.Store, owner string) *conversation.Controller {
		return conversation.New(store, st, nil)
	}
	b := newBot(fs, authSvc, factory, Options{
		KV:           kv,
		StoreKey:     "sessions",
		AdminUserID:  adminID,
		EditInterval: time.Hour,
	})
	t.Cleanup(b.Close)
	return fixture{bot: b, fs: fs, kv: kv}
}

func textMsg(userID int64, text string) *tgbotapi.Message {
	m := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "user"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		n := strings.IndexByte(text, ' ')
		if n < 0 {
			n = len(text)
		}
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
	}
	return m
}

func TestUnauthorizedFlow_SendsPendingAndAdminNotify(t *testing.T) {
	f := newFixture(t, fakeStreamer{})
	f.bot.handleIncomingMessage(context.Background(), textMsg(123, "hello"))
	f.bot.handleIncomingMessage(context.Background(), textMsg(123, "hello again"))

	var toUser, toAdmin int
	for _, m := range f.fs.messages {
		switch m.ChatID {
		case 123:
			toUser++
		case adminID:
			toAdmin++
			if !strings.Contains(m.Text, "/allow 123") {
				t.Errorf("admin notice should carry the approve command, got %q", m.Text)
			}
		}
	}
	if toUser != 2 || toAdmin != 1 {
		t.Fatalf("want 2 replies to user and 1 admin notice, got %d and %d", toUser, toAdmin)
	}
	if len(f.bot.controllers) != 0 {
		t.Fatalf("unauthorized users must not get a controller")
	}
}

func TestAdminAllow_GrantsPendingUser(t *testing.T) {
	f := newFixture(t, fakeStreamer{})
	f.bot.handleIncomingMessage(context.Background(), textMsg(123, "hello"))
	f.bot.handleIncomingMessage(context.Background(), textMsg(adminID, "/allow 123"))

	if !f.bot.authSvc.IsAllowed(123) {
		t.Fatalf("user should be allowed after /allow")
	}
	users, err := auth.NewKVRepository(f.kv, "").LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	found := false
	for _, u := range users {
		if u.ID == 123 && u.Username == "user" {
			found = true
		}
	}
	if !found {
		t.Fatalf("approved user with profile should be persisted, got %+v", users)
	}

	f.bot.handleIncomingMessage(context.Background(), textMsg(adminID, "/revoke 123"))
	if f.bot.authSvc.IsAllowed(123) {
		t.Fatalf("user should be revoked")
	}
}

func TestAdminCommands_IgnoredForRegularUsers(t *testing.T) {
	f := newFixture(t, fakeStreamer{}, 1)
	f.bot.handleIncomingMessage(context.Background(), textMsg(1, "/allow 5"))
	if f.bot.authSvc.IsAllowed(5) {
		t.Fatalf("non-admin must not change the allowlist")
	}
}

func TestHandleText_StreamsIntoOneMessage(t *testing.T) {
	f := newFixture(t, fakeStreamer{chunks: []string{"He", "Hello", "Hello!"}}, 1)
	f.bot.handleIncomingMessage(context.Background(), textMsg(1, "hi"))

	if got := f.fs.texts(); len(got) != 1 || got[0] != placeholderText {
		t.Fatalf("want a single placeholder message, got %q", got)
	}
	// the first chunk passes the limiter, the rest are throttled until the final edit
	want := []string{"He", "Hello!"}
	if strings.Join(f.fs.edits, "|") != strings.Join(want, "|") {
		t.Fatalf("edits = %q, want %q", f.fs.edits, want)
	}

	ctrl := f.bot.controllers[1]
	s, _ := ctrl.Active()
	if len(s.Messages) != 2 || s.Messages[1].Text != "Hello!" {
		t.Fatalf("unexpected session state: %+v", s.Messages)
	}
}

func TestHandleText_ErrorShowsNotice(t *testing.T) {
	f := newFixture(t, fakeStreamer{chunks: []string{"Part"}, err: errors.New("boom")}, 1)
	f.bot.handleIncomingMessage(context.Background(), textMsg(1, "hi"))

	if len(f.fs.edits) != 2 {
		t.Fatalf("want 2 edits, got %q", f.fs.edits)
	}
	if f.fs.edits[1] != "⚠️ "+conversation.ErrorNotice {
		t.Fatalf("final edit = %q", f.fs.edits[1])
	}
}

func TestHandleText_UsersAreIsolated(t *testing.T) {
	f := newFixture(t, fakeStreamer{chunks: []string{"ok"}}, 1, 2)
	f.bot.handleIncomingMessage(context.Background(), textMsg(1, "from one"))
	f.bot.handleIncomingMessage(context.Background(), textMsg(2, "from two"))

	for _, id := range []int64{1, 2} {
		store := session.NewStore(f.kv, StoreKey("sessions", id))
		sessions := store.Load()
		if len(sessions) != 1 || len(sessions[0].Messages) != 2 {
			t.Fatalf("user %d: unexpected snapshot %+v", id, sessions)
		}
	}
	if StoreKey("sessions", 2) != "sessions:2" {
		t.Fatalf("unexpected store key %q", StoreKey("sessions", 2))
	}
}

func TestSessionCommands(t *testing.T) {
	f := newFixture(t, fakeStreamer{chunks: []string{"ok"}}, 1)
	ctx := context.Background()

	f.bot.handleIncomingMessage(ctx, textMsg(1, "/start"))
	ctrl := f.bot.controllers[1]
	first := ctrl.ActiveID()
	if first == "" {
		t.Fatalf("/start should open a first session")
	}

	f.bot.handleIncomingMessage(ctx, textMsg(1, "/new"))
	if ctrl.ActiveID() == first || len(ctrl.Sessions()) != 2 {
		t.Fatalf("/new should create and select a session")
	}

	f.bot.handleIncomingMessage(ctx, textMsg(1, "/sessions"))
	list := f.fs.messages[len(f.fs.messages)-1]
	kb, ok := list.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("want a 2-row keyboard, got %#v", list.ReplyMarkup)
	}

	f.bot.handleIncomingMessage(ctx, textMsg(1, "/select 2"))
	if ctrl.ActiveID() != first {
		t.Fatalf("/select 2 should pick the older session")
	}

	f.bot.handleIncomingMessage(ctx, textMsg(1, "/select 9"))
	if !strings.HasPrefix(f.fs.lastText(), "Usage") {
		t.Fatalf("out-of-range select should print usage, got %q", f.fs.lastText())
	}

	f.bot.handleIncomingMessage(ctx, textMsg(1, "/delete"))
	if len(ctrl.Sessions()) != 1 || ctrl.ActiveID() == first {
		t.Fatalf("/delete should remove the active session and fall back")
	}
}

func TestCallback_SelectAndDelete(t *testing.T) {
	f := newFixture(t, fakeStreamer{}, 1)
	ctrl, err := f.bot.controllerFor(1)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	first := ctrl.ActiveID()
	if _, err := ctrl.NewSession(); err != nil {
		t.Fatalf("new: %v", err)
	}

	msg := textMsg(1, "")
	f.bot.handleCallback(&tgbotapi.CallbackQuery{ID: "c1", From: msg.From, Message: msg, Data: selectPrefix + first})
	if ctrl.ActiveID() != first {
		t.Fatalf("select callback did not switch session")
	}
	f.bot.handleCallback(&tgbotapi.CallbackQuery{ID: "c2", From: msg.From, Message: msg, Data: deletePrefix + first})
	if _, ok := ctrl.Store().Get(first); ok {
		t.Fatalf("delete callback did not remove session")
	}
	f.bot.handleCallback(&tgbotapi.CallbackQuery{ID: "c3", From: msg.From, Message: msg, Data: selectPrefix + first})

	want := []string{"Switched", "Deleted", "Session no longer exists"}
	if strings.Join(f.fs.callbacks, "|") != strings.Join(want, "|") {
		t.Fatalf("callbacks = %q, want %q", f.fs.callbacks, want)
	}
}

func TestCallback_Unauthorized(t *testing.T) {
	f := newFixture(t, fakeStreamer{})
	f.bot.handleCallback(&tgbotapi.CallbackQuery{ID: "c", From: &tgbotapi.User{ID: 5}, Data: selectPrefix + "x"})
	if len(f.fs.callbacks) != 1 || f.fs.callbacks[0] != "Access denied" {
		t.Fatalf("unexpected callbacks %q", f.fs.callbacks)
	}
}

func TestBackupAll(t *testing.T) {
	f := newFixture(t, fakeStreamer{chunks: []string{"ok"}}, 1, 2)
	f.bot.handleIncomingMessage(context.Background(), textMsg(1, "hello"))

	if err := f.bot.BackupAll("2024-01-15"); err != nil {
		t.Fatalf("backup: %v", err)
	}
	data, err := f.kv.Get(StoreKey("sessions", 1) + ".2024-01-15")
	if err != nil {
		t.Fatalf("backup for user 1 missing: %v", err)
	}
	sessions, err := chat.Decode(data)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("backup content: %v %+v", err, sessions)
	}
	if _, err := f.kv.Get(StoreKey("sessions", 2) + ".2024-01-15"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("users without sessions should be skipped, got %v", err)
	}
}

func TestReplyTracker_SkipsDuplicatesAndClips(t *testing.T) {
	fs := &fakeSender{}
	tr := newReplyTracker(fs, 1, 10, time.Nanosecond, "")
	tr.update("")
	tr.update("a")
	tr.finish("a")
	long := strings.Repeat("x", maxMessageRunes+10)
	tr.finish(long)

	if len(fs.edits) != 2 || fs.edits[0] != "a" {
		t.Fatalf("unexpected edits %q", fs.edits)
	}
	if n := len([]rune(fs.edits[1])); n != maxMessageRunes {
		t.Fatalf("clipped edit has %d runes", n)
	}
}
