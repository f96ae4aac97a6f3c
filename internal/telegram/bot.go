package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"onyx-chat/internal/auth"
	"onyx-chat/internal/chat"
	"onyx-chat/internal/conversation"
	"onyx-chat/internal/session"
	"onyx-chat/internal/storage"
)

const (
	selectPrefix = "select:"
	deletePrefix = "delete:"

	placeholderText = "…"
	busyText        = "⏳ Still answering your previous message, please wait."

	defaultEditInterval = time.Second
)

// ControllerFactory builds the conversation controller for one user's store.
// owner identifies the user in the interaction log.
type ControllerFactory func(store *session.Store, owner string) *conversation.Controller

type Options struct {
	KV           storage.KV
	StoreKey     string
	AdminUserID  int64
	ParseMode    string
	EditInterval time.Duration
}

type Bot struct {
	api           *tgbotapi.BotAPI
	s             sender
	authSvc       *auth.Service
	newController ControllerFactory
	kv            storage.KV
	storeKey      string
	adminUserID   int64
	parseMode     string
	editInterval  time.Duration

	mu          sync.Mutex
	controllers map[int64]*conversation.Controller
	pending     auth.Repository
	wg          sync.WaitGroup
}

// StoreKey is the per-user key of the session snapshot.
func StoreKey(base string, userID int64) string {
	return fmt.Sprintf("%s:%d", base, userID)
}

func New(botToken string, authSvc *auth.Service, factory ControllerFactory, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	b := newBot(botAPISender{api: api}, authSvc, factory, opts)
	b.api = api
	return b, nil
}

func newBot(s sender, authSvc *auth.Service, factory ControllerFactory, opts Options) *Bot {
	interval := opts.EditInterval
	if interval <= 0 {
		interval = defaultEditInterval
	}
	return &Bot{
		s:             s,
		authSvc:       authSvc,
		newController: factory,
		kv:            opts.KV,
		storeKey:      opts.StoreKey,
		adminUserID:   opts.AdminUserID,
		parseMode:     opts.ParseMode,
		editInterval:  interval,
		controllers:   make(map[int64]*conversation.Controller),
		pending:       auth.NewKVRepository(opts.KV, auth.PendingKey),
	}
}

// Start polls updates until ctx is cancelled. Each update is handled on its own
// goroutine so a long answer does not hold up other users.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	log.Printf("🤖 Authorized on account @%s", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

// Close waits for in-flight updates and releases every controller.
func (b *Bot) Close() {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ctrl := range b.controllers {
		ctrl.Close()
		delete(b.controllers, id)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleIncomingMessage(ctx, update.Message)
		return
	}
	if update.CallbackQuery != nil {
		b.handleCallback(update.CallbackQuery)
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	if !b.authSvc.IsAllowed(userID) {
		b.handleUnauthorized(msg)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	log.Printf("📨 Incoming message from %d (@%s): %d chars", userID, msg.From.UserName, len(msg.Text))
	b.handleText(ctx, msg.Chat.ID, userID, msg.Text)
}

func (b *Bot) handleUnauthorized(msg *tgbotapi.Message) {
	u := msg.From
	log.Printf("🚫 Unauthorized access attempt by user ID: %d, username: @%s", u.ID, u.UserName)

	seen := b.rememberPending(auth.User{ID: u.ID, Username: u.UserName, FirstName: u.FirstName, LastName: u.LastName})

	b.sendMessage(msg.Chat.ID, "Access request sent for review.")
	if !seen {
		b.NotifyAdmin(fmt.Sprintf("🔐 Access request from %d (@%s %s %s).\nApprove with /allow %d",
			u.ID, u.UserName, u.FirstName, u.LastName, u.ID))
	}
}

// rememberPending stores an access request and reports whether it was already known.
func (b *Bot) rememberPending(u auth.User) bool {
	users, err := b.pending.LoadAll()
	if err != nil {
		log.Printf("failed to load pending requests: %v", err)
	}
	seen := false
	for _, p := range users {
		if p.ID == u.ID {
			seen = true
			break
		}
	}
	if err := b.pending.Upsert(u); err != nil {
		log.Printf("failed to store pending request: %v", err)
	}
	return seen
}

// takePending removes the access request of id and returns its profile.
func (b *Bot) takePending(id int64) auth.User {
	out := auth.User{ID: id}
	users, err := b.pending.LoadAll()
	if err != nil {
		log.Printf("failed to load pending requests: %v", err)
	}
	for _, p := range users {
		if p.ID == id {
			out = p
			break
		}
	}
	if err := b.pending.Remove(id); err != nil {
		log.Printf("failed to drop pending request: %v", err)
	}
	return out
}

// handleText runs one exchange and mirrors the growing reply into a single message.
func (b *Bot) handleText(ctx context.Context, chatID, userID int64, text string) {
	ctrl, err := b.controllerFor(userID)
	if err != nil {
		log.Printf("❌ Failed to open sessions for %d: %v", userID, err)
		b.sendMessage(chatID, "⚠️ Could not open your sessions, try again later.")
		return
	}

	sessionID := ctrl.ActiveID()
	if sessionID == "" {
		s, err := ctrl.NewSession()
		if err != nil {
			log.Printf("❌ Failed to create session for %d: %v", userID, err)
		}
		sessionID = s.ID
	}
	if ctrl.Busy(sessionID) {
		b.sendMessage(chatID, busyText)
		return
	}

	placeholder, err := b.s.Send(tgbotapi.NewMessage(chatID, placeholderText))
	if err != nil {
		log.Printf("failed to send placeholder: %v", err)
		return
	}
	tr := newReplyTracker(b.s, chatID, placeholder.MessageID, b.editInterval, b.parseMode)

	store := ctrl.Store()
	unsubscribe := store.Subscribe(func(ch session.Change) {
		if ch.Kind != session.ChangeUpdated || ch.SessionID != sessionID {
			return
		}
		if last, ok := lastReply(store, sessionID); ok && !last.IsError {
			tr.update(last.Text)
		}
	})
	err = ctrl.SendMessageTo(ctx, sessionID, text)
	unsubscribe()

	switch {
	case errors.Is(err, conversation.ErrBusy):
		tr.finish(busyText)
	case err != nil:
		log.Printf("❌ Exchange failed for %d: %v", userID, err)
		tr.finish("⚠️ " + err.Error())
	default:
		tr.finish(finalText(store, sessionID))
	}
}

func finalText(store *session.Store, sessionID string) string {
	last, ok := lastReply(store, sessionID)
	switch {
	case !ok:
		return "🗑 Session was deleted before the reply finished."
	case last.IsError:
		return "⚠️ " + last.Text
	case last.Text == "":
		return "(empty response)"
	default:
		return last.Text
	}
}

func lastReply(store *session.Store, sessionID string) (chat.Message, bool) {
	s, ok := store.Get(sessionID)
	if !ok {
		return chat.Message{}, false
	}
	last, ok := s.LastMessage()
	if !ok || last.Role != chat.RoleModel {
		return chat.Message{}, false
	}
	return last, true
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "allow", "revoke", "users":
		b.handleAdminCommand(msg.Command(), chatID, userID, args)
		return
	}

	ctrl, err := b.controllerFor(userID)
	if err != nil {
		log.Printf("❌ Failed to open sessions for %d: %v", userID, err)
		b.sendMessage(chatID, "⚠️ Could not open your sessions, try again later.")
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.sendMessage(chatID, "Hi! Send me a message to chat.\n\n"+
			"/new - start a new session\n"+
			"/sessions - list your sessions\n"+
			"/select N - switch to session N\n"+
			"/delete [N] - delete the current session or session N")
	case "new":
		s, err := ctrl.NewSession()
		if err != nil {
			log.Printf("failed to persist new session: %v", err)
		}
		b.sendMessage(chatID, fmt.Sprintf("🆕 Started %q", s.Title))
	case "sessions":
		b.sendSessions(chatID, ctrl)
	case "select":
		s, ok := sessionByIndex(ctrl, args)
		if !ok || !ctrl.SelectSession(s.ID) {
			b.sendMessage(chatID, "Usage: /select N (see /sessions)")
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("✅ Switched to %q", s.Title))
	case "delete":
		id, title := ctrl.ActiveID(), ""
		if args != "" {
			s, ok := sessionByIndex(ctrl, args)
			if !ok {
				b.sendMessage(chatID, "Usage: /delete [N] (see /sessions)")
				return
			}
			id = s.ID
		}
		if s, ok := ctrl.Store().Get(id); ok {
			title = s.Title
		}
		if id == "" {
			b.sendMessage(chatID, "No session to delete.")
			return
		}
		if err := ctrl.DeleteSession(id); err != nil {
			log.Printf("failed to persist deletion: %v", err)
		}
		b.sendMessage(chatID, fmt.Sprintf("🗑 Deleted %q", title))
	default:
		b.sendMessage(chatID, "Unknown command, see /help")
	}
}

func (b *Bot) handleAdminCommand(cmd string, chatID, userID int64, args string) {
	if b.adminUserID == 0 || userID != b.adminUserID {
		b.sendMessage(chatID, "Unknown command, see /help")
		return
	}
	switch cmd {
	case "users":
		var sb strings.Builder
		sb.WriteString("Allowed users:\n")
		for _, u := range b.authSvc.List() {
			fmt.Fprintf(&sb, "- %d @%s\n", u.ID, u.Username)
		}
		b.sendMessage(chatID, sb.String())
	case "allow", "revoke":
		id, err := strconv.ParseInt(args, 10, 64)
		if err != nil {
			b.sendMessage(chatID, fmt.Sprintf("Usage: /%s USER_ID", cmd))
			return
		}
		if cmd == "allow" {
			err = b.authSvc.Upsert(b.takePending(id))
		} else {
			err = b.authSvc.Remove(id)
		}
		if err != nil {
			log.Printf("❌ Failed to %s %d: %v", cmd, id, err)
			b.sendMessage(chatID, "⚠️ "+err.Error())
			return
		}
		log.Printf("🔐 Admin %s user %d", cmd, id)
		b.sendMessage(chatID, fmt.Sprintf("✅ %s %d", cmd, id))
		if cmd == "allow" {
			b.sendMessage(id, "✅ Access granted. Send me a message to start.")
		}
	}
}

func (b *Bot) sendSessions(chatID int64, ctrl *conversation.Controller) {
	sessions := ctrl.Sessions()
	if len(sessions) == 0 {
		b.sendMessage(chatID, "No sessions yet. Send a message or use /new.")
		return
	}
	active := ctrl.ActiveID()
	var sb strings.Builder
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(sessions))
	for i, s := range sessions {
		marker := "  "
		if s.ID == active {
			marker = "▶ "
		}
		fmt.Fprintf(&sb, "%s%d. %s (%d messages)\n", marker, i+1, s.Title, len(s.Messages))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d. %s", i+1, s.Title), selectPrefix+s.ID),
			tgbotapi.NewInlineKeyboardButtonData("🗑", deletePrefix+s.ID),
		))
	}
	out := tgbotapi.NewMessage(chatID, sb.String())
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.s.Send(out); err != nil {
		log.Printf("failed to send session list: %v", err)
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || !b.authSvc.IsAllowed(cb.From.ID) {
		b.answerCallback(cb.ID, "Access denied")
		return
	}
	ctrl, err := b.controllerFor(cb.From.ID)
	if err != nil {
		log.Printf("❌ Failed to open sessions for %d: %v", cb.From.ID, err)
		b.answerCallback(cb.ID, "Try again later")
		return
	}

	switch {
	case strings.HasPrefix(cb.Data, selectPrefix):
		if ctrl.SelectSession(strings.TrimPrefix(cb.Data, selectPrefix)) {
			b.answerCallback(cb.ID, "Switched")
		} else {
			b.answerCallback(cb.ID, "Session no longer exists")
		}
	case strings.HasPrefix(cb.Data, deletePrefix):
		if err := ctrl.DeleteSession(strings.TrimPrefix(cb.Data, deletePrefix)); err != nil {
			log.Printf("failed to persist deletion: %v", err)
		}
		b.answerCallback(cb.ID, "Deleted")
	default:
		b.answerCallback(cb.ID, "")
		return
	}
	if cb.Message != nil {
		b.sendSessions(cb.Message.Chat.ID, ctrl)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.s.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("failed to answer callback: %v", err)
	}
}

// controllerFor returns the user's controller, loading their sessions on first use.
func (b *Bot) controllerFor(userID int64) (*conversation.Controller, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctrl, ok := b.controllers[userID]; ok {
		return ctrl, nil
	}
	store := session.NewStore(b.kv, StoreKey(b.storeKey, userID))
	ctrl := b.newController(store, strconv.FormatInt(userID, 10))
	if err := ctrl.Start(); err != nil {
		return nil, err
	}
	b.controllers[userID] = ctrl
	return ctrl, nil
}

// BackupAll writes a snapshot copy under suffix for every allowlisted user that has sessions.
func (b *Bot) BackupAll(suffix string) error {
	var errs []error
	n := 0
	for _, u := range b.authSvc.List() {
		b.mu.Lock()
		ctrl, live := b.controllers[u.ID]
		b.mu.Unlock()

		var store *session.Store
		if live {
			store = ctrl.Store()
		} else {
			store = session.NewStore(b.kv, StoreKey(b.storeKey, u.ID))
			store.Load()
			if !store.LoadedFromDisk() {
				continue
			}
		}
		if err := store.Backup(suffix); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", u.ID, err))
			continue
		}
		n++
	}
	log.Printf("💾 Backed up sessions of %d user(s) as %q", n, suffix)
	return errors.Join(errs...)
}

// NotifyAdmin sends text to the configured admin, if any.
func (b *Bot) NotifyAdmin(text string) {
	if b.adminUserID == 0 {
		return
	}
	b.sendMessage(b.adminUserID, text)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, clip(text))
	if _, err := b.s.Send(msg); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}

func sessionByIndex(ctrl *conversation.Controller, arg string) (chat.Session, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return chat.Session{}, false
	}
	sessions := ctrl.Sessions()
	if n < 1 || n > len(sessions) {
		return chat.Session{}, false
	}
	return sessions[n-1], true
}
