package telegram

import (
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram rejects longer message texts.
const maxMessageRunes = 4096

// replyTracker keeps one Telegram message in sync with a streaming answer.
// Intermediate edits are rate limited; the final text is always written.
type replyTracker struct {
	s         sender
	chatID    int64
	messageID int
	parseMode string
	limiter   *rate.Limiter

	mu   sync.Mutex
	sent string
}

func newReplyTracker(s sender, chatID int64, messageID int, every time.Duration, parseMode string) *replyTracker {
	return &replyTracker{
		s:         s,
		chatID:    chatID,
		messageID: messageID,
		parseMode: parseMode,
		limiter:   rate.NewLimiter(rate.Every(every), 1),
	}
}

func (r *replyTracker) update(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == "" || clip(text) == r.sent || !r.limiter.Allow() {
		return
	}
	r.editLocked(text)
}

func (r *replyTracker) finish(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.editLocked(text)
}

func (r *replyTracker) editLocked(text string) {
	text = clip(text)
	if text == "" || text == r.sent {
		return
	}
	edit := tgbotapi.NewEditMessageText(r.chatID, r.messageID, text)
	edit.ParseMode = r.parseMode
	if _, err := r.s.Send(edit); err != nil {
		log.Printf("⚠️ Failed to update reply message: %v", err)
		return
	}
	r.sent = text
}

func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageRunes {
		return text
	}
	return string(runes[:maxMessageRunes-1]) + "…"
}
