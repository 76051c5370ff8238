package delivery

import (
	"context"
	"sync"

	"kassa/internal/log"
)

// Message is one delivered text.
type Message struct {
	ChatID int64
	Text   string
}

// MemorySender keeps every message in memory. Used in tests and local runs.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
	// Fail, when set, is consulted before a message is recorded.
	Fail     func(chatID int64, attempt int) error
	attempts map[int64]int
}

func NewMemorySender() *MemorySender {
	return &MemorySender{attempts: make(map[int64]int)}
}

func (m *MemorySender) Send(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[chatID]++
	if m.Fail != nil {
		if err := m.Fail(chatID, m.attempts[chatID]); err != nil {
			return err
		}
	}
	m.messages = append(m.messages, Message{ChatID: chatID, Text: text})
	return nil
}

// Messages returns a copy of what was delivered so far.
func (m *MemorySender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Attempts returns how many sends were tried for chatID.
func (m *MemorySender) Attempts(chatID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[chatID]
}

// LogSender writes messages to the log instead of a chat. It stands in for
// the Telegram sender when no bot token is configured.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) Send(ctx context.Context, chatID int64, text string) error {
	s.Logger.InfoContext(ctx, "Notification (log only)",
		log.FieldChatID, chatID,
		"length", len([]rune(text)))
	return nil
}
