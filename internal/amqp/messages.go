package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Notification kinds.
const (
	KindDailyStats = "daily_stats"
	KindReminder   = "reminder"
)

// NotificationMessage carries one already-rendered chunk of text to a chat.
// The delivery worker sends it as is.
type NotificationMessage struct {
	ChatID    int64     `json:"chat_id"`
	Text      string    `json:"text"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// NewNotificationMessage creates a message stamped with the current time
func NewNotificationMessage(chatID int64, text, kind string) *NotificationMessage {
	return &NotificationMessage{
		ChatID:    chatID,
		Text:      text,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationMessageFromJSON decodes and validates a message
func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ChatID == 0 {
		return nil, errors.New("notification message without chat_id")
	}
	if msg.Text == "" {
		return nil, errors.New("notification message without text")
	}
	return &msg, nil
}
