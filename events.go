package hublink

import "time"

// Message is a chat message as pushed by the hub.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

// ConversationUpdate notifies the participants of a conversation that its
// content has changed.
type ConversationUpdate struct {
	ConversationID string    `json:"conversationId"`
	LastMessageID  string    `json:"lastMessageId"`
	UnreadCount    int       `json:"unreadCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TypingSignal tells the recipient that the sender is composing a message.
type TypingSignal struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	At        time.Time `json:"at"`
}

// SendReceipt acknowledges that the hub has accepted a message for delivery.
// Queued does not imply the recipient has seen the message.
type SendReceipt struct {
	Queued bool `json:"queued"`
}
