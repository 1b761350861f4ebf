package models

import "time"

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	SentAt         time.Time `json:"sentAt"`
}

// Digest is an opaque encrypted payload addressed to exactly one recipient:
// either a user (password-key identity) or a device, never both.
type Digest struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"messageId"`
	Contents  string `json:"contents"`
	UserID    *int64 `json:"userId,omitempty"`
	DeviceID  *int64 `json:"deviceId,omitempty"`
}

// MessageView is one row of a conversation's history as returned to a
// client: the sender's username plus that client's own digest.
type MessageView struct {
	Sender string `json:"sender"`
	Digest string `json:"digest"`
	Time   int64  `json:"time"`
}
