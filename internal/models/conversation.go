package models

import "time"

type Conversation struct {
	ID          int64     `json:"id"`
	DefaultName string    `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Membership links one user to one conversation. CustomName overrides the
// conversation's default name for this user only.
type Membership struct {
	UserID         int64   `json:"userId"`
	ConversationID int64   `json:"conversationId"`
	CustomName     *string `json:"customName,omitempty"`
}

// ConversationSummary is the per-user listing row: the display name already
// resolved and the latest digest addressed to the requesting identity.
type ConversationSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	LastDigest string `json:"lastDigest"`
}
