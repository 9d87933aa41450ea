package domain

import "time"

type MessageID string

// Message is the stored representation echoed back to channel members.
// ID and CreatedAt are assigned by the message store.
type Message struct {
	ID        MessageID  `json:"id"`
	Channel   ChannelID  `json:"channel"`
	Author    UserID     `json:"author"`
	Content   string     `json:"content"`
	ReplyTo   *MessageID `json:"replyTo,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
