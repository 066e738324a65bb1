package chat

import (
	"time"

	"allfixer/agreement"
)

// Conversation is the aggregate tying two actors to their message feed and
// handshake state. Participants are stored sorted.
type Conversation struct {
	ID string
	agreement.Handshake
	LastMessage   string
	LastMessageAt time.Time
	Revision      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is an append-only entry in a conversation feed. Seq breaks ties
// between messages that share a timestamp.
type Message struct {
	ID             string
	Seq            int64
	ConversationID string
	Sender         string
	Text           string
	CreatedAt      time.Time
}
