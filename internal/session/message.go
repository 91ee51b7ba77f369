package session

import (
	"time"

	"github.com/google/uuid"
)

// Sender tags who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message represents a single entry of the conversation. Messages are never
// modified after they are appended.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	// Failed marks a bot message that carries a transport error instead of a reply.
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
