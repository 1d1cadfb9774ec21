package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation log. While InProgress, Content is
// replaced in place by copies that keep ID and CreatedAt.
type Message struct {
	ID           uuid.UUID `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	GenerationID uint64    `json:"generation_id,omitempty"`
	InProgress   bool      `json:"in_progress,omitempty"`
}

func newMessage(role Role, content string) Message {
	return Message{ID: uuid.New(), Role: role, Content: content, CreatedAt: time.Now()}
}
