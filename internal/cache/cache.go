// Package cache defines the optional local persistence layer. The SDK keeps
// working without it; when configured, processed conversations and events are
// mirrored to disk so an embedding application can render history offline.
package cache

import (
	"context"
	"time"
)

// Conversation is the cached shape of a conversation.
type Conversation struct {
	ID             string
	Name           string
	DisplayName    string
	SequenceNumber int64
	UpdatedAt      time.Time
}

// Event is the cached shape of one event-log entry.
type Event struct {
	ID             int64
	ConversationID string
	Type           string
	From           string
	Body           []byte
	Timestamp      time.Time
}

// Cache persists conversations and their event logs.
type Cache interface {
	UpsertConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AppendEvent(ctx context.Context, ev *Event) error
	ListEvents(ctx context.Context, conversationID string, limit int) ([]*Event, error)
	Close() error
}
