// Package store implements the Thread Store: durable per-conversation
// metadata keyed by conversation ID. The loop configuration is carried as an
// opaque JSON blob in the "loop" field — the store never interprets it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation has no stored metadata.
var ErrNotFound = errors.New("conversation not found")

// Metadata is the persisted record for one conversation.
type Metadata struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title,omitempty"`
	Workspace      string          `json:"workspace,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Loop           json.RawMessage `json:"loop,omitempty"`
}

// Patch describes a partial metadata update. Nil fields are left unchanged;
// a Loop of JSON null clears the loop configuration.
type Patch struct {
	Title     *string
	Workspace *string
	Loop      json.RawMessage
}

// ThreadStore is the persistence interface consumed by the loop manager and
// the gateway.
type ThreadStore interface {
	// GetMetadata returns the metadata for a conversation, or ErrNotFound.
	GetMetadata(ctx context.Context, id string) (*Metadata, error)

	// SaveMetadata inserts or replaces a full metadata record.
	SaveMetadata(ctx context.Context, md *Metadata) error

	// UpdateMetadata applies a partial update and returns the new record.
	// Returns ErrNotFound if the conversation does not exist.
	UpdateMetadata(ctx context.Context, id string, patch Patch) (*Metadata, error)

	// List returns all conversations.
	List(ctx context.Context) ([]*Metadata, error)

	// Delete removes a conversation's metadata.
	Delete(ctx context.Context, id string) error

	Close() error
}

// isNullJSON reports whether raw is the JSON null literal.
func isNullJSON(raw json.RawMessage) bool {
	return string(raw) == "null"
}
