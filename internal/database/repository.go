package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error
	InsertMessage(ctx context.Context, msg Message) error
	FindMessages(ctx context.Context, q MessageQuery) ([]Message, error)
	FindMessageById(ctx context.Context, id string) (Message, error)
	UpdateMessageReactions(ctx context.Context, id string, reactions []Reaction, updatedAt time.Time) error
	UpsertUser(ctx context.Context, username string, seenAt time.Time) (User, error)
	SetUserOffline(ctx context.Context, username string, lastSeen time.Time) error
}
