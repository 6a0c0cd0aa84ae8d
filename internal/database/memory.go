package database

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MemoryChatRepository keeps everything in process memory. It is meant for
// local development and tests; nothing survives a restart.
type MemoryChatRepository struct {
	mu       sync.RWMutex
	messages []Message
	byId     map[string]int
	users    map[string]User
	nextUser int
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		byId:  make(map[string]int),
		users: make(map[string]User),
	}
}

func (db *MemoryChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (db *MemoryChatRepository) Close() error {
	return nil
}

func copyMessage(m Message) Message {
	m.Reactions = slices.Clone(m.Reactions)
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
	if m.Receiver != nil {
		r := *m.Receiver
		m.Receiver = &r
	}
	if m.FileData != nil {
		f := *m.FileData
		m.FileData = &f
	}
	return m
}

func (db *MemoryChatRepository) InsertMessage(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.byId[msg.Id] = len(db.messages)
	db.messages = append(db.messages, copyMessage(msg))
	return nil
}

func (db *MemoryChatRepository) FindMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q = q.normalize()

	db.mu.RLock()
	defer db.mu.RUnlock()

	var matched []Message
	for i := len(db.messages) - 1; i >= 0 && len(matched) < q.Limit; i-- {
		m := db.messages[i]
		if m.IsDeleted || !m.CreatedAt.Before(q.Before) {
			continue
		}

		if m.Room == q.Room || (q.Participant != "" &&
			(m.Sender.Username == q.Participant || (m.Receiver != nil && m.Receiver.Username == q.Participant))) {
			matched = append(matched, copyMessage(m))
		}
	}

	slices.Reverse(matched)
	if matched == nil {
		matched = []Message{}
	}
	return matched, nil
}

func (db *MemoryChatRepository) FindMessageById(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	i, ok := db.byId[id]
	if !ok {
		return Message{}, ErrNotFound
	}

	return copyMessage(db.messages[i]), nil
}

func (db *MemoryChatRepository) UpdateMessageReactions(ctx context.Context, id string, reactions []Reaction, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	i, ok := db.byId[id]
	if !ok {
		return ErrNotFound
	}

	db.messages[i].Reactions = slices.Clone(reactions)
	db.messages[i].UpdatedAt = updatedAt
	return nil
}

func (db *MemoryChatRepository) UpsertUser(ctx context.Context, username string, seenAt time.Time) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[username]
	if !ok {
		db.nextUser++
		u = User{
			Id:        strconv.Itoa(db.nextUser),
			Username:  username,
			CreatedAt: seenAt,
		}
	}

	u.Online = true
	u.LastSeen = seenAt
	u.UpdatedAt = seenAt
	db.users[username] = u

	return u, nil
}

func (db *MemoryChatRepository) SetUserOffline(ctx context.Context, username string, lastSeen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if u, ok := db.users[username]; ok {
		u.Online = false
		u.LastSeen = lastSeen
		u.UpdatedAt = lastSeen
		db.users[username] = u
	}

	return nil
}

// User returns the stored record for username.
func (db *MemoryChatRepository) User(username string) (User, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[username]
	return u, ok
}

// MessageCount returns the number of stored messages.
func (db *MemoryChatRepository) MessageCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.messages)
}
