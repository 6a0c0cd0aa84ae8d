package server

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/types"
)

const (
	privateRoomPrefix    = "private_"
	privateRoomSeparator = "_"
)

// PrivateRoomId derives the room shared by two users. Both sides compute the
// same id regardless of who starts the conversation.
func PrivateRoomId(a, b string) string {
	names := []string{a, b}
	slices.Sort(names)
	return privateRoomPrefix + strings.Join(names, privateRoomSeparator)
}

func IsPrivateRoom(room string) bool {
	return strings.HasPrefix(room, privateRoomPrefix)
}

// JoinRoom adds the connection to room and sends it the room's member list.
func (cs *ChatServer) JoinRoom(c *Client, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrInvalidRoom
	}

	if err := cs.registry.JoinRoom(c.id, room); err != nil {
		return err
	}

	cs.log.Printf("client %q joined room %q", c.id, room)
	cs.router.Unicast(c, notification(&Notification{
		RoomUsers: &RoomUsers{
			Room:  room,
			Users: cs.registry.MemberNames(room),
		},
	}))

	return nil
}

func (cs *ChatServer) LeaveRoom(c *Client, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrInvalidRoom
	}

	if err := cs.registry.LeaveRoom(c.id, room); err != nil {
		return err
	}

	cs.log.Printf("client %q left room %q", c.id, room)
	return nil
}

// RoomHistory returns up to limit messages posted to room before the given
// time, oldest first. Private rooms are not readable this way.
func (cs *ChatServer) RoomHistory(ctx context.Context, room string, before time.Time, limit int) ([]types.Message, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, ErrInvalidRoom
	}

	if IsPrivateRoom(room) {
		return nil, ErrNotFound
	}

	if limit <= 0 || limit > cs.cfg.HistoryLimit {
		limit = cs.cfg.HistoryLimit
	}

	msgs, err := cs.db.FindMessages(ctx, database.MessageQuery{
		Room:   room,
		Before: before,
		Limit:  limit,
	})
	if err != nil {
		cs.log.Printf("FindMessages for room %q: %v", room, err)
		return nil, persistenceError("failed to load messages", err)
	}

	return toTypesMessages(msgs), nil
}

// Ping reports whether the message store is reachable.
func (cs *ChatServer) Ping(ctx context.Context) error {
	return cs.db.Ping(ctx)
}
