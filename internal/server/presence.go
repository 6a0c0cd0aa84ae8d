package server

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/stats"
	"github.com/npezzotti/chatrelay/internal/types"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 20
)

type LoginResult struct {
	User     types.User      `json:"user"`
	Messages []types.Message `json:"messages"`
}

func validateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if n := utf8.RuneCountInString(name); n < minUsernameLen || n > maxUsernameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

// Login authenticates the connection under username. Every store call happens
// before the registry is touched, so a failed login leaves it unchanged.
func (cs *ChatServer) Login(ctx context.Context, c *Client, username string) (*LoginResult, error) {
	name, err := validateUsername(username)
	if err != nil {
		return nil, err
	}

	if _, ok := cs.registry.Identity(c.id); ok {
		return nil, ErrAlreadyLoggedIn
	}

	if _, ok := cs.registry.LookupByName(name); ok {
		return nil, ErrNameTaken
	}

	now := Now()
	dbUser, err := cs.db.UpsertUser(ctx, name, now)
	if err != nil {
		cs.log.Printf("UpsertUser %q: %v", name, err)
		return nil, persistenceError("failed to log in", err)
	}

	history, err := cs.db.FindMessages(ctx, database.MessageQuery{
		Room:        cs.cfg.DefaultRoom,
		Participant: name,
		Limit:       cs.cfg.HistoryLimit,
	})
	if err != nil {
		cs.log.Printf("FindMessages for %q: %v", name, err)
		return nil, persistenceError("failed to load messages", err)
	}

	user := types.User{
		Id:       dbUser.Id,
		Username: name,
		Online:   true,
		LastSeen: now,
	}
	if err := cs.registry.Register(c, user); err != nil {
		return nil, err
	}
	cs.registry.JoinRoom(c.id, cs.cfg.DefaultRoom)
	cs.stats.Incr(stats.NumOnlineUsers)

	onlineCount := cs.registry.Count()
	cs.log.Printf("user %q logged in on %q, %d online", name, c.id, onlineCount)

	cs.router.BroadcastToAll(notification(&Notification{
		UserJoined: &PresenceChange{
			DisplayName: name,
			OnlineCount: onlineCount,
			Timestamp:   now,
		},
	}), c)

	cs.router.Unicast(c, notification(&Notification{
		RoomUsers: &RoomUsers{
			Room:  cs.cfg.DefaultRoom,
			Users: cs.registry.AllNames(),
		},
	}))

	return &LoginResult{
		User:     user,
		Messages: toTypesMessages(history),
	}, nil
}

// Disconnect runs the departure transition for c. It is a no-op for
// connections that never logged in or were already disconnected. The name
// stays claimed until the offline state is stored, so a new login for it
// cannot be overwritten by this departure.
func (cs *ChatServer) Disconnect(c *Client) {
	user, ok := cs.registry.Identity(c.id)
	if !ok {
		cs.typing.stop(c.id)
		return
	}

	if target, ok := cs.typing.stop(c.id); ok {
		cs.announceTyping(c, user.Username, target, false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := Now()
	if err := cs.db.SetUserOffline(ctx, user.Username, now); err != nil {
		cs.log.Printf("SetUserOffline %q: %v", user.Username, err)
	}

	if _, ok := cs.registry.Unregister(c.id); !ok {
		return
	}
	cs.stats.Decr(stats.NumOnlineUsers)

	onlineCount := cs.registry.Count()
	cs.log.Printf("user %q disconnected from %q, %d online", user.Username, c.id, onlineCount)

	cs.router.BroadcastToAll(notification(&Notification{
		UserLeft: &PresenceChange{
			DisplayName: user.Username,
			OnlineCount: onlineCount,
			Timestamp:   now,
		},
	}), c)
}
