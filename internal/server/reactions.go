package server

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/stats"
	"github.com/npezzotti/chatrelay/internal/types"
)

// AddReaction sets the caller's reaction on a message and redelivers the
// updated message to its original audience. A user holds at most one
// reaction per message; a new emoji replaces the previous one.
func (cs *ChatServer) AddReaction(ctx context.Context, c *Client, req AddReaction) (*types.Message, error) {
	user, ok := cs.registry.Identity(c.id)
	if !ok {
		return nil, ErrUnauthenticated
	}

	id := strings.TrimSpace(req.MessageId)
	emoji := strings.TrimSpace(req.Emoji)
	if id == "" || emoji == "" {
		return nil, ErrInvalidReaction
	}

	// Read-modify-write of the reaction list must not interleave for a message.
	lock := cs.reactionLock(id)
	lock.Lock()
	defer lock.Unlock()

	stored, err := cs.db.FindMessageById(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		cs.log.Printf("FindMessageById %q: %v", id, err)
		return nil, persistenceError("failed to add reaction", err)
	}

	if stored.IsDeleted {
		return nil, ErrNotFound
	}

	msg := toTypesMessage(stored)
	msg.Reactions = mergeReaction(msg.Reactions, types.Reaction{
		Emoji:    emoji,
		UserId:   user.Id,
		Username: user.Username,
	})
	msg.UpdatedAt = Now()

	if err := cs.db.UpdateMessageReactions(ctx, id, toDbReactions(msg.Reactions), msg.UpdatedAt); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		cs.log.Printf("UpdateMessageReactions %q: %v", id, err)
		return nil, persistenceError("failed to add reaction", err)
	}
	cs.stats.Incr(stats.NumReactions)

	cs.deliver(msg)
	return &msg, nil
}

// mergeReaction drops any existing reaction by r's user and appends r.
func mergeReaction(reactions []types.Reaction, r types.Reaction) []types.Reaction {
	merged := make([]types.Reaction, 0, len(reactions)+1)
	for _, existing := range reactions {
		if existing.Username == r.Username {
			continue
		}
		merged = append(merged, existing)
	}
	return append(merged, r)
}
