package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/stats"
	"github.com/npezzotti/chatrelay/internal/types"
)

// SendMessage stores a text message and delivers it to its room or to the
// sender and receiver of a private conversation.
func (cs *ChatServer) SendMessage(ctx context.Context, c *Client, req Send) (*types.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	return cs.relay(ctx, c, types.Message{
		Content:     content,
		MessageType: types.MessageTypeText,
	}, req.Room, req.Receiver)
}

// SendFile stores a file message. The payload is carried inline as base64.
func (cs *ChatServer) SendFile(ctx context.Context, c *Client, req FileUpload) (*types.Message, error) {
	maxEncoded := int64(base64.StdEncoding.EncodedLen(int(cs.cfg.MaxFileSize)))
	if req.FileSize > cs.cfg.MaxFileSize || int64(len(req.Data)) > maxEncoded {
		return nil, fileTooLarge(cs.cfg.MaxFileSize)
	}

	name := strings.TrimSpace(req.FileName)
	if name == "" || req.FileSize < 0 || req.Data == "" {
		return nil, ErrInvalidFile
	}

	return cs.relay(ctx, c, types.Message{
		Content:     fmt.Sprintf("Shared file: %s", name),
		MessageType: types.MessageTypeFile,
		FileData: &types.FileData{
			FileName: name,
			FileType: req.FileType,
			FileSize: req.FileSize,
			Data:     req.Data,
		},
	}, req.Room, req.Receiver)
}

func (cs *ChatServer) relay(ctx context.Context, c *Client, msg types.Message, room string, receiver *Recipient) (*types.Message, error) {
	sender, ok := cs.registry.Identity(c.id)
	if !ok {
		return nil, ErrUnauthenticated
	}

	msg.Sender = types.Participant{
		Username: sender.Username,
		UserId:   sender.Id,
	}

	if receiver != nil && strings.TrimSpace(receiver.Username) != "" {
		name, err := validateUsername(receiver.Username)
		if err != nil {
			return nil, ErrInvalidReceiver
		}
		msg.Receiver = &types.Participant{Username: name}
		if u, ok := cs.registry.IdentityByName(name); ok {
			msg.Receiver.UserId = u.Id
		}
		msg.Room = PrivateRoomId(sender.Username, name)
	} else {
		msg.Room = strings.TrimSpace(room)
		if msg.Room == "" {
			msg.Room = cs.cfg.DefaultRoom
		}
	}

	now := Now()
	msg.Id = uuid.NewString()
	msg.Reactions = []types.Reaction{}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	if err := cs.db.InsertMessage(ctx, toDbMessage(msg)); err != nil {
		cs.log.Printf("InsertMessage from %q: %v", sender.Username, err)
		return nil, persistenceError("failed to send message", err)
	}
	cs.stats.Incr(stats.NumMessages)

	n := cs.deliver(msg)
	cs.log.Printf("message %q from %q delivered to %d connections in %q", msg.Id, sender.Username, n, msg.Room)

	return &msg, nil
}

// deliver sends msg to the same audience it was originally addressed to.
func (cs *ChatServer) deliver(msg types.Message) int {
	ev := messageReceive(msg)
	if msg.IsPrivate() {
		return cs.router.DeliverPrivate(msg.Room, ev, msg.Receiver.Username, msg.Sender.Username)
	}
	return cs.router.BroadcastToRoom(msg.Room, ev, nil)
}

func toDbMessage(m types.Message) database.Message {
	msg := database.Message{
		Id:          m.Id,
		Content:     m.Content,
		Sender:      database.Participant(m.Sender),
		Room:        m.Room,
		MessageType: m.MessageType,
		Reactions:   make([]database.Reaction, 0, len(m.Reactions)),
		IsDeleted:   m.IsDeleted,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	if m.Receiver != nil {
		r := database.Participant(*m.Receiver)
		msg.Receiver = &r
	}

	if m.FileData != nil {
		fd := database.FileData(*m.FileData)
		msg.FileData = &fd
	}

	for _, r := range m.Reactions {
		msg.Reactions = append(msg.Reactions, database.Reaction(r))
	}

	return msg
}

func toTypesMessage(m database.Message) types.Message {
	msg := types.Message{
		Id:          m.Id,
		Content:     m.Content,
		Sender:      types.Participant(m.Sender),
		Room:        m.Room,
		MessageType: m.MessageType,
		Reactions:   toTypesReactions(m.Reactions),
		IsDeleted:   m.IsDeleted,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	if m.Receiver != nil {
		r := types.Participant(*m.Receiver)
		msg.Receiver = &r
	}

	if m.FileData != nil {
		fd := types.FileData(*m.FileData)
		msg.FileData = &fd
	}

	return msg
}

func toTypesMessages(msgs []database.Message) []types.Message {
	res := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, toTypesMessage(m))
	}
	return res
}

func toTypesReactions(rs []database.Reaction) []types.Reaction {
	res := make([]types.Reaction, 0, len(rs))
	for _, r := range rs {
		res = append(res, types.Reaction(r))
	}
	return res
}

func toDbReactions(rs []types.Reaction) []database.Reaction {
	res := make([]database.Reaction, 0, len(rs))
	for _, r := range rs {
		res = append(res, database.Reaction(r))
	}
	return res
}
