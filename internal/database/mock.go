package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) InsertMessage(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockChatRepository) FindMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	args := m.Called(ctx, q)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) FindMessageById(ctx context.Context, id string) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageReactions(ctx context.Context, id string, reactions []Reaction, updatedAt time.Time) error {
	args := m.Called(ctx, id, reactions, updatedAt)
	return args.Error(0)
}
func (m *MockChatRepository) UpsertUser(ctx context.Context, username string, seenAt time.Time) (User, error) {
	args := m.Called(ctx, username, seenAt)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SetUserOffline(ctx context.Context, username string, lastSeen time.Time) error {
	args := m.Called(ctx, username, lastSeen)
	return args.Error(0)
}
