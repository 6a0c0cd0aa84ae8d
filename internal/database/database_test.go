package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMessageQueryNormalize(t *testing.T) {
	q := MessageQuery{Room: "global"}.normalize()
	assert.Equal(t, defaultHistoryLimit, q.Limit, "expected default limit to be applied")
	assert.False(t, q.Before.IsZero(), "expected before to default to now")

	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q = MessageQuery{Room: "global", Limit: 5, Before: before}.normalize()
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, before, q.Before)
}

func Test_messageFilter(t *testing.T) {
	before := time.Now()

	t.Run("room only", func(t *testing.T) {
		f := messageFilter(MessageQuery{Room: "global", Before: before})
		assert.Equal(t, false, f["isDeleted"])
		assert.Equal(t, bson.M{"$lt": before}, f["createdAt"])
		assert.Equal(t, bson.A{bson.M{"room": "global"}}, f["$or"])
	})

	t.Run("room or participant", func(t *testing.T) {
		f := messageFilter(MessageQuery{Room: "global", Participant: "alice", Before: before})
		assert.Equal(t, bson.A{
			bson.M{"room": "global"},
			bson.M{"sender.username": "alice"},
			bson.M{"receiver.username": "alice"},
		}, f["$or"])
	})
}

func Test_encodeReactions(t *testing.T) {
	raw, err := encodeReactions(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw), "expected nil reactions to encode as an empty array")

	raw, err = encodeReactions([]Reaction{{Emoji: "👍", UserId: "1", Username: "alice"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"emoji":"👍","userId":"1","username":"alice"}]`, string(raw))
}

func TestMemoryChatRepository(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	db := NewMemoryChatRepository()
	msgs := []Message{
		{Id: "1", Room: "global", Content: "one", Sender: Participant{Username: "bob"}, CreatedAt: base},
		{Id: "2", Room: "private_alice_carol", Content: "two", Sender: Participant{Username: "carol"},
			Receiver: &Participant{Username: "alice"}, CreatedAt: base.Add(time.Second)},
		{Id: "3", Room: "private_bob_carol", Content: "three", Sender: Participant{Username: "bob"},
			Receiver: &Participant{Username: "carol"}, CreatedAt: base.Add(2 * time.Second)},
		{Id: "4", Room: "global", Content: "four", Sender: Participant{Username: "carol"}, CreatedAt: base.Add(3 * time.Second), IsDeleted: true},
		{Id: "5", Room: "global", Content: "five", Sender: Participant{Username: "alice"}, CreatedAt: base.Add(4 * time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, db.InsertMessage(ctx, m))
	}

	t.Run("finds room and participant messages oldest first", func(t *testing.T) {
		got, err := db.FindMessages(ctx, MessageQuery{Room: "global", Participant: "alice", Before: base.Add(time.Hour)})
		require.NoError(t, err)

		ids := make([]string, len(got))
		for i, m := range got {
			ids[i] = m.Id
		}
		assert.Equal(t, []string{"1", "2", "5"}, ids)
	})

	t.Run("applies limit to the newest messages", func(t *testing.T) {
		got, err := db.FindMessages(ctx, MessageQuery{Room: "global", Participant: "alice", Before: base.Add(time.Hour), Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "2", got[0].Id)
		assert.Equal(t, "5", got[1].Id)
	})

	t.Run("find by id", func(t *testing.T) {
		got, err := db.FindMessageById(ctx, "3")
		require.NoError(t, err)
		assert.Equal(t, "three", got.Content)

		_, err = db.FindMessageById(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update reactions", func(t *testing.T) {
		reactions := []Reaction{{Emoji: "🎉", Username: "bob"}}
		require.NoError(t, db.UpdateMessageReactions(ctx, "1", reactions, base.Add(time.Minute)))

		got, err := db.FindMessageById(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, reactions, got.Reactions)
		assert.Equal(t, base.Add(time.Minute), got.UpdatedAt)

		err = db.UpdateMessageReactions(ctx, "missing", reactions, base)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert and offline", func(t *testing.T) {
		u, err := db.UpsertUser(ctx, "alice", base)
		require.NoError(t, err)
		assert.True(t, u.Online)

		again, err := db.UpsertUser(ctx, "alice", base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, u.Id, again.Id, "expected upsert to keep the user id")

		require.NoError(t, db.SetUserOffline(ctx, "alice", base.Add(2*time.Minute)))
		stored, ok := db.User("alice")
		require.True(t, ok)
		assert.False(t, stored.Online)
		assert.Equal(t, base.Add(2*time.Minute), stored.LastSeen)
	})
}
