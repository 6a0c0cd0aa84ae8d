package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

const messageColumns = "id, room, content, message_type, sender_username, sender_user_id, " +
	"receiver_username, receiver_user_id, file_name, file_type, file_size, file_data, " +
	"reactions, is_deleted, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg              Message
		receiverUsername sql.NullString
		receiverUserId   sql.NullString
		fileName         sql.NullString
		fileType         sql.NullString
		fileSize         sql.NullInt64
		fileData         sql.NullString
		rawReactions     []byte
	)

	err := row.Scan(
		&msg.Id,
		&msg.Room,
		&msg.Content,
		&msg.MessageType,
		&msg.Sender.Username,
		&msg.Sender.UserId,
		&receiverUsername,
		&receiverUserId,
		&fileName,
		&fileType,
		&fileSize,
		&fileData,
		&rawReactions,
		&msg.IsDeleted,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if receiverUsername.Valid {
		msg.Receiver = &Participant{
			Username: receiverUsername.String,
			UserId:   receiverUserId.String,
		}
	}

	if fileName.Valid {
		msg.FileData = &FileData{
			FileName: fileName.String,
			FileType: fileType.String,
			FileSize: fileSize.Int64,
			Data:     fileData.String,
		}
	}

	msg.Reactions = make([]Reaction, 0)
	if len(rawReactions) > 0 {
		if err := json.Unmarshal(rawReactions, &msg.Reactions); err != nil {
			return Message{}, fmt.Errorf("decode reactions: %w", err)
		}
	}

	return msg, nil
}

// encodeReactions returns the jsonb text for reactions. lib/pq sends []byte
// parameters as bytea, so callers pass the result as a string.
func encodeReactions(reactions []Reaction) ([]byte, error) {
	if reactions == nil {
		reactions = []Reaction{}
	}
	return json.Marshal(reactions)
}

func (db *PgChatRepository) InsertMessage(ctx context.Context, msg Message) error {
	reactions, err := encodeReactions(msg.Reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}

	var receiverUsername, receiverUserId sql.NullString
	if msg.Receiver != nil {
		receiverUsername = sql.NullString{String: msg.Receiver.Username, Valid: true}
		receiverUserId = sql.NullString{String: msg.Receiver.UserId, Valid: msg.Receiver.UserId != ""}
	}

	var (
		fileName, fileType, fileData sql.NullString
		fileSize                     sql.NullInt64
	)
	if msg.FileData != nil {
		fileName = sql.NullString{String: msg.FileData.FileName, Valid: true}
		fileType = sql.NullString{String: msg.FileData.FileType, Valid: true}
		fileSize = sql.NullInt64{Int64: msg.FileData.FileSize, Valid: true}
		fileData = sql.NullString{String: msg.FileData.Data, Valid: true}
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)",
		msg.Id,
		msg.Room,
		msg.Content,
		msg.MessageType,
		msg.Sender.Username,
		msg.Sender.UserId,
		receiverUsername,
		receiverUserId,
		fileName,
		fileType,
		fileSize,
		fileData,
		string(reactions),
		msg.IsDeleted,
		msg.CreatedAt,
		msg.UpdatedAt,
	)

	return err
}

func (db *PgChatRepository) FindMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	q = q.normalize()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE is_deleted = FALSE AND created_at < $3 "+
			"AND (room = $1 OR ($2::text <> '' AND (sender_username = $2 OR receiver_username = $2))) "+
			"ORDER BY created_at DESC LIMIT $4",
		q.Room,
		q.Participant,
		q.Before,
		q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, q.Limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

func (db *PgChatRepository) FindMessageById(ctx context.Context, id string) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	return msg, err
}

func (db *PgChatRepository) UpdateMessageReactions(ctx context.Context, id string, reactions []Reaction, updatedAt time.Time) error {
	raw, err := encodeReactions(reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET reactions = $2, updated_at = $3 WHERE id = $1",
		id,
		string(raw),
		updatedAt,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgChatRepository) UpsertUser(ctx context.Context, username string, seenAt time.Time) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (username, online, last_seen, created_at, updated_at) "+
			"VALUES ($1, TRUE, $2, $2, $2) "+
			"ON CONFLICT (username) DO UPDATE SET online = TRUE, last_seen = EXCLUDED.last_seen, updated_at = EXCLUDED.updated_at "+
			"RETURNING id::text, username, online, last_seen, created_at, updated_at",
		username,
		seenAt,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.Online,
		&u.LastSeen,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) SetUserOffline(ctx context.Context, username string, lastSeen time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET online = FALSE, last_seen = $2, updated_at = $2 WHERE username = $1",
		username,
		lastSeen,
	)

	return err
}
