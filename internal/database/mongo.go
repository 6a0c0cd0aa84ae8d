package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	messagesCollection = "messages"
	usersCollection    = "users"
)

// MongoChatRepository stores messages and users as documents, one collection each.
type MongoChatRepository struct {
	client   *mongo.Client
	messages *mongo.Collection
	users    *mongo.Collection
}

func NewMongoChatRepository(ctx context.Context, uri, dbName string) (*MongoChatRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(dbName)
	repo := &MongoChatRepository{
		client:   client,
		messages: db.Collection(messagesCollection),
		users:    db.Collection(usersCollection),
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return repo, nil
}

func (db *MongoChatRepository) ensureIndexes(ctx context.Context) error {
	_, err := db.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "sender.username", Value: 1}, {Key: "receiver.username", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	_, err = db.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create user index: %w", err)
	}

	return nil
}

func (db *MongoChatRepository) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, readpref.Primary())
}

func (db *MongoChatRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.client.Disconnect(ctx)
}

func (db *MongoChatRepository) InsertMessage(ctx context.Context, msg Message) error {
	if msg.Reactions == nil {
		msg.Reactions = []Reaction{}
	}

	_, err := db.messages.InsertOne(ctx, msg)
	return err
}

// messageFilter matches q.Room or, when set, any message sent by or to q.Participant.
func messageFilter(q MessageQuery) bson.M {
	or := bson.A{bson.M{"room": q.Room}}
	if q.Participant != "" {
		or = append(or,
			bson.M{"sender.username": q.Participant},
			bson.M{"receiver.username": q.Participant},
		)
	}

	return bson.M{
		"isDeleted": false,
		"createdAt": bson.M{"$lt": q.Before},
		"$or":       or,
	}
}

func (db *MongoChatRepository) FindMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	q = q.normalize()

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(q.Limit))

	cur, err := db.messages.Find(ctx, messageFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	messages := make([]Message, 0, q.Limit)
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

func (db *MongoChatRepository) FindMessageById(ctx context.Context, id string) (Message, error) {
	var msg Message
	err := db.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, ErrNotFound
	}

	return msg, err
}

func (db *MongoChatRepository) UpdateMessageReactions(ctx context.Context, id string, reactions []Reaction, updatedAt time.Time) error {
	if reactions == nil {
		reactions = []Reaction{}
	}

	res, err := db.messages.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"reactions": reactions, "updatedAt": updatedAt}},
	)
	if err != nil {
		return err
	}

	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *MongoChatRepository) UpsertUser(ctx context.Context, username string, seenAt time.Time) (User, error) {
	update := bson.M{
		"$set": bson.M{
			"online":    true,
			"lastSeen":  seenAt,
			"updatedAt": seenAt,
		},
		"$setOnInsert": bson.M{
			"_id":       primitive.NewObjectID().Hex(),
			"createdAt": seenAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var u User
	if err := db.users.FindOneAndUpdate(ctx, bson.M{"username": username}, update, opts).Decode(&u); err != nil {
		return User{}, err
	}

	return u, nil
}

func (db *MongoChatRepository) SetUserOffline(ctx context.Context, username string, lastSeen time.Time) error {
	_, err := db.users.UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"online": false, "lastSeen": lastSeen, "updatedAt": lastSeen}},
	)

	return err
}
