package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/meiatef066/chat-talk/internal/apperr"
	"github.com/meiatef066/chat-talk/internal/models"
)

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	r := &MessageRepository{coll: db.Collection("messages")}
	_, _ = r.coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: -1}},
		Options: options.Index().SetUnique(true).SetName("conversation_seq_idx"),
	})
	return r
}

func (r *MessageRepository) Insert(ctx context.Context, m *models.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.coll.InsertOne(ctx, m)
	return err
}

// Get scopes the lookup by conversation: a message id that exists but belongs
// to a different conversation is NotFound to the caller.
func (r *MessageRepository) Get(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var m models.Message
	filter := bson.M{"_id": messageID, "conversation_id": conversationID}
	if err := r.coll.FindOne(ctx, filter).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) UpdateBody(ctx context.Context, conversationID, messageID, body string, at time.Time) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res := r.coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": messageID, "conversation_id": conversationID},
		bson.M{"$set": bson.M{"body": body, "edited": true, "updated_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var m models.Message
	if err := res.Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Delete is a hard delete. The single FindOneAndDelete makes a race with a
// concurrent edit or read-mark resolve to one winner: either this call
// removes the row, or it reports NotFound because the row is already gone.
func (r *MessageRepository) Delete(ctx context.Context, conversationID, messageID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := r.coll.FindOneAndDelete(ctx, bson.M{"_id": messageID, "conversation_id": conversationID}).Err()
	if err == mongo.ErrNoDocuments {
		return apperr.ErrNotFound
	}
	return err
}

// History returns messages newest first, ordered by the conversation
// sequence rather than wall-clock time.
func (r *MessageRepository) History(ctx context.Context, conversationID string, offset, limit int64) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetSkip(offset).
		SetLimit(limit)
	cur, err := r.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

// CountUnread counts messages past the member's read watermark that were
// sent by somebody else.
func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, userID string, afterSeq int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	filter := bson.M{
		"conversation_id": conversationID,
		"seq":             bson.M{"$gt": afterSeq},
		"sender_id":       bson.M{"$ne": userID},
	}
	return r.coll.CountDocuments(ctx, filter)
}

func (r *MessageRepository) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) DeleteByConversation(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.coll.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return err
}
