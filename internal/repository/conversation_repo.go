package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/meiatef066/chat-talk/internal/apperr"
	"github.com/meiatef066/chat-talk/internal/models"
)

// ConversationRepository owns the conversations and memberships collections.
// The per-conversation message sequence lives on the conversation document
// and is allocated with an atomic $inc, so two concurrent sends always get
// distinct, ordered values.
type ConversationRepository struct {
	convColl   *mongo.Collection
	memberColl *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	r := &ConversationRepository{
		convColl:   db.Collection("conversations"),
		memberColl: db.Collection("memberships"),
	}
	ctx := context.Background()
	_, _ = r.convColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("pair_key_idx").
			SetPartialFilterExpression(bson.M{"kind": models.KindPrivate}),
	})
	_, _ = r.memberColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("conversation_user_idx"),
	})
	return r
}

// PairKey canonicalizes a private conversation's member pair so lookups and
// the unique index agree regardless of argument order.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation, members []*models.Membership) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.convColl.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert conversation: %w", apperr.ErrAlreadyExists)
		}
		return err
	}
	docs := make([]interface{}, 0, len(members))
	for _, m := range members {
		docs = append(docs, m)
	}
	if len(docs) > 0 {
		if _, err := r.memberColl.InsertMany(ctx, docs); err != nil {
			// roll the conversation row back so no memberless conversation
			// survives a partial create
			if _, derr := r.convColl.DeleteOne(ctx, bson.M{"_id": conv.ID}); derr != nil {
				log.Error().Err(derr).Str("conversation", conv.ID).Msg("cleanup partial create")
			}
			return fmt.Errorf("insert memberships: %w", err)
		}
	}
	return nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c models.Conversation
	if err := r.convColl.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) FindPrivate(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c models.Conversation
	filter := bson.M{"kind": models.KindPrivate, "pair_key": PairKey(userA, userB)}
	if err := r.convColl.FindOne(ctx, filter).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// NextSeq atomically advances the conversation's sequence counter and
// returns the newly claimed value.
func (r *ConversationRepository) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res := r.convColl.FindOneAndUpdate(
		ctx,
		bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"last_seq": 1}, "$set": bson.M{"updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var c models.Conversation
	if err := res.Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, apperr.ErrNotFound
		}
		return 0, err
	}
	return c.LastSeq, nil
}

func (r *ConversationRepository) SetLastMessage(ctx context.Context, conversationID string, preview *models.MessagePreview) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{"last_message": preview, "updated_at": time.Now().UTC()}}
	if preview == nil {
		update = bson.M{
			"$unset": bson.M{"last_message": ""},
			"$set":   bson.M{"updated_at": time.Now().UTC()},
		}
	}
	_, err := r.convColl.UpdateByID(ctx, conversationID, update)
	return err
}

// Delete removes the conversation and cascades to its membership rows.
func (r *ConversationRepository) Delete(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.convColl.DeleteOne(ctx, bson.M{"_id": conversationID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperr.ErrNotFound
	}
	_, err = r.memberColl.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return err
}

func (r *ConversationRepository) Membership(ctx context.Context, conversationID, userID string) (*models.Membership, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var m models.Membership
	filter := bson.M{"conversation_id": conversationID, "user_id": userID}
	if err := r.memberColl.FindOne(ctx, filter).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *ConversationRepository) ActiveMembers(ctx context.Context, conversationID string) ([]*models.Membership, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	filter := bson.M{"conversation_id": conversationID, "status": models.StatusActive}
	cur, err := r.memberColl.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Membership{}
	for cur.Next(ctx) {
		var m models.Membership
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

// AdvanceReadSeq moves the member's read watermark forward. $max keeps it
// monotonic, which is what makes bulk read-marking idempotent.
func (r *ConversationRepository) AdvanceReadSeq(ctx context.Context, conversationID, userID string, seq int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	filter := bson.M{"conversation_id": conversationID, "user_id": userID}
	res, err := r.memberColl.UpdateOne(ctx, filter, bson.M{"$max": bson.M{"last_read_seq": seq}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) SetMemberStatus(ctx context.Context, conversationID, userID string, status models.MemberStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	set := bson.M{"status": status}
	if status == models.StatusLeft {
		now := time.Now().UTC()
		set["left_at"] = now
	}
	filter := bson.M{"conversation_id": conversationID, "user_id": userID}
	res, err := r.memberColl.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListForUser returns conversations where the user holds an ACTIVE
// membership, most recently updated first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"user_id": userID, "status": models.StatusActive}
	cur, err := r.memberColl.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for cur.Next(ctx) {
		var m models.Membership
		if err := cur.Decode(&m); err != nil {
			cur.Close(ctx)
			return nil, err
		}
		ids = append(ids, m.ConversationID)
	}
	cur.Close(ctx)
	if len(ids) == 0 {
		return []*models.Conversation{}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	ccur, err := r.convColl.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer ccur.Close(ctx)

	out := []*models.Conversation{}
	for ccur.Next(ctx) {
		var c models.Conversation
		if err := ccur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, ccur.Err()
}
