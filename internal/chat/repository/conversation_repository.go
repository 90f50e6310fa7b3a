package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type conversationDocument struct {
	ID        string    `bson:"_id"`
	IsGroup   bool      `bson:"is_group"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d conversationDocument) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:        d.ID,
		IsGroup:   d.IsGroup,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type membershipDocument struct {
	ConversationID string    `bson:"conversation_id"`
	UserID         string    `bson:"user_id"`
	JoinedAt       time.Time `bson:"joined_at"`
}

type conversationRepository struct {
	conversations *mongo.Collection
	members       *mongo.Collection
}

// NewMongoConversationRepository create a ConversationRepository
func NewMongoConversationRepository(db *mongo.Database) ConversationRepository {
	return &conversationRepository{
		conversations: db.Collection("conversations"),
		members:       db.Collection("conversation_members"),
	}
}

// ListConversationIDsForUser 查詢使用者參與的所有對話
func (r *conversationRepository) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	values, err := r.members.Distinct(ctx, "conversation_id", bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("distinct conversation_id error: %w", err)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *conversationRepository) FindConversations(ctx context.Context, ids []string) ([]domain.Conversation, error) {
	if len(ids) == 0 {
		return []domain.Conversation{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.conversations.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations error: %w", err)
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cursor All error: %w", err)
	}
	out := make([]domain.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *conversationRepository) FindConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var doc conversationDocument
	err := r.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := doc.toDomain()
	return &c, nil
}

func (r *conversationRepository) CreateConversation(ctx context.Context, isGroup bool) (*domain.Conversation, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := conversationDocument{
		ID:        uuid.NewString(),
		IsGroup:   isGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := r.conversations.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	c := doc.toDomain()
	return &c, nil
}

// InsertMemberships 一次寫入所有成員
func (r *conversationRepository) InsertMemberships(ctx context.Context, conversationID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	docs := make([]interface{}, 0, len(userIDs))
	for _, id := range userIDs {
		docs = append(docs, membershipDocument{ConversationID: conversationID, UserID: id, JoinedAt: now})
	}
	_, err := r.members.InsertMany(ctx, docs)
	return err
}

func (r *conversationRepository) ListMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "user_id", Value: 1}})
	cur, err := r.members.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []membershipDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.UserID)
	}
	return ids, nil
}

// TouchConversation $max keeps updated_at non-decreasing
func (r *conversationRepository) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	update := bson.M{"$max": bson.M{"updated_at": at.UTC().Truncate(time.Millisecond)}}
	res, err := r.conversations.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
