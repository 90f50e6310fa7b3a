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

// messageDocument messages collection row
type messageDocument struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
	Read           bool      `bson:"read"`
}

func (d messageDocument) toDomain() domain.Message {
	return domain.Message{
		ID:             domain.PersistedID(d.ID),
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		CreatedAt:      d.CreatedAt,
		Read:           d.Read,
		Status:         domain.MessageSent,
	}
}

type chatMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoChatMessageRepository create a MessageRepository
func NewMongoChatMessageRepository(db *mongo.Database) MessageRepository {
	return &chatMessageRepository{
		coll: db.Collection("messages"),
	}
}

// ListMessages 依 created_at 升序取出整個對話的訊息
func (r *chatMessageRepository) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages error: %w", err)
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cursor All error: %w", err)
	}
	messages := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, d.toDomain())
	}
	return messages, nil
}

// InsertMessage 寫入一筆聊天訊息，id 與 created_at 由伺服器產生
func (r *chatMessageRepository) InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	doc := messageDocument{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		// mongo keeps millisecond precision
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	m := doc.toDomain()
	return &m, nil
}

func (r *chatMessageRepository) LatestMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var doc messageDocument
	err := r.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := doc.toDomain()
	return &m, nil
}

// CountUnread 計算非自己發送且未讀的訊息數
func (r *chatMessageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	n, err := r.coll.CountDocuments(ctx, unreadFilter(conversationID, userID))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *chatMessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error) {
	res, err := r.coll.UpdateMany(ctx, unreadFilter(conversationID, readerID), bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (r *chatMessageRepository) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	filter := bson.M{"_id": messageID, "conversation_id": conversationID}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func unreadFilter(conversationID, userID string) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": userID},
		"read":            false,
	}
}
