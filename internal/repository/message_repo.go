package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/croptalk-api/internal/models"
)

var (
	// ErrMessageNotFound is returned when the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrVersionConflict is returned when a conditional update lost the race
	// against a concurrent writer.
	ErrVersionConflict = errors.New("message version conflict")
)

// MessageFeedFilter narrows a feed scan. Since and SinceID form an exclusive
// (created_at, id) cursor; SinceID is ignored without Since. A zero Limit
// scans to the end of the feed.
type MessageFeedFilter struct {
	AuthorIDs []string
	Since     time.Time
	SinceID   string
	Limit     int
}

// MessageRepository persists community messages and their replies.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	Get(ctx context.Context, id string) (models.Message, error)
	ListFeed(ctx context.Context, filter MessageFeedFilter) ([]models.Message, error)
	UpdateReactions(ctx context.Context, id string, version int64, counts models.ReactionCounts, users models.ReactedUsers) error
	AppendReply(ctx context.Context, reply *models.Reply) error
}

type messageRepository struct {
	db  *gorm.DB
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, now: time.Now}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		message.ID = id.String()
	}

	if message.Reactions.Data() == nil {
		message.Reactions = datatypes.NewJSONType(models.ReactionCounts{})
	}
	if message.ReactedUsers.Data() == nil {
		message.ReactedUsers = datatypes.NewJSONType(models.ReactedUsers{})
	}
	message.Version = 0
	message.CreatedAt = r.stamp()
	message.UpdatedAt = message.CreatedAt

	return r.db.WithContext(ctx).Omit("Replies").Create(message).Error
}

func (r *messageRepository) Get(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Preload("Replies", orderReplies).
		Where("id = ?", id).
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) ListFeed(ctx context.Context, filter MessageFeedFilter) ([]models.Message, error) {
	query := r.db.WithContext(ctx).Model(&models.Message{}).Preload("Replies", orderReplies)
	if len(filter.AuthorIDs) > 0 {
		query = query.Where("author_id IN ?", filter.AuthorIDs)
	}
	if !filter.Since.IsZero() {
		since := filter.Since.UTC()
		if filter.SinceID != "" {
			query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", since, since, filter.SinceID)
		} else {
			query = query.Where("created_at > ?", since)
		}
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var messages []models.Message
	if err := query.Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

// UpdateReactions writes both reaction columns in one statement guarded by
// the version read by the caller.
func (r *messageRepository) UpdateReactions(ctx context.Context, id string, version int64, counts models.ReactionCounts, users models.ReactedUsers) error {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"reactions":     datatypes.NewJSONType(counts),
			"reacted_users": datatypes.NewJSONType(users),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrMessageNotFound
	}
	return ErrVersionConflict
}

func (r *messageRepository) AppendReply(ctx context.Context, reply *models.Reply) error {
	exists, err := r.exists(ctx, reply.MessageID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrMessageNotFound
	}

	if reply.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate reply id: %w", err)
		}
		reply.ID = id.String()
	}
	reply.CreatedAt = r.stamp()

	return r.db.WithContext(ctx).Create(reply).Error
}

func (r *messageRepository) exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// stamp hands out creation timestamps that never go backwards within this
// process, at the microsecond precision Postgres stores.
func (r *messageRepository) stamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC().Truncate(time.Microsecond)
	if !now.After(r.last) {
		now = r.last.Add(time.Microsecond)
	}
	r.last = now
	return now
}

func orderReplies(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}
