package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/croptalk-api/internal/models"
)

// ErrUserNotFound is returned when the user record does not exist.
var ErrUserNotFound = errors.New("user not found")

// UserRepository reads display identities and the friendship graph.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	ListFriendIDs(ctx context.Context, userID string) ([]string, error)
	CountFriends(ctx context.Context, userID string) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	var edges []models.Friendship
	err := r.db.WithContext(ctx).
		Where("status = ? AND (user_id = ? OR friend_id = ?)", models.FriendshipAccepted, userID, userID).
		Find(&edges).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(edges))
	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		other := edge.FriendID
		if other == userID {
			other = edge.UserID
		}
		if other == "" || other == userID {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids, nil
}

func (r *userRepository) CountFriends(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("status = ? AND (user_id = ? OR friend_id = ?)", models.FriendshipAccepted, userID, userID).
		Count(&count).Error
	return count, err
}
