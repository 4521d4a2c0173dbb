package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/croptalk-api/internal/database"
	"github.com/noah-isme/croptalk-api/internal/dto"
	"github.com/noah-isme/croptalk-api/internal/models"
	"github.com/noah-isme/croptalk-api/internal/repository"
)

type communityFixture struct {
	db       *gorm.DB
	messages repository.MessageRepository
	users    repository.UserRepository
}

func setupCommunity(t *testing.T) *communityFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.ConnectSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return &communityFixture{
		db:       db,
		messages: repository.NewMessageRepository(db),
		users:    repository.NewUserRepository(db),
	}
}

func (f *communityFixture) addUser(t *testing.T, id, username string) models.User {
	t.Helper()
	user := models.User{ID: id, Username: username, Email: id + "@example.com"}
	require.NoError(t, f.db.Create(&user).Error)
	return user
}

func (f *communityFixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Friendship{UserID: a, FriendID: b, Status: models.FriendshipAccepted}).Error)
}

func (f *communityFixture) addMessage(t *testing.T, authorID, content string) models.Message {
	t.Helper()
	message := models.Message{Content: content, AuthorID: authorID, AuthorName: authorID}
	require.NoError(t, f.messages.Create(context.Background(), &message))
	return message
}

// recordingBroadcaster captures published events and can be told to fail.
type recordingBroadcaster struct {
	events []dto.FeedEvent
	err    error
}

func (b *recordingBroadcaster) Publish(_ context.Context, _ string, event dto.FeedEvent) error {
	b.events = append(b.events, event)
	return b.err
}

func (b *recordingBroadcaster) Subscribe(string) (<-chan dto.FeedEvent, func()) {
	ch := make(chan dto.FeedEvent)
	return ch, func() {}
}

func (b *recordingBroadcaster) SubscriberCount(string) int { return 0 }

func (b *recordingBroadcaster) Start(context.Context) {}
