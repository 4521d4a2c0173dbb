package database

import (
	"gorm.io/gorm"

	"github.com/noah-isme/croptalk-api/internal/models"
)

// Migrate creates or updates the community schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.Friendship{}, &models.Message{}, &models.Reply{})
}
