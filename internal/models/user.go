package models

import "time"

// FriendshipAccepted marks an established relationship.
const FriendshipAccepted = "accepted"

// User is the display identity owned by the account service. This service only reads it.
type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Username  string    `gorm:"size:128" json:"username"`
	Email     string    `gorm:"size:255;index" json:"email"`
	AvatarURL string    `gorm:"size:512" json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName falls back to the e-mail address when no username is set.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// Friendship is an edge of the social graph. Either endpoint may appear in UserID.
type Friendship struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;index;not null" json:"user_id"`
	FriendID  string    `gorm:"size:64;index;not null" json:"friend_id"`
	Status    string    `gorm:"size:32;not null;default:pending" json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
