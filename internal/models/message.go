package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReactionCounts maps a reaction kind to the number of users expressing it.
type ReactionCounts map[string]int

// ReactedUsers maps a reaction kind to the users expressing it.
type ReactedUsers map[string][]string

// Message is a community post. Content is immutable after creation; reactions
// change only through the versioned conditional update in the repository.
type Message struct {
	ID              string                             `gorm:"primaryKey;size:36;index:idx_messages_created_id,priority:2" json:"id"`
	Content         string                             `gorm:"type:text" json:"content"`
	AuthorID        string                             `gorm:"size:64;index" json:"author_id"`
	AuthorName      string                             `gorm:"size:128" json:"author_name"`
	AuthorEmail     string                             `gorm:"size:255" json:"author_email"`
	AuthorAvatarURL string                             `gorm:"size:512" json:"author_avatar_url"`
	ImageURL        string                             `gorm:"size:512" json:"image_url"`
	Latitude        *float64                           `json:"latitude,omitempty"`
	Longitude       *float64                           `json:"longitude,omitempty"`
	Reactions       datatypes.JSONType[ReactionCounts] `json:"reactions"`
	ReactedUsers    datatypes.JSONType[ReactedUsers]   `gorm:"column:reacted_users" json:"reacted_users"`
	Version         int64                              `gorm:"not null;default:0" json:"version"`
	CreatedAt       time.Time                          `gorm:"index:idx_messages_created_id,priority:1" json:"created_at"`
	UpdatedAt       time.Time                          `json:"updated_at"`
	Replies         []Reply                            `gorm:"foreignKey:MessageID" json:"replies"`
}

// Reply is appended to a message and never edited.
type Reply struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	MessageID  string    `gorm:"size:36;index;not null" json:"message_id"`
	AuthorID   string    `gorm:"size:64;index" json:"author_id"`
	AuthorName string    `gorm:"size:128" json:"author_name"`
	Content    string    `gorm:"type:text" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasLocation reports whether both coordinates were captured.
func (m Message) HasLocation() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// ReactionState extracts the aggregate for kind.
func (m Message) ReactionState(kind ReactionKind) ReactionState {
	counts := m.Reactions.Data()
	users := m.ReactedUsers.Data()

	reactors := append([]string(nil), users[string(kind)]...)
	return ReactionState{
		Kind:     kind,
		Count:    counts[string(kind)],
		Reactors: reactors,
	}
}

// ReactionColumns returns copies of the stored maps with state applied.
func (m Message) ReactionColumns(state ReactionState) (ReactionCounts, ReactedUsers) {
	counts := ReactionCounts{}
	for kind, count := range m.Reactions.Data() {
		counts[kind] = count
	}
	users := ReactedUsers{}
	for kind, reactors := range m.ReactedUsers.Data() {
		users[kind] = append([]string(nil), reactors...)
	}

	counts[string(state.Kind)] = state.Count
	users[string(state.Kind)] = append([]string{}, state.Reactors...)
	return counts, users
}
