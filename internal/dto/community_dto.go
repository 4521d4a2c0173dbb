package dto

import (
	"time"

	"github.com/noah-isme/croptalk-api/internal/models"
)

// FeedEventNewMessage is the event type pushed to live subscribers.
const FeedEventNewMessage = "newMessage"

// LocationPayload is an optional geotag attached to a post.
type LocationPayload struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// MessageAttachments groups the optional references a post may carry.
type MessageAttachments struct {
	ImageURL string           `json:"image_url" validate:"omitempty,url,max=512"`
	Location *LocationPayload `json:"location" validate:"omitempty"`
}

// MessageCreateRequest is the payload for posting to the community feed.
type MessageCreateRequest struct {
	Content     string              `json:"content" validate:"max=4000"`
	Attachments *MessageAttachments `json:"attachments" validate:"omitempty"`
}

// ImageURL returns the attached image reference, if any.
func (r MessageCreateRequest) ImageURL() string {
	if r.Attachments == nil {
		return ""
	}
	return r.Attachments.ImageURL
}

// Location returns the attached geotag, if any.
func (r MessageCreateRequest) Location() *LocationPayload {
	if r.Attachments == nil {
		return nil
	}
	return r.Attachments.Location
}

// ReplyCreateRequest is the payload for replying to a message.
type ReplyCreateRequest struct {
	Content string `json:"content" validate:"required,min=1,max=2000"`
}

// ReactionRequest toggles a reaction on a message.
type ReactionRequest struct {
	Kind   string `json:"kind" validate:"required,max=32"`
	Intent string `json:"intent" validate:"required,max=32"`
}

// FeedQuery filters the community feed. Since and SinceID together resume
// after the last message of a previous page; without Limit the whole
// remaining feed is returned.
type FeedQuery struct {
	Since   *time.Time `query:"since"`
	SinceID string     `query:"since_id" validate:"omitempty,max=64"`
	Limit   int        `query:"limit" validate:"omitempty,min=1,max=500"`
}

// AuthorResponse is the display identity attached to a message.
type AuthorResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Resolved  bool   `json:"resolved"`
}

// LocationResponse mirrors LocationPayload on the way out.
type LocationResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ReplyResponse is a serialized reply.
type ReplyResponse struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// EnrichedMessage is a message joined with its author identity and the
// viewer's reaction membership.
type EnrichedMessage struct {
	ID               string              `json:"id"`
	Content          string              `json:"content"`
	ImageURL         string              `json:"image_url,omitempty"`
	Location         *LocationResponse   `json:"location,omitempty"`
	Author           AuthorResponse      `json:"author"`
	Reactions        map[string]int      `json:"reactions"`
	ReactedUsers     map[string][]string `json:"reacted_users"`
	ViewerHasReacted map[string]bool     `json:"viewer_has_reacted"`
	Replies          []ReplyResponse     `json:"replies"`
	CreatedAt        time.Time           `json:"created_at"`
}

// ReactionStateResponse is the authoritative aggregate for one kind.
type ReactionStateResponse struct {
	MessageID        string   `json:"message_id"`
	Kind             string   `json:"kind"`
	Count            int      `json:"count"`
	Reactors         []string `json:"reactors"`
	ViewerHasReacted bool     `json:"viewer_has_reacted"`
}

// ReactionToggleResponse wraps the reaction state returned by the toggle endpoint.
type ReactionToggleResponse struct {
	Reactions ReactionStateResponse `json:"reactions"`
}

// FeedPage is one slice of the feed. HasMore is set when Limit cut it short.
type FeedPage struct {
	Messages []EnrichedMessage
	HasMore  bool
}

// FeedResponse wraps the feed listing.
type FeedResponse struct {
	Messages []EnrichedMessage `json:"messages"`
}

// MessageEnvelope wraps a single message.
type MessageEnvelope struct {
	Message EnrichedMessage `json:"message"`
}

// ReplyEnvelope wraps a single reply.
type ReplyEnvelope struct {
	Reply ReplyResponse `json:"reply"`
}

// FeedEvent is the frame delivered to live subscribers.
type FeedEvent struct {
	Type string          `json:"type"`
	Data EnrichedMessage `json:"data"`
}

// NewReplyResponse converts a reply model into a DTO.
func NewReplyResponse(model models.Reply) ReplyResponse {
	return ReplyResponse{
		ID:         model.ID,
		MessageID:  model.MessageID,
		AuthorID:   model.AuthorID,
		AuthorName: model.AuthorName,
		Content:    model.Content,
		CreatedAt:  model.CreatedAt,
	}
}

// NewReplyResponseSlice converts replies into DTOs.
func NewReplyResponseSlice(items []models.Reply) []ReplyResponse {
	out := make([]ReplyResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewReplyResponse(item))
	}
	return out
}

// NewReactionStateResponse builds the response for a reaction toggle.
func NewReactionStateResponse(messageID, viewerID string, state models.ReactionState) ReactionStateResponse {
	reactors := state.Reactors
	if reactors == nil {
		reactors = []string{}
	}
	return ReactionStateResponse{
		MessageID:        messageID,
		Kind:             string(state.Kind),
		Count:            state.Count,
		Reactors:         reactors,
		ViewerHasReacted: viewerID != "" && state.Has(viewerID),
	}
}

// NewEnrichedMessage joins a message with its author and the viewer's reaction flags.
func NewEnrichedMessage(message models.Message, author AuthorResponse, viewerID string) EnrichedMessage {
	out := EnrichedMessage{
		ID:               message.ID,
		Content:          message.Content,
		ImageURL:         message.ImageURL,
		Author:           author,
		Reactions:        make(map[string]int, len(models.ReactionKinds)),
		ReactedUsers:     make(map[string][]string, len(models.ReactionKinds)),
		ViewerHasReacted: make(map[string]bool, len(models.ReactionKinds)),
		Replies:          NewReplyResponseSlice(message.Replies),
		CreatedAt:        message.CreatedAt,
	}

	if message.HasLocation() {
		out.Location = &LocationResponse{Latitude: *message.Latitude, Longitude: *message.Longitude}
	}

	for _, kind := range models.ReactionKinds {
		state := message.ReactionState(kind).Normalize()
		reactors := state.Reactors
		if reactors == nil {
			reactors = []string{}
		}
		out.Reactions[string(kind)] = state.Count
		out.ReactedUsers[string(kind)] = reactors
		out.ViewerHasReacted[string(kind)] = viewerID != "" && state.Has(viewerID)
	}

	return out
}
