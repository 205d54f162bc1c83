package data

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store errors callers branch on.
var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrDuplicateEmail       = errors.New("profile with this email already exists")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrServerNotFound       = errors.New("server not found")
)

// Profile maps to the profiles collection. Email is the natural key; ID is the
// value carried in the user_id token claim.
type Profile struct {
	ID        int64     `bson:"_id" json:"id"`
	Email     string    `bson:"email" json:"email"`
	FirstName string    `bson:"first_name" json:"first_name"`
	LastName  string    `bson:"last_name" json:"last_name"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// DisplayName is the name shown as a message sender.
func (p *Profile) DisplayName() string {
	if p.FirstName != "" {
		return p.FirstName
	}
	return p.Email
}

// NewProfile is the input for CreateProfile.
type NewProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Conversation maps to the conversations collection, one per channel id.
type Conversation struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	ChannelID string        `bson:"channel_id"`
	CreatedAt time.Time     `bson:"created_at"`
}

// Message maps to the messages collection. SenderID is nil once the sending
// profile has been deleted.
type Message struct {
	ID             int64         `bson:"_id"`
	ConversationID bson.ObjectID `bson:"conversation_id"`
	SenderID       *int64        `bson:"sender_id"`
	Content        string        `bson:"content"`
	Timestamp      time.Time     `bson:"timestamp"`
}

// MessageView is a message joined with its sender's display name, the shape
// served by the message listing endpoints.
type MessageView struct {
	ID        int64     `json:"id"`
	Sender    *string   `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel is a named room inside a Server.
type Channel struct {
	Name    string `bson:"name" json:"name"`
	Topic   string `bson:"topic" json:"topic"`
	OwnerID int64  `bson:"owner_id" json:"owner_id"`
}

// Server groups channels under a category. IconKey and BannerKey are object
// keys in the media bucket.
type Server struct {
	ID          int64     `bson:"_id" json:"id"`
	Name        string    `bson:"name" json:"name"`
	OwnerID     int64     `bson:"owner_id" json:"owner_id"`
	Category    string    `bson:"category" json:"category"`
	Description string    `bson:"description" json:"description"`
	MemberIDs   []int64   `bson:"member_ids" json:"-"`
	IconKey     string    `bson:"icon_key,omitempty" json:"icon,omitempty"`
	BannerKey   string    `bson:"banner_key,omitempty" json:"banner_img,omitempty"`
	Channels    []Channel `bson:"channels" json:"channel_server"`
	NumMembers  *int      `bson:"-" json:"num_members,omitempty"`
}

// ServerFilter selects servers for ListServers. Zero values mean "no filter".
type ServerFilter struct {
	Category       string
	MemberID       int64
	ServerID       int64
	Limit          int64
	WithNumMembers bool
}
