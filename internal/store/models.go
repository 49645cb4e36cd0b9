package store

import "time"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindSystem:
		return true
	}
	return false
}

type RoomKind string

const (
	RoomGeneral RoomKind = "general"
	RoomAdmin   RoomKind = "admin"
	RoomPrivate RoomKind = "private"
)

func (k RoomKind) Valid() bool {
	switch k {
	case RoomGeneral, RoomAdmin, RoomPrivate:
		return true
	}
	return false
}

type UserStatus string

const (
	StatusAvailable UserStatus = "available"
	StatusBusy      UserStatus = "busy"
	StatusAway      UserStatus = "away"
	StatusOffline   UserStatus = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusAway, StatusOffline:
		return true
	}
	return false
}

type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`
}

type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId,omitempty"` // empty for records written before rooms were tracked
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	SenderRole Role        `json:"senderRole"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"type"`
	CreatedAt  time.Time   `json:"timestamp"`
	IsRead     bool        `json:"isRead"`
	ReplyTo    string      `json:"replyTo,omitempty"`
	// Reactions maps an emoji to the ids of the users who reacted with it.
	Reactions   map[string][]string `json:"reactions"`
	Edited      bool                `json:"edited,omitempty"`
	EditedAt    *time.Time          `json:"editedAt,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
}

// InRoom reports whether m belongs to roomID. Messages without a room match
// every room.
func (m *Message) InRoom(roomID string) bool {
	return roomID == "" || m.RoomID == "" || m.RoomID == roomID
}

type RoomSettings struct {
	AllowFiles  bool `json:"allowFiles"`
	AllowImages bool `json:"allowImages"`
	AdminOnly   bool `json:"adminOnly"`
}

// LastMessage is the snapshot a room keeps of its most recent message.
type LastMessage struct {
	ID         string    `json:"id"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
}

type Room struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Kind         RoomKind     `json:"type"`
	Participants []string     `json:"participants"`
	CreatedBy    string       `json:"createdBy"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	IsActive     bool         `json:"isActive"`
	Settings     RoomSettings `json:"settings"`
}

// HasParticipant reports whether userID is in the room's participant set.
func (r *Room) HasParticipant(userID string) bool {
	for _, id := range r.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatUser is a presence record. It is separate from the authenticated
// identity and survives across sessions.
type ChatUser struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Role          Role       `json:"role"`
	IsOnline      bool       `json:"isOnline"`
	LastSeen      time.Time  `json:"lastSeen"`
	Status        UserStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
}

type TypingIndicator struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

type Stats struct {
	TotalMessages    int `json:"totalMessages"`
	TotalRooms       int `json:"totalRooms"`
	OnlineUsers      int `json:"onlineUsers"`
	MessagesLastWeek int `json:"messagesLastWeek"`
}

type NotificationMetadata struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

type Notification struct {
	Type        string               `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	RecipientID string               `json:"recipientId"`
	Metadata    NotificationMetadata `json:"metadata"`
}
