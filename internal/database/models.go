package database

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	DefaultMessageType = "text"
	DefaultPageSize    = 50
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Room struct {
	Id              int
	Name            string
	Description     string
	IsPrivate       bool
	PasswordHash    string
	CreatorId       int
	CreatorUsername string
	CreatedAt       time.Time
}

// HasPassword reports whether a password hash is stored for the room.
func (r Room) HasPassword() bool {
	return r.PasswordHash != ""
}

type RoomMessage struct {
	Id          int
	RoomId      int
	UserId      int
	Username    string
	Content     string
	MessageType string
	CreatedAt   time.Time
}

type DirectMessage struct {
	Id          int
	SenderId    int
	ReceiverId  int
	Content     string
	MessageType string
	CreatedAt   time.Time
}

// Conversation is the latest message exchanged with one counterpart.
type Conversation struct {
	ContactId       int
	ContactUsername string
	LastMessage     string
	LastMessageType string
	LastMessageTime time.Time
	SenderId        int
}

type CreateUserParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name         string
	Description  string
	CreatorId    int
	IsPrivate    bool
	PasswordHash string
}

type UpdateRoomParams struct {
	RoomId       int
	Name         string
	Description  string
	IsPrivate    bool
	PasswordHash string
}

type CreateRoomMessageParams struct {
	RoomId      int
	UserId      int
	Username    string
	Content     string
	MessageType string
}

type CreateDirectMessageParams struct {
	SenderId    int
	ReceiverId  int
	Content     string
	MessageType string
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func messageType(t string) string {
	if t == "" {
		return DefaultMessageType
	}
	return t
}
