package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Role         string    `json:"role,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// OnlineUser is the projection of a presence entry sent in
// online users notifications.
type OnlineUser struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
}

type Room struct {
	Id              int       `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	IsPrivate       bool      `json:"is_private"`
	CreatorId       int       `json:"creator_id"`
	CreatorUsername string    `json:"creator_username,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

type RoomMessage struct {
	Id          int       `json:"id"`
	RoomId      int       `json:"room_id"`
	UserId      int       `json:"user_id"`
	Username    string    `json:"username"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
	SenderId    int       `json:"sender_id"`
}

type DirectMessage struct {
	Id             int       `json:"id"`
	SenderId       int       `json:"sender_id"`
	ReceiverId     int       `json:"receiver_id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type"`
	CreatedAt      time.Time `json:"created_at"`
	SenderUsername string    `json:"sender_username,omitempty"`
}

type Conversation struct {
	ContactId       int       `json:"contact_id"`
	ContactUsername string    `json:"contact_username"`
	LastMessage     string    `json:"last_message"`
	LastMessageType string    `json:"last_message_type"`
	LastMessageTime time.Time `json:"last_message_time"`
	SenderId        int       `json:"sender_id"`
}
