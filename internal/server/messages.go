package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-livechat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a client. Exactly one event field is
// expected to be set.
type ClientMessage struct {
	BaseMessage
	Online      *Online        `json:"online,omitempty"`
	Offline     *Offline       `json:"offline,omitempty"`
	JoinRoom    *JoinRoom      `json:"join_room,omitempty"`
	LeaveRoom   *LeaveRoom     `json:"leave_room,omitempty"`
	Publish     *Publish       `json:"publish,omitempty"`
	JoinDirect  *JoinDirect    `json:"join_direct,omitempty"`
	LeaveDirect *LeaveDirect   `json:"leave_direct,omitempty"`
	Direct      *DirectPublish `json:"direct,omitempty"`
}

// kind names the event carried by the message, or "" if none is set.
func (m *ClientMessage) kind() string {
	switch {
	case m.Online != nil:
		return "online"
	case m.Offline != nil:
		return "offline"
	case m.JoinRoom != nil:
		return "join_room"
	case m.LeaveRoom != nil:
		return "leave_room"
	case m.Publish != nil:
		return "publish"
	case m.JoinDirect != nil:
		return "join_direct"
	case m.LeaveDirect != nil:
		return "leave_direct"
	case m.Direct != nil:
		return "direct"
	}
	return ""
}

type Online struct {
	UserId int `json:"user_id" validate:"gt=0"`
}

type Offline struct {
	UserId int `json:"user_id"`
}

type JoinRoom struct {
	RoomName string `json:"room_name" validate:"required"`
	Password string `json:"password,omitempty"`
}

type LeaveRoom struct {
	RoomName string `json:"room_name" validate:"required"`
}

type Publish struct {
	RoomId      int    `json:"room_id" validate:"gt=0"`
	UserId      int    `json:"user_id" validate:"gt=0"`
	Username    string `json:"username" validate:"required"`
	Content     string `json:"content" validate:"required"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text image file audio video"`
	RoomName    string `json:"room_name" validate:"required"`
}

type JoinDirect struct {
	Channel string `json:"channel" validate:"required"`
}

type LeaveDirect struct {
	Channel string `json:"channel" validate:"required"`
}

type DirectPublish struct {
	SenderId       int    `json:"sender_id" validate:"gt=0"`
	ReceiverId     int    `json:"receiver_id" validate:"gt=0,nefield=SenderId"`
	Content        string `json:"content" validate:"required"`
	SenderUsername string `json:"sender_username" validate:"required"`
	MessageType    string `json:"message_type" validate:"omitempty,oneof=text image file audio video"`
}

type ServerMessage struct {
	BaseMessage
	Response      *Response            `json:"response,omitempty"`
	RoomMessage   *types.RoomMessage   `json:"room_message,omitempty"`
	DirectMessage *types.DirectMessage `json:"direct_message,omitempty"`
	Notification  *Notification        `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	OnlineUsers *OnlineUsers `json:"online_users,omitempty"`
	RoomEntry   *RoomEntry   `json:"room_entry,omitempty"`
	RoomDeleted *RoomDeleted `json:"room_deleted,omitempty"`
}

type OnlineUsers struct {
	Users []types.OnlineUser `json:"users"`
}

type RoomEntry struct {
	RoomId   int              `json:"room_id"`
	RoomName string           `json:"room_name"`
	User     types.OnlineUser `json:"user"`
}

type RoomDeleted struct {
	RoomId   int    `json:"room_id"`
	RoomName string `json:"room_name"`
}

func newServerMessage(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: http.StatusOK,
		Data:         data,
	}
	return msg
}

func ErrServiceUnavailable(id int) *ServerMessage {
	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: http.StatusServiceUnavailable,
		Error:        "service unavailable",
	}
	return msg
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newServerMessage(max(id, 0))
	msg.Response = &Response{
		ResponseCode: http.StatusBadRequest,
		Error:        "invalid message format",
	}
	return msg
}

// ErrResponse converts a failed event into the response sent back to the
// connection that produced it.
func ErrResponse(id int, err error) *ServerMessage {
	code := http.StatusInternalServerError
	text := "internal server error"

	switch {
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrPasswordRequired):
		code, text = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrInvalidCredentials):
		code, text = http.StatusUnauthorized, err.Error()
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotAMember), errors.Is(err, ErrUnidentified):
		code, text = http.StatusForbidden, err.Error()
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrUserNotFound):
		code, text = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrTimeout):
		code, text = http.StatusGatewayTimeout, ErrTimeout.Error()
	case errors.Is(err, context.Canceled):
		return ErrServiceUnavailable(id)
	case errors.Is(err, ErrMissingPassword):
		text = ErrMissingPassword.Error()
	}

	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: code,
		Error:        text,
	}
	return msg
}

func presenceMessage(users []types.OnlineUser) *ServerMessage {
	msg := newServerMessage(0)
	msg.Notification = &Notification{
		OnlineUsers: &OnlineUsers{Users: users},
	}
	return msg
}

func roomEntryMessage(roomId int, roomName string, user types.User) *ServerMessage {
	msg := newServerMessage(0)
	msg.Notification = &Notification{
		RoomEntry: &RoomEntry{
			RoomId:   roomId,
			RoomName: roomName,
			User:     types.OnlineUser{Id: user.Id, Username: user.Username},
		},
	}
	return msg
}

func roomDeletedMessage(roomId int, roomName string) *ServerMessage {
	msg := newServerMessage(0)
	msg.Notification = &Notification{
		RoomDeleted: &RoomDeleted{RoomId: roomId, RoomName: roomName},
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
